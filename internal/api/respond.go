package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ppiankov/credible/internal/model"
	"github.com/ppiankov/credible/internal/pipeline"
	"github.com/ppiankov/credible/internal/vault"
)

// Envelope is the response body of every endpoint
type Envelope struct {
	Status    string   `json:"status"`
	Error     string   `json:"error,omitempty"`
	Fields    []string `json:"fields,omitempty"` // Failed request fields
	RequestID string   `json:"request_id,omitempty"`
	Data      any      `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondOK(w http.ResponseWriter, r *http.Request, data any) {
	writeJSON(w, http.StatusOK, Envelope{
		Status:    http.StatusText(http.StatusOK),
		RequestID: chimw.GetReqID(r.Context()),
		Data:      data,
	})
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	env := Envelope{
		Status:    http.StatusText(status),
		Error:     err.Error(),
		RequestID: chimw.GetReqID(r.Context()),
	}
	var verr *validationError
	if errors.As(err, &verr) {
		env.Fields = verr.fields
	}
	writeJSON(w, status, env)
}

// errUpstream marks failures of a remote document host
var errUpstream = errors.New("upstream fetch failed")

// StatusFor maps pipeline errors to HTTP status codes
func StatusFor(err error) int {
	var verr *validationError
	var mbe *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &verr), errors.Is(err, model.ErrMalformedDocument), errors.Is(err, errBadRequest),
		errors.Is(err, model.ErrInvalidEntityID):
		return http.StatusBadRequest
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, model.ErrUnsupportedMediaKind):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrRobotsDisallowed):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrTampered):
		return http.StatusConflict
	case errors.Is(err, errUpstream):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}
