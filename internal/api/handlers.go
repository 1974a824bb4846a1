package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ppiankov/credible/internal/model"
	"github.com/ppiankov/credible/internal/pipeline"
)

// submitRequest carries either inline base64 content or a URL to fetch
type submitRequest struct {
	ID          string `json:"id,omitempty" validate:"omitempty,max=128"`
	MediaKind   string `json:"media_kind,omitempty" validate:"omitempty,oneof=text image audio video"`
	ContentType string `json:"content_type,omitempty" validate:"omitempty,max=128"`
	Content     string `json:"content_base64,omitempty" validate:"required_without=URL,excluded_with=URL"`
	URL         string `json:"url,omitempty" validate:"omitempty,url"`
	EntityHint  string `json:"entity_hint,omitempty" validate:"omitempty,max=64,entity"`
	Source      string `json:"source,omitempty" validate:"omitempty,max=256"`
}

type identifierRequest struct {
	Kind  string `json:"kind" validate:"required"`
	Value string `json:"value" validate:"required,max=64"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmitDocument(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[submitRequest](w, r, s.maxBody)
	if err != nil {
		respondError(w, r, err)
		return
	}

	doc, err := s.documentFrom(r, req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	res, err := s.pipeline.Verify(r.Context(), doc)
	if err != nil {
		s.log.Warn().Err(err).Str("document", doc.ID).Msg("verification failed")
		respondError(w, r, err)
		return
	}
	respondOK(w, r, res)
}

func (s *Server) documentFrom(r *http.Request, req submitRequest) (model.Document, error) {
	var doc model.Document
	if req.URL != "" {
		if s.fetcher == nil {
			return doc, fmt.Errorf("%w: URL submission is not configured", errBadRequest)
		}
		fetched, err := s.fetcher.Fetch(r.Context(), req.URL, req.EntityHint)
		if err != nil {
			return doc, fetchError(err)
		}
		doc = fetched
	} else {
		content, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			return doc, fmt.Errorf("%w: content_base64: %v", model.ErrMalformedDocument, err)
		}
		kind, err := pipeline.MediaKindFor(req.ContentType)
		if err != nil {
			return doc, err
		}
		doc = model.Document{
			ID:          pipeline.DocumentID(content),
			MediaKind:   kind,
			ContentType: req.ContentType,
			Content:     content,
			Source:      "api",
			EntityHint:  req.EntityHint,
			ReceivedAt:  time.Now().UTC(),
		}
	}

	if req.MediaKind != "" {
		kind, err := model.ParseMediaKind(req.MediaKind)
		if err != nil {
			return doc, err
		}
		doc.MediaKind = kind
	}
	if req.ID != "" {
		doc.ID = req.ID
	}
	if req.Source != "" {
		doc.Source = req.Source
	}
	return doc, nil
}

// fetchError keeps client-attributable fetch failures and marks the rest as
// upstream failures
func fetchError(err error) error {
	switch {
	case errors.Is(err, pipeline.ErrRobotsDisallowed),
		errors.Is(err, model.ErrMalformedDocument),
		errors.Is(err, model.ErrUnsupportedMediaKind),
		errors.Is(err, errBadRequest):
		return err
	default:
		return fmt.Errorf("%w: %w", errUpstream, err)
	}
}

func (s *Server) handleLatestScore(w http.ResponseWriter, r *http.Request) {
	entity, err := model.NormalizeEntityID(chi.URLParam(r, "entity"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	var score model.CredibilityScore
	if v := r.URL.Query().Get("version"); v != "" {
		version, perr := strconv.Atoi(v)
		if perr != nil || version < 1 {
			respondError(w, r, fmt.Errorf("%w: version must be a positive integer", errBadRequest))
			return
		}
		score, err = s.vault.ScoreVersion(r.Context(), entity, version)
	} else {
		score, err = s.vault.LatestScore(r.Context(), entity)
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, r, score)
}

func (s *Server) handleScoreHistory(w http.ResponseWriter, r *http.Request) {
	entity, err := model.NormalizeEntityID(chi.URLParam(r, "entity"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	history, err := s.vault.ScoreHistory(r.Context(), entity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if len(history) == 0 {
		respondError(w, r, fmt.Errorf("score history for %s: %w", entity, model.ErrNotFound))
		return
	}
	respondOK(w, r, history)
}

func (s *Server) handleValidateIdentifier(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[identifierRequest](w, r, 4<<10)
	if err != nil {
		respondError(w, r, err)
		return
	}
	kind, err := model.ParseIdentifierKind(req.Kind)
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	respondOK(w, r, s.validator.Validate(r.Context(), kind, req.Value))
}

// handleRefreshRegistry reloads file-backed registries and drops cached lookups
func (s *Server) handleRefreshRegistry(w http.ResponseWriter, r *http.Request) {
	if err := s.validator.Refresh(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("registry refresh failed")
		respondError(w, r, err)
		return
	}
	respondOK(w, r, map[string]string{"status": "refreshed"})
}
