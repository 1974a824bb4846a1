package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/ppiankov/credible/internal/model"
)

var errBadRequest = errors.New("bad request")

// validationError lists the request fields that failed their constraints
type validationError struct {
	fields []string
}

func (e *validationError) Error() string {
	return "invalid request: " + strings.Join(e.fields, ", ")
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// report json names, not Go field names
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("entity", func(fl validator.FieldLevel) bool {
			_, err := model.NormalizeEntityID(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// decodeJSON reads one JSON object of type T from r and validates it
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, maxBytes int64) (T, error) {
	var out T
	body := io.Reader(r.Body)
	if maxBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return out, err
		}
		if errors.Is(err, io.EOF) {
			return out, fmt.Errorf("%w: empty body", errBadRequest)
		}
		return out, fmt.Errorf("%w: decode JSON: %v", errBadRequest, err)
	}
	if dec.More() {
		return out, fmt.Errorf("%w: body must contain a single JSON object", errBadRequest)
	}

	if err := requestValidator().Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return out, &validationError{fields: fields}
		}
		return out, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return out, nil
}
