package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/kimhsiao/capturegallery/internal/errors"
	"github.com/kimhsiao/capturegallery/internal/logging"
)

// maxBodyBytes bounds request bodies; inline captures arrive as base64.
const maxBodyBytes = 96 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error APIError `json:"error"`
}

// APIError carries the error code and a readable message.
type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// StatusFor maps an error code to an HTTP status.
func StatusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrInvalid, apperrors.ErrInvalidPayload, apperrors.ErrNoValidSource:
		return http.StatusUnprocessableEntity
	case apperrors.ErrResolutionFailed, apperrors.ErrFileAccess:
		return http.StatusFailedDependency
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSONBody decodes and validates a request body. Bodies must be
// declared application/json, which browsers cannot send cross-origin without
// a preflight. Failures are returned as INVALID_INPUT with per-field details.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dest any) (map[string]string, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return nil, apperrors.New(apperrors.ErrUnsupportedMediaType, "request body must be application/json")
	}

	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer io.Copy(io.Discard, body)

	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err)
	}
	if err := validate.Struct(dest); err != nil {
		details := map[string]string{}
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				details[fe.Field()] = fmt.Sprintf("failed %q", fe.Tag())
			}
		}
		return details, apperrors.Wrap(apperrors.ErrInvalid, "validation failed", err)
	}
	return nil, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Warn("failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func writeError(w http.ResponseWriter, err error, details map[string]string) {
	code := apperrors.CodeOf(err)
	msg := err.Error()
	if code == apperrors.ErrInternal {
		msg = "internal error"
	}
	writeJSON(w, StatusFor(code), ErrorBody{Error: APIError{
		Code:    string(code),
		Message: msg,
		Details: details,
	}})
}
