package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/iota-uz/workshop/pkg/serrors"
)

// ErrorEnvelope standardizes JSON error responses for API namespaces.
type ErrorEnvelope struct {
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Meta    map[string]string `json:"meta,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	if w == nil {
		return nil
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(payload)
}

func WriteError(w http.ResponseWriter, status int, code, message string, meta map[string]string) error {
	return WriteJSON(w, status, &ErrorEnvelope{
		Code:    code,
		Message: message,
		Meta:    meta,
	})
}

// WriteServiceError renders err using the code of the first serrors.BaseError in its chain.
// Errors without a code are reported as fallbackCode with a generic message.
func WriteServiceError(w http.ResponseWriter, status int, fallbackCode string, err error, meta map[string]string) error {
	var be *serrors.BaseError
	if errors.As(err, &be) {
		return WriteError(w, status, be.Code, err.Error(), meta)
	}
	return WriteError(w, status, fallbackCode, http.StatusText(status), meta)
}
