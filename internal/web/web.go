// Package web holds the HTTP plumbing shared by the function entry points.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/documentragflow/internal/embedding"
	"github.com/Lllllllleong/documentragflow/internal/models"
)

// StatusCode maps a processing error to the HTTP status returned to the caller.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrDocumentNotFound), errors.Is(err, models.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrLeaseHeld), errors.Is(err, models.ErrIllegalTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrOCRTimeout):
		return http.StatusGatewayTimeout
	case embedding.IsCircuitOpen(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message is the short error text written to the response body.
func Message(err error) string {
	switch StatusCode(err) {
	case http.StatusBadRequest:
		return "Invalid request: " + err.Error()
	case http.StatusNotFound:
		return "Not found"
	case http.StatusConflict:
		return "Document is busy or in an incompatible state"
	case http.StatusGatewayTimeout:
		return "OCR did not finish in time"
	case http.StatusServiceUnavailable:
		return "Embedding provider unavailable"
	default:
		return "Internal server error"
	}
}

// WriteError writes err as a short text response.
func WriteError(w http.ResponseWriter, err error) {
	http.Error(w, Message(err), StatusCode(err))
}

// DecodeJSON reads a JSON request body into v. Only POST is accepted.
func DecodeJSON(r *http.Request, v any) error {
	if r.Method != http.MethodPost {
		return errors.Join(models.ErrInvalidInput, errors.New("method must be POST"))
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(models.ErrInvalidInput, err)
	}
	return nil
}

// WriteJSON encodes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
