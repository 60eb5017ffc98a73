package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/labbook-edu/labbook-engine/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteServiceError maps service errors onto HTTP responses: validation
// failures carry their per-field list, the sentinel errors map to their
// status codes, anything else is a 500.
func WriteServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var vErr *apperrors.ValidationError
	if errors.As(err, &vErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		if encErr := json.NewEncoder(w).Encode(map[string]any{
			"error":  "validation_failed",
			"fields": vErr.Fields,
		}); encErr != nil {
			logger.Error("Failed to write validation response", zap.Error(encErr))
		}
		return
	}

	var status int
	var code string
	message := err.Error()
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, apperrors.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrInvalidTransition):
		status, code = http.StatusUnprocessableEntity, "invalid_transition"
	default:
		logger.Error("Unhandled service error", zap.Error(err))
		status, code = http.StatusInternalServerError, "internal_error"
		message = "Internal server error"
	}
	if encErr := ErrorResponse(w, status, code, message); encErr != nil {
		logger.Error("Failed to write error response", zap.Error(encErr))
	}
}
