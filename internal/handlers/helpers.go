package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/mnemo/internal/models"
)

// RequireMethod rejects mismatched methods with a 405 and reports whether
// the handler should proceed.
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON encodes data as the response body under the given status.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes the error envelope shared by every endpoint.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// ErrorStatus maps service error kinds onto HTTP status codes.
func ErrorStatus(err error) int {
	switch {
	case models.IsValidation(err):
		return http.StatusBadRequest
	case models.IsNotFound(err) || models.IsIndexNotFound(err):
		return http.StatusNotFound
	case models.IsDimensionMismatch(err):
		return http.StatusConflict
	case models.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteServiceError writes an error response with the status implied by the
// error's kind.
func WriteServiceError(w http.ResponseWriter, err error) error {
	return WriteError(w, ErrorStatus(err), err.Error())
}
