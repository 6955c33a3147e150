package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/operon-dev/operon/pkg/schema"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a schema.Error code onto an HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	var de *schema.Error
	if !errors.As(err, &de) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch de.Code {
	case schema.ErrCodeNotFound:
		status = http.StatusNotFound
	case schema.ErrCodeValidation:
		status = http.StatusBadRequest
	case schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
		status = http.StatusConflict
	case schema.ErrCodeTimeout:
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]any{"error": de.Message, "code": de.Code})
}
