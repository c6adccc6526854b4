// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/finfleet/policyd/internal/engine"
	"github.com/finfleet/policyd/internal/store"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeSchemaViolation writes a 422 Unprocessable Entity response.
func writeSchemaViolation(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "schema_violation", "detail": detail})
}

// writeNotFound writes a 404 Not Found response.
func writeNotFound(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "detail": detail})
}

// writeEngineError maps engine errors onto the HTTP taxonomy: invalid
// transitions are caller errors (409), an open breaker is a transient
// server-protection signal (503), unknown serials and ids are 404.
func writeEngineError(w http.ResponseWriter, err error) {
	var invalid *engine.InvalidTransitionError
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "invalid_transition", "detail": invalid.Error()})
	case errors.Is(err, engine.ErrCircuitOpen):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "circuit_open", "detail": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeNotFound(w, err.Error())
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal", "detail": err.Error()})
	}
}
