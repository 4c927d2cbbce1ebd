package adminapi

import (
	"encoding/json"
	"net/http"
)

// envelope is the standard JSON response wrapper, matching the teacher's
// {"data": ...} / {"error": ...} convention (server/internal/api/response.go).
type envelope map[string]any

// Ok writes a 200 OK response with payload wrapped in {"data": payload}.
func Ok(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(envelope{"data": payload})
}

// ErrNotFound writes a 404 Not Found error response.
func ErrNotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(envelope{"error": envelope{"message": "not found", "code": "not_found"}})
}
