// Package httputil provides the JSON response envelope and the HTTP
// client plumbing shared by the camera and detector clients.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/wyvern-data/surface.report/internal/monitoring"
)

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("failed to encode json response: %v", err)
	}
}

// WriteJSONError writes the {"error": msg} envelope every endpoint
// reports failures with.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}
