package web

import (
	"encoding/json"
	"net/http"

	"github.com/Will-Luck/Docker-Sentinel/internal/auth"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// userID extracts the authenticated caller's user ID from the request
// context populated by auth.AuthMiddleware.
func userID(r *http.Request) string {
	rc := auth.GetRequestContext(r.Context())
	if rc == nil || rc.User == nil {
		return ""
	}
	return rc.User.ID
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
