package web

import (
	"encoding/json"
	"net/http"

	"github.com/Will-Luck/Docker-Sentinel/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, user, err := s.deps.Auth.Login(r.Context(), req.Username, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		switch err {
		case auth.ErrAccountLocked:
			writeError(w, http.StatusForbidden, "account locked")
		case auth.ErrRateLimited:
			writeError(w, http.StatusTooManyRequests, "too many attempts")
		default:
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		}
		return
	}

	auth.SetSessionCookie(w, session.Token, session.ExpiresAt, s.deps.Auth.CookieSecure)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := auth.GetSessionToken(r); token != "" {
		_ = s.deps.Auth.Logout(token)
	}
	auth.ClearSessionCookie(w, s.deps.Auth.CookieSecure)
	w.WriteHeader(http.StatusNoContent)
}
