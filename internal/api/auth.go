package api

import (
	"log/slog"
	"net/http"

	"napps/internal/identity"
)

type AuthHandler struct {
	identity *identity.Service
}

func NewAuthHandler(identityService *identity.Service) *AuthHandler {
	return &AuthHandler{identity: identityService}
}

// POST /api/auth/
// Exchanges HTTP basic credentials for a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	username, password, ok := r.BasicAuth()
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="napps"`)
		unauthorized(w, "Basic authentication required")
		return
	}

	if !h.identity.Authenticate(r.Context(), username, password) {
		writeError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "Invalid username or password")
		return
	}

	user, err := h.identity.User(r.Context(), username)
	if err != nil {
		slog.Error("loading authenticated user", "username", username, "error", err)
		internalError(w)
		return
	}

	token, err := h.identity.IssueToken(r.Context(), user, 0)
	if err != nil {
		slog.Error("issuing token", "username", username, "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusCreated, token)
}
