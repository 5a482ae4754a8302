package api

import (
	"context"
	"net/http"
	"strings"

	"napps/internal/identity"
	"napps/internal/models"
)

type contextKey string

const actingUserKey contextKey = "actingUser"

type AuthMiddleware struct {
	identity *identity.Service
}

func NewAuthMiddleware(identityService *identity.Service) *AuthMiddleware {
	return &AuthMiddleware{identity: identityService}
}

// RequireToken resolves the bearer token to its owner and stores the user on
// the request context. Only the owner's current, unexpired token passes.
func (m *AuthMiddleware) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			unauthorized(w, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			unauthorized(w, "Invalid authorization header format")
			return
		}

		user, err := m.identity.UserByTokenHash(r.Context(), parts[1])
		if err != nil {
			writeError(w, http.StatusUnauthorized, ErrCodeInvalidToken, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), actingUserKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActingUser returns the authenticated user placed by RequireToken, or nil.
func ActingUser(r *http.Request) *models.User {
	if v := r.Context().Value(actingUserKey); v != nil {
		if user, ok := v.(*models.User); ok {
			return user
		}
	}
	return nil
}
