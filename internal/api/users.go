package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"napps/internal/identity"
	"napps/internal/models"
)

type UserHandler struct {
	identity *identity.Service
}

func NewUserHandler(identityService *identity.Service) *UserHandler {
	return &UserHandler{identity: identityService}
}

type RegisterRequest struct {
	Username  string `json:"username" validate:"required,min=3"`
	Password  string `json:"password" validate:"required,min=8"`
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Phone     string `json:"phone"`
	City      string `json:"city"`
	State     string `json:"state"`
	Country   string `json:"country"`
}

// POST /api/users/
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	user := &models.User{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		City:      req.City,
		State:     req.State,
		Country:   req.Country,
	}

	if _, err := h.identity.Register(r.Context(), user, req.Password); err != nil {
		if errors.Is(err, models.ErrDuplicateEntry) {
			conflict(w, "Username already taken")
			return
		}
		slog.Error("registering user", "username", req.Username, "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "Registration received. Check your email to confirm your account.",
	})
}

// GET /api/users/
func (h *UserHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	users, err := h.identity.Users(r.Context())
	if err != nil {
		slog.Error("listing users", "error", err)
		internalError(w)
		return
	}

	byName := make(map[string]*models.User, len(users))
	for _, user := range users {
		byName[user.Username] = user
	}

	writeJSON(w, http.StatusOK, map[string]any{"users": byName})
}

// GET /api/users/{username}/
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	user, err := h.identity.User(r.Context(), username)
	if errors.Is(err, models.ErrEntryNotFound) {
		notFound(w, "User not found")
		return
	}
	if err != nil {
		slog.Error("loading user", "username", username, "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// GET /api/users/{username}/confirm/{token}/
func (h *UserHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	hash := chi.URLParam(r, "token")

	user, err := h.identity.Confirm(r.Context(), username, hash)
	if errors.Is(err, models.ErrEntryNotFound) {
		notFound(w, "User not found")
		return
	}
	if errors.Is(err, models.ErrInvalidToken) {
		writeError(w, http.StatusUnauthorized, ErrCodeInvalidToken, "Invalid or expired confirmation token")
		return
	}
	if err != nil {
		slog.Error("confirming user", "username", username, "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
