package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"napps/internal/artifact"
	"napps/internal/identity"
	"napps/internal/models"
	"napps/internal/registry"
)

type NappHandler struct {
	registry  *registry.Service
	identity  *identity.Service
	artifacts *artifact.Store
}

func NewNappHandler(registryService *registry.Service, identityService *identity.Service, artifacts *artifact.Store) *NappHandler {
	return &NappHandler{registry: registryService, identity: identityService, artifacts: artifacts}
}

// GET /api/napps/
// An optional length query parameter caps the result.
func (h *NappHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	napps, err := h.registry.All(r.Context())
	if err != nil {
		slog.Error("listing napps", "error", err)
		internalError(w)
		return
	}

	if raw := r.URL.Query().Get("length"); raw != "" {
		length, err := strconv.Atoi(raw)
		if err != nil || length < 0 {
			badRequest(w, "length must be a non-negative integer")
			return
		}
		if length < len(napps) {
			napps = napps[:length]
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"napps": napps})
}

// GET /api/napps/{author}/
// An unknown author is a lookup miss, not an empty listing.
func (h *NappHandler) GetByAuthor(w http.ResponseWriter, r *http.Request) {
	author := chi.URLParam(r, "author")

	if _, err := h.identity.User(r.Context(), author); err != nil {
		if errors.Is(err, models.ErrEntryNotFound) {
			notFound(w, "Author not found")
			return
		}
		slog.Error("resolving author", "author", author, "error", err)
		internalError(w)
		return
	}

	napps, err := h.registry.ByOwner(r.Context(), author)
	if err != nil {
		slog.Error("listing napps by author", "author", author, "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"napps": napps})
}

// GET /api/napps/{author}/{name}/
// The detail view carries the readme rendered to display HTML.
func (h *NappHandler) Get(w http.ResponseWriter, r *http.Request) {
	author := chi.URLParam(r, "author")
	name := chi.URLParam(r, "name")

	napp, err := h.registry.Get(r.Context(), author, name)
	if errors.Is(err, models.ErrEntryNotFound) {
		notFound(w, "Napp not found")
		return
	}
	if err != nil {
		slog.Error("loading napp", "author", author, "name", name, "error", err)
		internalError(w)
		return
	}

	readmeHTML, err := h.registry.RenderReadme(napp)
	if err != nil {
		slog.Error("rendering readme", "author", author, "name", name, "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"napp":        napp,
		"readme_html": readmeHTML,
	})
}

// POST /api/napps/
// Multipart upload: a metadata part holding the napp's JSON attributes and a
// file part holding the packaged binary. Only an enabled account may publish,
// and only under its own name.
func (h *NappHandler) Upload(w http.ResponseWriter, r *http.Request) {
	acting := ActingUser(r)
	if acting == nil {
		unauthorized(w, "User not found in context")
		return
	}
	if !acting.Enabled {
		forbidden(w, "Account is not enabled")
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		badRequest(w, "Invalid multipart form")
		return
	}

	metadata := r.FormValue("metadata")
	if metadata == "" {
		badRequest(w, "metadata part is required")
		return
	}
	var attrs map[string]any
	if err := json.Unmarshal([]byte(metadata), &attrs); err != nil {
		badRequest(w, "metadata part is not valid JSON")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file part is required")
		return
	}
	defer file.Close()

	if !artifact.Allowed(header.Filename) {
		badRequest(w, "file extension not allowed")
		return
	}

	napp, err := h.registry.Create(r.Context(), attrs, acting)
	if errors.Is(err, models.ErrInvalidNappMetadata) {
		badRequest(w, err.Error())
		return
	}
	if errors.Is(err, models.ErrInvalidAuthor) {
		forbidden(w, "Napp author must match the authenticated user")
		return
	}
	if err != nil {
		slog.Error("persisting napp", "error", err)
		internalError(w)
		return
	}

	stored, err := h.artifacts.Store(napp.Author, napp.Name, file, header.Filename)
	if errors.Is(err, models.ErrInvalidFile) {
		badRequest(w, err.Error())
		return
	}
	if err != nil {
		slog.Error("storing artifact", "author", napp.Author, "name", napp.Name, "error", err)
		internalError(w)
		return
	}

	if err := h.artifacts.UpdateLatestPointer(napp.Author, napp.Name, stored); err != nil {
		slog.Error("updating latest pointer", "author", napp.Author, "name", napp.Name, "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"napp":     napp,
		"filename": stored,
	})
}

// DELETE /api/napps/{author}/{name}/
func (h *NappHandler) Delete(w http.ResponseWriter, r *http.Request) {
	acting := ActingUser(r)
	if acting == nil {
		unauthorized(w, "User not found in context")
		return
	}

	author := chi.URLParam(r, "author")
	name := chi.URLParam(r, "name")

	if err := models.RequireOwner(acting, author); err != nil {
		forbidden(w, "Only the owner may delete a napp")
		return
	}

	if err := h.registry.Delete(r.Context(), author, name); err != nil {
		if errors.Is(err, models.ErrEntryNotFound) {
			notFound(w, "Napp not found")
			return
		}
		slog.Error("deleting napp", "author", author, "name", name, "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Napp deleted"})
}

// POST /api/napps/{author}/{name}/sync/
// Refreshes the napp from the metadata file at its git remote.
func (h *NappHandler) Sync(w http.ResponseWriter, r *http.Request) {
	acting := ActingUser(r)
	if acting == nil {
		unauthorized(w, "User not found in context")
		return
	}

	author := chi.URLParam(r, "author")
	name := chi.URLParam(r, "name")

	if err := models.RequireOwner(acting, author); err != nil {
		forbidden(w, "Only the owner may sync a napp")
		return
	}

	napp, err := h.registry.Get(r.Context(), author, name)
	if errors.Is(err, models.ErrEntryNotFound) {
		notFound(w, "Napp not found")
		return
	}
	if err != nil {
		slog.Error("loading napp", "author", author, "name", name, "error", err)
		internalError(w)
		return
	}

	synced, err := h.registry.SyncFromRemote(r.Context(), napp)
	if errors.Is(err, models.ErrRepositoryUnreachable) {
		writeError(w, http.StatusBadGateway, ErrCodeUpstreamFailed, "Package repository is unreachable")
		return
	}
	if errors.Is(err, models.ErrInvalidNappMetadata) || errors.Is(err, models.ErrInvalidAuthor) {
		badRequest(w, err.Error())
		return
	}
	if err != nil {
		slog.Error("syncing napp", "author", author, "name", name, "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"napp": synced})
}

// GET /repo/{author}/{file}
// Serves a stored artifact, the latest pointer included.
func (h *NappHandler) Download(w http.ResponseWriter, r *http.Request) {
	author := chi.URLParam(r, "author")
	filename := chi.URLParam(r, "file")

	f, err := h.artifacts.Open(author, filename)
	if errors.Is(err, artifact.ErrInvalidPath) || errors.Is(err, os.ErrNotExist) {
		notFound(w, "Artifact not found")
		return
	}
	if err != nil {
		slog.Error("opening artifact", "author", author, "file", filename, "error", err)
		internalError(w)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(filename))
	if _, err := io.Copy(w, f); err != nil {
		slog.Error("serving artifact", "author", author, "file", filename, "error", err)
	}
}
