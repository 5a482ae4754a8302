package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"napps/internal/artifact"
	"napps/internal/config"
	"napps/internal/identity"
	"napps/internal/kv"
	"napps/internal/registry"
)

type Server struct {
	router *chi.Mux
	config *config.Config
}

func NewServer(
	cfg *config.Config,
	store *kv.Store,
	identityService *identity.Service,
	registryService *registry.Service,
	artifacts *artifact.Store,
) *Server {
	authHandler := NewAuthHandler(identityService)
	userHandler := NewUserHandler(identityService)
	nappHandler := NewNappHandler(registryService, identityService, artifacts)
	healthHandler := NewHealthHandler(store)

	authMiddleware := NewAuthMiddleware(identityService)

	r := chi.NewRouter()
	r.Use(slogRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(securityHeadersMiddleware)

	r.Get("/health", healthHandler.Check)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(maxBodySizeMiddleware(1 << 20)) // 1 MB for JSON bodies

			r.Post("/auth/", authHandler.Login)

			r.Route("/users", func(r chi.Router) {
				r.Post("/", userHandler.Register)
				r.Get("/", userHandler.GetAll)
				r.Get("/{username}/", userHandler.Get)
				r.Get("/{username}/confirm/{token}/", userHandler.Confirm)
			})
		})

		r.Route("/napps", func(r chi.Router) {
			r.Get("/", nappHandler.GetAll)
			r.Get("/{author}/", nappHandler.GetByAuthor)
			r.Get("/{author}/{name}/", nappHandler.Get)

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.RequireToken)
				// uploads carry the packaged binary plus form overhead
				r.With(maxBodySizeMiddleware(cfg.Artifacts.MaxUploadBytes + (1 << 20))).
					Post("/", nappHandler.Upload)
				r.Delete("/{author}/{name}/", nappHandler.Delete)
				r.Post("/{author}/{name}/sync/", nappHandler.Sync)
			})
		})
	})

	r.Get("/repo/{author}/{file}", nappHandler.Download)

	return &Server{
		router: r,
		config: cfg,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func maxBodySizeMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr,
		)
	})
}
