package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"napps/internal/api"
	"napps/internal/artifact"
	"napps/internal/config"
	"napps/internal/email"
	"napps/internal/identity"
	"napps/internal/kv"
	"napps/internal/registry"
	"napps/internal/remote"
	"napps/internal/render"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting server", "name", cfg.Server.Name)

	store, err := kv.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("database opened", "path", cfg.Database.Path)

	artifacts, err := artifact.NewStore(cfg.Artifacts.Root, cfg.Artifacts.MaxUploadBytes)
	if err != nil {
		slog.Error("failed to initialize artifact storage", "error", err)
		os.Exit(1)
	}
	slog.Info("artifact storage initialized", "root", cfg.Artifacts.Root, "max_upload_bytes", cfg.Artifacts.MaxUploadBytes)

	emailService, err := email.NewSMTPService(
		cfg.Email.SMTP.Host,
		cfg.Email.SMTP.Port,
		cfg.Email.SMTP.Username,
		cfg.Email.SMTP.Password,
		cfg.Email.SMTP.From,
		cfg.Server.BaseURL,
	)
	if err != nil {
		slog.Error("failed to configure email", "error", err)
		os.Exit(1)
	}
	slog.Info("email configured", "host", cfg.Email.SMTP.Host, "port", cfg.Email.SMTP.Port)

	identityService := identity.NewService(
		store,
		emailService,
		identity.SessionMode(cfg.Auth.SessionMode),
		cfg.Auth.TokenTTL,
	)

	remoteClient := remote.NewClient(cfg.Remote.Timeout)
	registryService := registry.NewService(store, remoteClient, render.NewHTMLRenderer())

	server := api.NewServer(cfg, store, identityService, registryService, artifacts)

	addr := cfg.Addr()
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server,
	}

	go func() {
		slog.Info("server listening", "addr", addr, "base_url", cfg.Server.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
