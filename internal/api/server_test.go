package api

import (
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"napps/internal/artifact"
	"napps/internal/config"
	"napps/internal/identity"
	"napps/internal/kv"
	"napps/internal/models"
	"napps/internal/registry"
	"napps/internal/remote"
	"napps/internal/render"
)

// recordingNotifier captures lifecycle mail instead of talking SMTP.
type recordingNotifier struct {
	confirmations []*models.Token
	welcomes      []string
}

func (n *recordingNotifier) SendConfirmation(user *models.User, token *models.Token) error {
	n.confirmations = append(n.confirmations, token)
	return nil
}

func (n *recordingNotifier) SendWelcome(user *models.User) error {
	n.welcomes = append(n.welcomes, user.Username)
	return nil
}

func (n *recordingNotifier) lastConfirmation(t *testing.T) *models.Token {
	t.Helper()
	if len(n.confirmations) == 0 {
		t.Fatal("no confirmation mail was sent")
	}
	return n.confirmations[len(n.confirmations)-1]
}

type testEnv struct {
	server        *httptest.Server
	store         *kv.Store
	notifier      *recordingNotifier
	registry      *registry.Service
	artifactsRoot string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()

	store, err := kv.Open(filepath.Join(dir, "napps.db"))
	if err != nil {
		t.Fatalf("kv.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	artifactsRoot := filepath.Join(dir, "repo")
	artifacts, err := artifact.NewStore(artifactsRoot, 1<<20)
	if err != nil {
		t.Fatalf("artifact.NewStore() error = %v", err)
	}

	notifier := &recordingNotifier{}
	identityService := identity.NewService(store, notifier, identity.SessionSingle, time.Hour)
	registryService := registry.NewService(store, remote.NewClient(time.Second), render.NewHTMLRenderer())

	cfg := &config.Config{}
	cfg.Artifacts.MaxUploadBytes = 1 << 20

	server := httptest.NewServer(NewServer(cfg, store, identityService, registryService, artifacts))
	t.Cleanup(server.Close)

	return &testEnv{
		server:        server,
		store:         store,
		notifier:      notifier,
		registry:      registryService,
		artifactsRoot: artifactsRoot,
	}
}
