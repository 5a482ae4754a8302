package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
)

func registerBody(username string) []byte {
	body, _ := json.Marshal(map[string]string{
		"username":   username,
		"password":   "s3cret-enough",
		"email":      username + "@example.com",
		"first_name": "Alice",
		"last_name":  "Liddell",
	})
	return body
}

func registerUser(t *testing.T, env *testEnv, username string) {
	t.Helper()

	resp, err := http.Post(env.server.URL+"/api/users/", "application/json", bytes.NewReader(registerBody(username)))
	if err != nil {
		t.Fatalf("POST /api/users/ error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /api/users/ status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
}

func confirmUser(t *testing.T, env *testEnv, username string) {
	t.Helper()

	token := env.notifier.lastConfirmation(t)
	resp, err := http.Get(fmt.Sprintf("%s/api/users/%s/confirm/%s/", env.server.URL, username, token.Hash))
	if err != nil {
		t.Fatalf("GET confirm error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET confirm status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func loginUser(t *testing.T, env *testEnv, username string) string {
	t.Helper()

	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/api/auth/", nil)
	req.SetBasicAuth(username, "s3cret-enough")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /api/auth/ error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /api/auth/ status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	var token struct {
		Hash string `json:"hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		t.Fatalf("decoding token response: %v", err)
	}
	if token.Hash == "" {
		t.Fatal("login returned an empty token hash")
	}
	return token.Hash
}

func TestRegisterCreatesDisabledUserAndMailsToken(t *testing.T) {
	env := newTestEnv(t)

	registerUser(t, env, "alice")

	if len(env.notifier.confirmations) != 1 {
		t.Fatalf("confirmation mails = %d, want 1", len(env.notifier.confirmations))
	}

	resp, err := http.Get(env.server.URL + "/api/users/alice/")
	if err != nil {
		t.Fatalf("GET /api/users/alice/ error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET user status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var user struct {
		Username string `json:"username"`
		Enabled  bool   `json:"enabled"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		t.Fatalf("decoding user: %v", err)
	}
	if user.Username != "alice" || user.Enabled {
		t.Fatalf("user = %+v, want disabled alice", user)
	}
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	env := newTestEnv(t)

	registerUser(t, env, "alice")

	resp, err := http.Post(env.server.URL+"/api/users/", "application/json", bytes.NewReader(registerBody("alice")))
	if err != nil {
		t.Fatalf("POST /api/users/ error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
}

func TestRegisterRejectsInvalidPayload(t *testing.T) {
	env := newTestEnv(t)

	body := []byte(`{"username":"bob"}`)
	resp, err := http.Post(env.server.URL+"/api/users/", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/users/ error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid register status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestConfirmEnablesUserAndIsSingleUse(t *testing.T) {
	env := newTestEnv(t)

	registerUser(t, env, "alice")
	token := env.notifier.lastConfirmation(t)
	confirmUser(t, env, "alice")

	if len(env.notifier.welcomes) != 1 || env.notifier.welcomes[0] != "alice" {
		t.Fatalf("welcomes = %v, want [alice]", env.notifier.welcomes)
	}

	// the confirmation token is revoked on use
	resp, err := http.Get(fmt.Sprintf("%s/api/users/alice/confirm/%s/", env.server.URL, token.Hash))
	if err != nil {
		t.Fatalf("GET confirm error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("second confirm status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestConfirmRejectsWrongToken(t *testing.T) {
	env := newTestEnv(t)

	registerUser(t, env, "alice")

	resp, err := http.Get(env.server.URL + "/api/users/alice/confirm/not-the-token/")
	if err != nil {
		t.Fatalf("GET confirm error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token confirm status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestGetAllUsers(t *testing.T) {
	env := newTestEnv(t)

	registerUser(t, env, "alice")
	registerUser(t, env, "bob")

	resp, err := http.Get(env.server.URL + "/api/users/")
	if err != nil {
		t.Fatalf("GET /api/users/ error = %v", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Users map[string]json.RawMessage `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decoding users: %v", err)
	}
	if len(payload.Users) != 2 {
		t.Fatalf("users = %d, want 2", len(payload.Users))
	}
	if _, ok := payload.Users["alice"]; !ok {
		t.Fatal("alice missing from user listing")
	}
}

func TestUserListingOmitsPasswordHash(t *testing.T) {
	env := newTestEnv(t)

	registerUser(t, env, "alice")

	resp, err := http.Get(env.server.URL + "/api/users/alice/")
	if err != nil {
		t.Fatalf("GET user error = %v", err)
	}
	defer resp.Body.Close()

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decoding user: %v", err)
	}
	for _, field := range []string{"password", "password_hash"} {
		if _, ok := raw[field]; ok {
			t.Fatalf("user view leaks %q", field)
		}
	}
}

func TestGetUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/users/nobody/")
	if err != nil {
		t.Fatalf("GET user error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown user status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestLoginIssuesToken(t *testing.T) {
	env := newTestEnv(t)

	registerUser(t, env, "alice")
	confirmUser(t, env, "alice")
	hash := loginUser(t, env, "alice")

	if len(hash) != 64 {
		t.Fatalf("token hash length = %d, want 64", len(hash))
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	registerUser(t, env, "alice")

	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/api/auth/", nil)
	req.SetBasicAuth("alice", "wrong-password")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /api/auth/ error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad credentials status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestLoginSupersedesPreviousToken(t *testing.T) {
	env := newTestEnv(t)

	registerUser(t, env, "alice")
	confirmUser(t, env, "alice")

	first := loginUser(t, env, "alice")
	_ = loginUser(t, env, "alice")

	// single-session mode: the first token no longer authenticates
	req, _ := http.NewRequest(http.MethodDelete, env.server.URL+"/api/napps/alice/foo/", nil)
	req.Header.Set("Authorization", "Bearer "+first)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("superseded token status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}
