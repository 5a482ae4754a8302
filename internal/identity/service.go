// Package identity owns users and their tokens: registration, password
// verification, token issuance, confirmation and revocation.
package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"napps/internal/kv"
	"napps/internal/models"
)

// Notifier delivers account lifecycle mail. Delivery failures are logged by
// the service, never propagated: losing a mail must not abort registration
// or confirmation.
type Notifier interface {
	SendConfirmation(user *models.User, token *models.Token) error
	SendWelcome(user *models.User) error
}

// SessionMode decides what issuing a token does to the previous one.
type SessionMode string

const (
	// SessionSingle revokes the current token when a new one is issued.
	SessionSingle SessionMode = "single"
	// SessionMulti leaves older tokens live; only the most recent one is
	// consulted by current-token lookups.
	SessionMulti SessionMode = "multi"
)

type Service struct {
	store       *kv.Store
	notifier    Notifier
	sessionMode SessionMode
	tokenTTL    time.Duration
}

func NewService(store *kv.Store, notifier Notifier, mode SessionMode, tokenTTL time.Duration) *Service {
	if mode != SessionMulti {
		mode = SessionSingle
	}
	if tokenTTL <= 0 {
		tokenTTL = models.DefaultTokenTTL
	}
	return &Service{
		store:       store,
		notifier:    notifier,
		sessionMode: mode,
		tokenTTL:    tokenTTL,
	}
}

// Register creates a disabled user, issues a confirmation token and sends it
// to the user's address. The username must be unused.
func (s *Service) Register(ctx context.Context, user *models.User, password string) (*models.Token, error) {
	if _, err := s.User(ctx, user.Username); err == nil {
		return nil, fmt.Errorf("username %q: %w", user.Username, models.ErrDuplicateEntry)
	} else if !errors.Is(err, models.ErrEntryNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	user.PasswordHash = string(hash)
	user.Enabled = false

	if err := s.saveUser(ctx, user); err != nil {
		return nil, err
	}

	token, err := s.IssueToken(ctx, user, 0)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		if err := s.notifier.SendConfirmation(user, token); err != nil {
			slog.Error("sending confirmation mail", "username", user.Username, "error", err)
		}
	}

	return token, nil
}

func (s *Service) User(ctx context.Context, username string) (*models.User, error) {
	fields, err := s.store.HGetAll(ctx, models.UserKey(username))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("user %q: %w", username, models.ErrEntryNotFound)
	}
	if err != nil {
		return nil, err
	}
	return models.UserFromFields(fields)
}

func (s *Service) Users(ctx context.Context) ([]*models.User, error) {
	keys, err := s.store.SMembers(ctx, "users")
	if err != nil {
		return nil, err
	}

	users := make([]*models.User, 0, len(keys))
	for _, key := range keys {
		user, err := s.User(ctx, strings.TrimPrefix(key, "user:"))
		if err != nil {
			return nil, fmt.Errorf("loading indexed user %q: %w", key, err)
		}
		users = append(users, user)
	}

	return users, nil
}

// Authenticate fails closed: a missing user and a wrong password are
// indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, username, password string) bool {
	user, err := s.User(ctx, username)
	if err != nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
}

// IssueToken creates and persists a fresh token and pushes it onto the front
// of the user's token list. A non-positive ttl selects the configured
// default. In single-session mode the previously current token is revoked
// first.
func (s *Service) IssueToken(ctx context.Context, user *models.User, ttl time.Duration) (*models.Token, error) {
	if ttl <= 0 {
		ttl = s.tokenTTL
	}

	if s.sessionMode == SessionSingle {
		current, err := s.CurrentToken(ctx, user)
		if err != nil {
			return nil, err
		}
		if current != nil {
			if err := s.Invalidate(ctx, current); err != nil {
				return nil, err
			}
		}
	}

	token, err := models.NewToken(user.Username, ttl)
	if err != nil {
		return nil, err
	}

	err = s.store.Update(ctx, func(tx *kv.Tx) error {
		if err := tx.SAdd("tokens", token.Key()); err != nil {
			return err
		}
		if err := tx.HSetAll(token.Key(), token.Fields()); err != nil {
			return err
		}
		return tx.LPush(user.TokenListKey(), token.Key())
	})
	if err != nil {
		return nil, err
	}

	return token, nil
}

// CurrentToken returns the most recently issued token if it is still valid,
// and nil otherwise. Older entries in the list are never consulted.
func (s *Service) CurrentToken(ctx context.Context, user *models.User) (*models.Token, error) {
	key, err := s.store.LIndex(ctx, user.TokenListKey(), 0)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	fields, err := s.store.HGetAll(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	token, err := models.TokenFromFields(fields)
	if err != nil {
		return nil, err
	}
	if !token.Valid(time.Now().UTC()) {
		return nil, nil
	}

	return token, nil
}

// Token looks a token up by hash regardless of ownership or validity.
func (s *Service) Token(ctx context.Context, hash string) (*models.Token, error) {
	fields, err := s.store.HGetAll(ctx, models.TokenKey(hash))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("token: %w", models.ErrEntryNotFound)
	}
	if err != nil {
		return nil, err
	}
	return models.TokenFromFields(fields)
}

// UserByTokenHash resolves a presented bearer credential to its owner. The
// token must exist, be valid and still be the owner's current token.
func (s *Service) UserByTokenHash(ctx context.Context, hash string) (*models.User, error) {
	token, err := s.Token(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown token", models.ErrInvalidToken)
	}
	if !token.Valid(time.Now().UTC()) {
		return nil, fmt.Errorf("%w: token expired", models.ErrInvalidToken)
	}

	user, err := s.User(ctx, token.Username)
	if err != nil {
		return nil, err
	}

	current, err := s.CurrentToken(ctx, user)
	if err != nil {
		return nil, err
	}
	if current == nil || subtle.ConstantTimeCompare([]byte(current.Hash), []byte(token.Hash)) != 1 {
		return nil, fmt.Errorf("%w: token superseded", models.ErrInvalidToken)
	}

	return user, nil
}

// Confirm enables the user when the presented hash matches their current
// valid token, then revokes the token: confirmation is single use.
func (s *Service) Confirm(ctx context.Context, username, presentedHash string) (*models.User, error) {
	user, err := s.User(ctx, username)
	if err != nil {
		return nil, err
	}

	token, err := s.CurrentToken(ctx, user)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, fmt.Errorf("%w: no current token", models.ErrInvalidToken)
	}
	if subtle.ConstantTimeCompare([]byte(token.Hash), []byte(presentedHash)) != 1 {
		return nil, fmt.Errorf("%w: hash mismatch", models.ErrInvalidToken)
	}

	user.Enabled = true
	token.Invalidate()
	err = s.store.Update(ctx, func(tx *kv.Tx) error {
		if err := tx.HSetAll(user.Key(), user.Fields()); err != nil {
			return err
		}
		return tx.HSetAll(token.Key(), token.Fields())
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		if err := s.notifier.SendWelcome(user); err != nil {
			slog.Error("sending welcome mail", "username", user.Username, "error", err)
		}
	}

	return user, nil
}

// Invalidate revokes a token by zeroing its lifetime and persisting it. The
// record stays in the store; it is a revocation, not a deletion.
func (s *Service) Invalidate(ctx context.Context, token *models.Token) error {
	token.Invalidate()
	return s.store.Update(ctx, func(tx *kv.Tx) error {
		if err := tx.SAdd("tokens", token.Key()); err != nil {
			return err
		}
		return tx.HSetAll(token.Key(), token.Fields())
	})
}

// Disable revokes the user's current token and marks the account disabled.
// It fails when no current token exists.
func (s *Service) Disable(ctx context.Context, user *models.User) error {
	token, err := s.CurrentToken(ctx, user)
	if err != nil {
		return err
	}
	if token == nil {
		return fmt.Errorf("%w: no current token to revoke", models.ErrInvalidToken)
	}
	if err := s.Invalidate(ctx, token); err != nil {
		return err
	}

	user.Enabled = false
	return s.saveUser(ctx, user)
}

// saveUser persists the user record and its membership index in one
// transaction. A user without credential material is never persisted.
func (s *Service) saveUser(ctx context.Context, user *models.User) error {
	if user.PasswordHash == "" {
		return fmt.Errorf("%w: user without password hash", models.ErrInvalidAuthor)
	}

	return s.store.Update(ctx, func(tx *kv.Tx) error {
		if err := tx.SAdd("users", user.Key()); err != nil {
			return err
		}
		return tx.HSetAll(user.Key(), user.Fields())
	})
}
