package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// DefaultTokenTTL is the token lifetime applied when the caller does not
// choose one.
const DefaultTokenTTL = 86400 * time.Second

// Token is a bearer credential identified by a high-entropy hash. It holds a
// weak reference to its owner by username. Revocation zeroes the lifetime
// rather than deleting the record, so every later validity check fails.
type Token struct {
	Hash           string    `json:"hash"`
	CreatedAt      time.Time `json:"created_at"`
	Username       string    `json:"user"`
	ExpirationTime int64     `json:"expiration_time"`
}

// NewToken generates a fresh token for the user. The hash digests 128 bytes
// of crypto/rand input, well beyond 256 bits of entropy, and is never derived
// from user data.
func NewToken(username string, ttl time.Duration) (*Token, error) {
	buf := make([]byte, 128)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generating token hash: %w", err)
	}
	sum := sha256.Sum256(buf)

	return &Token{
		Hash:           hex.EncodeToString(sum[:]),
		CreatedAt:      time.Now().UTC(),
		Username:       username,
		ExpirationTime: int64(ttl / time.Second),
	}, nil
}

func TokenKey(hash string) string {
	return "token:" + hash
}

func (t *Token) Key() string {
	return TokenKey(t.Hash)
}

func (t *Token) ExpiresAt() time.Time {
	return t.CreatedAt.Add(time.Duration(t.ExpirationTime) * time.Second)
}

func (t *Token) Valid(now time.Time) bool {
	return !now.After(t.ExpiresAt())
}

// Invalidate revokes the token in place. Idempotent; the caller persists.
func (t *Token) Invalidate() {
	t.ExpirationTime = 0
}

func (t *Token) Fields() map[string]string {
	return map[string]string{
		"hash":            t.Hash,
		"created_at":      t.CreatedAt.UTC().Format(time.RFC3339Nano),
		"user":            t.Username,
		"expiration_time": strconv.FormatInt(t.ExpirationTime, 10),
	}
}

func TokenFromFields(fields map[string]string) (*Token, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("decoding token created_at: %w", err)
	}
	expiration, err := strconv.ParseInt(fields["expiration_time"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decoding token expiration_time: %w", err)
	}

	return &Token{
		Hash:           fields["hash"],
		CreatedAt:      createdAt,
		Username:       fields["user"],
		ExpirationTime: expiration,
	}, nil
}
