// Package kv is the sole persistence layer: string-keyed hash records,
// membership sets and ordered lists on top of sqlite. Multi-key writes run
// inside a single transaction so an index entry and its backing record can
// never be persisted apart.
package kv

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

var ErrNotFound = errors.New("key not found")

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging store: %w", err)
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("selecting migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// HGetAll returns the field map stored under key, or ErrNotFound when no
// fields exist.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field, value FROM hash_fields WHERE key = ?`, key)
	if err != nil {
		return nil, fmt.Errorf("querying hash %q: %w", key, err)
	}
	defer rows.Close()

	fields := make(map[string]string)
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, fmt.Errorf("scanning hash field: %w", err)
		}
		fields[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading hash %q: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	return fields, nil
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT member FROM set_members WHERE key = ? ORDER BY member`, key)
	if err != nil {
		return nil, fmt.Errorf("querying set %q: %w", key, err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, fmt.Errorf("scanning set member: %w", err)
		}
		members = append(members, member)
	}

	return members, rows.Err()
}

// LIndex returns the list element at position i, head first. LPush prepends,
// so index 0 is always the most recently pushed value.
func (s *Store) LIndex(ctx context.Context, key string, i int64) (string, error) {
	var member string
	err := s.db.QueryRowContext(ctx,
		`SELECT member FROM list_entries WHERE key = ? ORDER BY pos ASC LIMIT 1 OFFSET ?`,
		key, i,
	).Scan(&member)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying list %q: %w", key, err)
	}

	return member, nil
}

func (s *Store) LRange(ctx context.Context, key string, start, count int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT member FROM list_entries WHERE key = ? ORDER BY pos ASC LIMIT ? OFFSET ?`,
		key, count, start)
	if err != nil {
		return nil, fmt.Errorf("querying list %q: %w", key, err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, fmt.Errorf("scanning list entry: %w", err)
		}
		members = append(members, member)
	}

	return members, rows.Err()
}

// Tx is the write surface available inside Update. Every mutation of the
// store goes through it so related writes commit or roll back together.
type Tx struct {
	tx  *sql.Tx
	ctx context.Context
}

// HSetAll replaces the field map stored under key.
func (t *Tx) HSetAll(key string, fields map[string]string) error {
	if _, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM hash_fields WHERE key = ?`, key); err != nil {
		return fmt.Errorf("clearing hash %q: %w", key, err)
	}
	for field, value := range fields {
		if _, err := t.tx.ExecContext(t.ctx,
			`INSERT INTO hash_fields (key, field, value) VALUES (?, ?, ?)`,
			key, field, value); err != nil {
			return fmt.Errorf("writing hash %q field %q: %w", key, field, err)
		}
	}
	return nil
}

func (t *Tx) SAdd(key string, members ...string) error {
	for _, member := range members {
		if _, err := t.tx.ExecContext(t.ctx,
			`INSERT OR IGNORE INTO set_members (key, member) VALUES (?, ?)`,
			key, member); err != nil {
			return fmt.Errorf("adding to set %q: %w", key, err)
		}
	}
	return nil
}

func (t *Tx) SRem(key string, members ...string) error {
	for _, member := range members {
		if _, err := t.tx.ExecContext(t.ctx,
			`DELETE FROM set_members WHERE key = ? AND member = ?`,
			key, member); err != nil {
			return fmt.Errorf("removing from set %q: %w", key, err)
		}
	}
	return nil
}

// LPush prepends values to the list stored under key.
func (t *Tx) LPush(key string, values ...string) error {
	for _, value := range values {
		if _, err := t.tx.ExecContext(t.ctx,
			`INSERT INTO list_entries (key, pos, member)
			 VALUES (?, COALESCE((SELECT MIN(pos) FROM list_entries WHERE key = ?), 1) - 1, ?)`,
			key, key, value); err != nil {
			return fmt.Errorf("pushing to list %q: %w", key, err)
		}
	}
	return nil
}

// Delete removes the key from every table: hash fields, set membership and
// list entries.
func (t *Tx) Delete(key string) error {
	for _, stmt := range []string{
		`DELETE FROM hash_fields WHERE key = ?`,
		`DELETE FROM set_members WHERE key = ?`,
		`DELETE FROM list_entries WHERE key = ?`,
	} {
		if _, err := t.tx.ExecContext(t.ctx, stmt, key); err != nil {
			return fmt.Errorf("deleting key %q: %w", key, err)
		}
	}
	return nil
}

// Update runs fn inside a single transaction; all of its writes are applied
// atomically or not at all.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting store transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx, ctx: ctx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing store transaction: %w", err)
	}

	return nil
}
