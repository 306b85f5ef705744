// Package store keeps small durable bookkeeping rows, currently the
// poll cursors that let the feed poller resume where it left off.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
)

// schemaSQL is embedded so the service can self-bootstrap its tables.
//
//go:embed schema.sql
var schemaSQL string

// CursorStore persists named poll cursors in Postgres.
type CursorStore struct {
	db *sql.DB
}

func NewCursorStore(db *sql.DB) *CursorStore {
	return &CursorStore{db: db}
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (s *CursorStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Read returns the stored cursor value, or "" when none exists yet.
func (s *CursorStore) Read(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM poll_cursors WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read cursor %s: %w", name, err)
	}
	return value, nil
}

// Write upserts the cursor value.
func (s *CursorStore) Write(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO poll_cursors (name, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET value = EXCLUDED.value, updated_at = now()
	`, name, value)
	if err != nil {
		return fmt.Errorf("failed to write cursor %s: %w", name, err)
	}
	return nil
}
