// Package identity persists the deployment's user identity in an embedded
// SQLite database so it survives process restarts.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the identity database at path and ensures
// its schema. Safe to call on every process start.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open identity db failed: %w", err)
	}
	// modernc sqlite is in-process; a single connection avoids write locking.
	db.SetMaxOpenConns(1)

	const schema = `CREATE TABLE IF NOT EXISTS persistent_user (
		id TEXT PRIMARY KEY
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create identity table failed: %w", err)
	}
	return &Store{db: db}, nil
}

// GetOrCreate returns the stored user identity, generating and persisting a
// fresh one the first time the deployment runs.
func (s *Store) GetOrCreate(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM persistent_user LIMIT 1`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("query user identity failed: %w", err)
	}

	id = uuid.NewString()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO persistent_user (id) VALUES (?)`, id); err != nil {
		return "", fmt.Errorf("store user identity failed: %w", err)
	}
	return id, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
