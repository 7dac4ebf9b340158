package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/kbai/pkg/api"
	"github.com/platinummonkey/kbai/pkg/auth"
)

// SQLiteSessionStore persists auth sessions in a local SQLite database
// so bearer tokens survive process restarts and can be revoked.
type SQLiteSessionStore struct {
	db *sql.DB
}

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	jti         TEXT NOT NULL,
	client_name TEXT NOT NULL DEFAULT '',
	scopes      TEXT NOT NULL DEFAULT '',
	auth_method TEXT NOT NULL DEFAULT 'jwt',
	issued_at   TIMESTAMP NOT NULL,
	expires_at  TIMESTAMP NOT NULL,
	disabled    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
`

// NewSQLiteSessionStore opens (and migrates) the session database at
// path. The special path ":memory:" creates a transient store.
func NewSQLiteSessionStore(path string) (*SQLiteSessionStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sessionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate session database: %w", err)
	}
	return &SQLiteSessionStore{db: db}, nil
}

// CreateSession inserts a session.
func (s *SQLiteSessionStore) CreateSession(ctx context.Context, session *auth.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, jti, client_name, scopes, auth_method, issued_at, expires_at, disabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.JTI, session.ClientName, strings.Join(session.Scopes, ","),
		session.AuthMethod, session.IssuedAt.UTC(), session.ExpiresAt.UTC(), boolToInt(session.Disabled))
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", session.ID, err)
	}
	return nil
}

// GetSession returns a session by ID.
func (s *SQLiteSessionStore) GetSession(ctx context.Context, id string) (*auth.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, jti, client_name, scopes, auth_method, issued_at, expires_at, disabled
		 FROM sessions WHERE id = ?`, id)

	var session auth.Session
	var scopes string
	var disabled int
	err := row.Scan(&session.ID, &session.JTI, &session.ClientName, &scopes,
		&session.AuthMethod, &session.IssuedAt, &session.ExpiresAt, &disabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, api.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	if scopes != "" {
		session.Scopes = strings.Split(scopes, ",")
	}
	session.Disabled = disabled != 0
	return &session, nil
}

// DisableSession marks a session revoked.
func (s *SQLiteSessionStore) DisableSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET disabled = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to disable session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, api.ErrNotFound)
	}
	return nil
}

// DeleteExpiredSessions drops sessions that expired before the cutoff.
func (s *SQLiteSessionStore) DeleteExpiredSessions(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DB exposes the underlying handle for health checks.
func (s *SQLiteSessionStore) DB() *sql.DB {
	return s.db
}

// Close closes the database handle.
func (s *SQLiteSessionStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
