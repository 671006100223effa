// Package sqlite persists the admin session in a local SQLite file.
// It suits single-instance deployments that should survive restarts without Redis.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	"github.com/driptech/admin-session/internal/ports"
)

var _ ports.SessionStore = (*SessionStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS admin_session (
	slot        INTEGER PRIMARY KEY CHECK (slot = 1),
	payload     TEXT    NOT NULL,
	saved_at    INTEGER NOT NULL,
	discard_at  INTEGER NOT NULL
)`

// SessionStore keeps at most one row in admin_session.
// Rows older than ttl are treated as absent and removed on Load.
type SessionStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(ctx context.Context, path string, ttl time.Duration) (*SessionStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		schema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite (%s): %w", firstWord(stmt), err)
		}
	}
	return &SessionStore{db: db, ttl: ttl, now: time.Now}, nil
}

// Close releases the database handle.
func (s *SessionStore) Close() error { return s.db.Close() }

func (s *SessionStore) Save(ctx context.Context, sess domainauth.Session) error {
	if sess.UserID == "" {
		return errors.New("session user ID cannot be empty")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	now := s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO admin_session (slot, payload, saved_at, discard_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at, discard_at = excluded.discard_at`,
		string(data), now.UnixMilli(), now.Add(s.ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load returns nil, nil when no live session is stored.
func (s *SessionStore) Load(ctx context.Context) (*domainauth.Session, error) {
	var (
		payload   string
		discardAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT payload, discard_at FROM admin_session WHERE slot = 1`).
		Scan(&payload, &discardAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s.now().UnixMilli() >= discardAt {
		if err := s.Clear(ctx); err != nil {
			return nil, fmt.Errorf("cleanup stale session: %w", err)
		}
		return nil, nil
	}

	var sess domainauth.Session
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *SessionStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM admin_session`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func firstWord(stmt string) string {
	for i, c := range stmt {
		if i > 0 && (c == ' ' || c == '\n' || c == '=') {
			return stmt[:i]
		}
	}
	return stmt
}
