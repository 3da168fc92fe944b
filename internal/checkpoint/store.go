// Package checkpoint persists per-activity sync positions.
//
// Each synced activity (calendar, tasks) owns one checkpoint: the wall
// clock of its last successful pass plus an optional opaque sync token.
// A reconciler reads its checkpoint when constructed and overwrites it
// only after a pass completes without error, so a failed pass leaves the
// stored value untouched and the next pass re-scans the same window.
//
// The store is backed by an embedded SQLite database in WAL mode. Each
// activity has exactly one writer (its scheduler worker), so no
// application-level locking is needed on top of the database.
package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Checkpoint is the persisted resume point for one activity.
type Checkpoint struct {
	Activity  string
	LastSync  time.Time
	SyncToken string // empty for time-based activities
}

// Store wraps the checkpoint database.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the checkpoint database at path and initializes
// its schema. The caller must Close the store when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping checkpoint database: %w", err)
	}

	s := &Store{conn: conn, path: path}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		activity   TEXT PRIMARY KEY,
		last_sync  TEXT NOT NULL,
		sync_token TEXT
	);`

	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create checkpoint schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint database: %w", err)
	}
	s.conn = nil
	return nil
}

// Load returns the checkpoint for activity, or nil if the activity has
// never completed a sync pass.
func (s *Store) Load(activity string) (*Checkpoint, error) {
	var (
		lastSync string
		token    sql.NullString
	)
	err := s.conn.QueryRow(
		"SELECT last_sync, sync_token FROM checkpoints WHERE activity = ?",
		activity,
	).Scan(&lastSync, &token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint for %s: %w", activity, err)
	}

	ts, err := time.Parse(time.RFC3339Nano, lastSync)
	if err != nil {
		return nil, fmt.Errorf("invalid last_sync for %s: %w", activity, err)
	}

	return &Checkpoint{
		Activity:  activity,
		LastSync:  ts,
		SyncToken: token.String,
	}, nil
}

// Save overwrites the checkpoint for activity in a single upsert, so a
// reader can never observe a half-written checkpoint. An empty token is
// stored as NULL.
func (s *Store) Save(activity string, lastSync time.Time, token string) error {
	var tok sql.NullString
	if token != "" {
		tok = sql.NullString{String: token, Valid: true}
	}

	_, err := s.conn.Exec(`
		INSERT INTO checkpoints (activity, last_sync, sync_token)
		VALUES (?, ?, ?)
		ON CONFLICT(activity) DO UPDATE SET
			last_sync = excluded.last_sync,
			sync_token = excluded.sync_token`,
		activity, lastSync.Format(time.RFC3339Nano), tok,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for %s: %w", activity, err)
	}
	return nil
}
