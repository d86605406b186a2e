// Package store persists evidence sessions in SQLite: sessions, evidence
// chunks, analytical outputs and the conversation history.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"evidencelab/internal/logging"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a session or chunk does not exist.
var ErrNotFound = errors.New("not found")

// timeLayout is fixed-width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const defaultListLimit = 50

// LocalStore is the SQLite-backed session store.
//
// All writes go through one connection and one mutex; each operation is its
// own transaction and every mutating write bumps the parent session's
// updated_at inside that transaction (see touchSession).
type LocalStore struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
	now    func() time.Time
}

// NewLocalStore opens (or creates) the database at path. ":memory:" gives a
// throwaway store.
func NewLocalStore(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	logging.Store("Initializing LocalStore at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.StoreError("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: required for :memory: and keeps SQLite writers serialized.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
	}

	s := &LocalStore{db: db, dbPath: path, now: time.Now}
	if err := s.initialize(); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("LocalStore ready (schema v%d)", CurrentSchemaVersion)
	return s, nil
}

// Close closes the database.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database path the store was opened with.
func (s *LocalStore) Path() string { return s.dbPath }

// initialize creates the four tables.
func (s *LocalStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		opportunity_statement TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status_updated ON sessions(status, updated_at);

	CREATE TABLE IF NOT EXISTS evidence_chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES sessions(id),
		content TEXT NOT NULL,
		evidence_type TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		source_raw TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		strength TEXT NOT NULL DEFAULT 'unknown',
		supports_hypothesis INTEGER,
		hypothesis_relevance TEXT,
		extraction_reasoning TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_session ON evidence_chunks(session_id);

	CREATE TABLE IF NOT EXISTS outputs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES sessions(id),
		output_type TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		reasoning_trace TEXT NOT NULL DEFAULT '[]',
		evidence_used TEXT NOT NULL DEFAULT '[]',
		evidence_excluded TEXT NOT NULL DEFAULT '[]',
		confidence_level TEXT NOT NULL DEFAULT '',
		confidence_reasoning TEXT NOT NULL DEFAULT '',
		gaps_identified TEXT NOT NULL DEFAULT '[]',
		caveats TEXT NOT NULL DEFAULT '[]',
		suggested_research TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outputs_session_type ON outputs(session_id, output_type);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES sessions(id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		action_type TEXT,
		reasoning TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction under the store mutex.
func (s *LocalStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// touchSession is the only place updated_at changes. It also proves the
// session exists, so writes against a missing session fail with ErrNotFound.
func (s *LocalStore) touchSession(ctx context.Context, tx *sql.Tx, sessionID int64, at time.Time) error {
	res, err := tx.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE id = ?", formatTime(at), sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session %d: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %d: %w", sessionID, ErrNotFound)
	}
	return nil
}

func (s *LocalStore) stamp() time.Time {
	return s.now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may use RFC 3339 or SQLite's own format.
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
			if t, err = time.Parse(layout, s); err == nil {
				return t
			}
		}
		logging.StoreDebug("Unparseable timestamp %q", s)
		return time.Time{}
	}
	return t
}
