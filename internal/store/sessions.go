package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"evidencelab/internal/logging"
	"evidencelab/internal/types"
)

// =============================================================================
// SESSIONS
// =============================================================================

// CreateSession inserts an active session. An empty title becomes
// "Session YYYY-MM-DD HH:MM".
func (s *LocalStore) CreateSession(ctx context.Context, title, opportunity string) (*types.Session, error) {
	now := s.stamp()
	if strings.TrimSpace(title) == "" {
		title = "Session " + now.Local().Format("2006-01-02 15:04")
	}
	sess := &types.Session{
		Title:                strings.TrimSpace(title),
		OpportunityStatement: strings.TrimSpace(opportunity),
		Status:               types.SessionActive,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (title, opportunity_statement, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			sess.Title, sess.OpportunityStatement, string(sess.Status), formatTime(now), formatTime(now))
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		sess.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		logging.StoreError("CreateSession failed: %v", err)
		return nil, err
	}

	logging.Store("Created session %d (%s)", sess.ID, sess.Title)
	return sess, nil
}

const sessionColumns = "id, title, opportunity_statement, status, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var sess types.Session
	var status, created, updated string
	if err := row.Scan(&sess.ID, &sess.Title, &sess.OpportunityStatement, &status, &created, &updated); err != nil {
		return nil, err
	}
	sess.Status = types.SessionStatus(status)
	sess.CreatedAt = parseTime(created)
	sess.UpdatedAt = parseTime(updated)
	return &sess, nil
}

// GetSession loads one session. Missing sessions return ErrNotFound.
func (s *LocalStore) GetSession(ctx context.Context, id int64) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSession(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *LocalStore) getSession(ctx context.Context, q queryer, id int64) (*types.Session, error) {
	sess, err := scanSession(q.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %d: %w", id, err)
	}
	return sess, nil
}

// ListSessions returns sessions most recently updated first. An empty status
// lists every session; limit <= 0 means 50.
func (s *LocalStore) ListSessions(ctx context.Context, status types.SessionStatus, limit int) ([]types.Session, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListSessions")
	defer timer.Stop()

	if limit <= 0 {
		limit = defaultListLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := "SELECT " + sessionColumns + " FROM sessions"
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY updated_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []types.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// SessionUpdate carries the fields UpdateSession may change; nil leaves a
// field as is.
type SessionUpdate struct {
	Title                *string
	OpportunityStatement *string
}

// UpdateSession renames or reframes a session.
func (s *LocalStore) UpdateSession(ctx context.Context, id int64, u SessionUpdate) (*types.Session, error) {
	var out *types.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.touchSession(ctx, tx, id, s.stamp()); err != nil {
			return err
		}
		if u.Title != nil {
			if strings.TrimSpace(*u.Title) == "" {
				return fmt.Errorf("session title must not be empty")
			}
			if _, err := tx.ExecContext(ctx, "UPDATE sessions SET title = ? WHERE id = ?", strings.TrimSpace(*u.Title), id); err != nil {
				return fmt.Errorf("failed to update title: %w", err)
			}
		}
		if u.OpportunityStatement != nil {
			if _, err := tx.ExecContext(ctx, "UPDATE sessions SET opportunity_statement = ? WHERE id = ?",
				strings.TrimSpace(*u.OpportunityStatement), id); err != nil {
				return fmt.Errorf("failed to update opportunity statement: %w", err)
			}
		}
		var err error
		out, err = s.getSession(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	logging.StoreDebug("Updated session %d", id)
	return out, nil
}

// ArchiveSession marks a session archived. Archiving an archived session is
// a no-op and leaves updated_at alone.
func (s *LocalStore) ArchiveSession(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		sess, err := s.getSession(ctx, tx, id)
		if err != nil {
			return err
		}
		if sess.Status == types.SessionArchived {
			logging.StoreDebug("Session %d already archived", id)
			return nil
		}
		if err := s.touchSession(ctx, tx, id, s.stamp()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE sessions SET status = ? WHERE id = ?", string(types.SessionArchived), id); err != nil {
			return fmt.Errorf("failed to archive session %d: %w", id, err)
		}
		logging.Store("Archived session %d", id)
		return nil
	})
}
