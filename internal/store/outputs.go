package store

import (
	"context"
	"database/sql"
	"fmt"

	"evidencelab/internal/logging"
	"evidencelab/internal/types"
)

// =============================================================================
// OUTPUTS AND MESSAGES (append-only)
// =============================================================================

const outputColumns = `id, session_id, output_type, title, content, reasoning_trace, evidence_used,
	evidence_excluded, confidence_level, confidence_reasoning, gaps_identified, caveats, suggested_research, created_at`

// AddOutput appends an analytical artifact. ID, SessionID and CreatedAt on
// the argument are ignored.
func (s *LocalStore) AddOutput(ctx context.Context, sessionID int64, o types.Output) (*types.Output, error) {
	if o.OutputType == "" {
		return nil, fmt.Errorf("output type is required")
	}
	now := s.stamp()
	o.SessionID = sessionID
	o.CreatedAt = now
	o.ReasoningTrace = nonNilStrings(o.ReasoningTrace)
	o.EvidenceUsed = nonNilIDs(o.EvidenceUsed)
	o.EvidenceExcluded = nonNilIDs(o.EvidenceExcluded)
	o.GapsIdentified = nonNilStrings(o.GapsIdentified)
	o.Caveats = nonNilStrings(o.Caveats)
	o.SuggestedResearch = nonNilStrings(o.SuggestedResearch)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.touchSession(ctx, tx, sessionID, now); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO outputs
			(session_id, output_type, title, content, reasoning_trace, evidence_used, evidence_excluded,
			 confidence_level, confidence_reasoning, gaps_identified, caveats, suggested_research, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, string(o.OutputType), o.Title, o.Content,
			encodeJSON(o.ReasoningTrace), encodeJSON(o.EvidenceUsed), encodeJSON(o.EvidenceExcluded),
			o.ConfidenceLevel, o.ConfidenceReasoning,
			encodeJSON(o.GapsIdentified), encodeJSON(o.Caveats), encodeJSON(o.SuggestedResearch),
			formatTime(now))
		if err != nil {
			return fmt.Errorf("failed to insert output: %w", err)
		}
		o.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		logging.StoreError("AddOutput(session=%d, type=%s) failed: %v", sessionID, o.OutputType, err)
		return nil, err
	}
	logging.StoreDebug("Stored %s output %d in session %d", o.OutputType, o.ID, sessionID)
	return &o, nil
}

func scanOutput(row rowScanner) (*types.Output, error) {
	var o types.Output
	var outType, trace, used, excluded, gaps, caveats, research, created string
	if err := row.Scan(&o.ID, &o.SessionID, &outType, &o.Title, &o.Content, &trace, &used, &excluded,
		&o.ConfidenceLevel, &o.ConfidenceReasoning, &gaps, &caveats, &research, &created); err != nil {
		return nil, err
	}
	o.OutputType = types.OutputType(outType)
	o.ReasoningTrace = decodeStrings(trace)
	o.EvidenceUsed = decodeIDs(used)
	o.EvidenceExcluded = decodeIDs(excluded)
	o.GapsIdentified = decodeStrings(gaps)
	o.Caveats = decodeStrings(caveats)
	o.SuggestedResearch = decodeStrings(research)
	o.CreatedAt = parseTime(created)
	return &o, nil
}

// GetOutputs returns a session's outputs oldest first, filtered by type
// unless outputType is empty.
func (s *LocalStore) GetOutputs(ctx context.Context, sessionID int64, outputType types.OutputType) ([]types.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOutputs(ctx, s.db, sessionID, outputType)
}

func (s *LocalStore) getOutputs(ctx context.Context, q queryer, sessionID int64, outputType types.OutputType) ([]types.Output, error) {
	query := "SELECT " + outputColumns + " FROM outputs WHERE session_id = ?"
	args := []interface{}{sessionID}
	if outputType != "" {
		query += " AND output_type = ?"
		args = append(args, string(outputType))
	}
	rows, err := q.QueryContext(ctx, query+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outputs: %w", err)
	}
	defer rows.Close()

	outputs := []types.Output{}
	for rows.Next() {
		o, err := scanOutput(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan output: %w", err)
		}
		outputs = append(outputs, *o)
	}
	return outputs, rows.Err()
}

// AddMessage appends one conversational turn. actionType and reasoning are
// optional.
func (s *LocalStore) AddMessage(ctx context.Context, sessionID int64, role types.Role, content, actionType string, reasoning []string) (*types.Message, error) {
	if role != types.RoleUser && role != types.RoleAssistant {
		return nil, fmt.Errorf("invalid message role %q", role)
	}
	now := s.stamp()
	msg := &types.Message{
		SessionID:  sessionID,
		Role:       role,
		Content:    content,
		ActionType: actionType,
		Reasoning:  reasoning,
		CreatedAt:  now,
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.touchSession(ctx, tx, sessionID, now); err != nil {
			return err
		}
		action := sql.NullString{String: actionType, Valid: actionType != ""}
		var reasoningVal sql.NullString
		if len(reasoning) > 0 {
			reasoningVal = sql.NullString{String: encodeJSON(reasoning), Valid: true}
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO messages (session_id, role, content, action_type, reasoning, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			sessionID, string(role), content, action, reasoningVal, formatTime(now))
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		msg.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		logging.StoreError("AddMessage(session=%d) failed: %v", sessionID, err)
		return nil, err
	}
	return msg, nil
}

// GetMessages returns a session's conversation oldest first.
func (s *LocalStore) GetMessages(ctx context.Context, sessionID int64) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getMessages(ctx, s.db, sessionID)
}

func (s *LocalStore) getMessages(ctx context.Context, q queryer, sessionID int64) ([]types.Message, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, session_id, role, content, action_type, reasoning, created_at FROM messages WHERE session_id = ? ORDER BY id",
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []types.Message{}
	for rows.Next() {
		var m types.Message
		var role, created string
		var action, reasoning sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &action, &reasoning, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = types.Role(role)
		m.ActionType = action.String
		if reasoning.Valid {
			m.Reasoning = decodeStrings(reasoning.String)
		}
		m.CreatedAt = parseTime(created)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
