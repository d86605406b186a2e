package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"evidencelab/internal/logging"
	"evidencelab/internal/types"
)

// =============================================================================
// EVIDENCE CHUNKS
// =============================================================================

const chunkColumns = `id, session_id, content, evidence_type, source, source_raw, tags, strength,
	supports_hypothesis, hypothesis_relevance, extraction_reasoning, created_at`

// AddEvidenceChunk stores one chunk under sessionID.
func (s *LocalStore) AddEvidenceChunk(ctx context.Context, sessionID int64, in types.ChunkInput) (*types.EvidenceChunk, error) {
	chunks, err := s.BulkAddEvidenceChunks(ctx, sessionID, []types.ChunkInput{in})
	if err != nil {
		return nil, err
	}
	return &chunks[0], nil
}

// BulkAddEvidenceChunks stores chunks in one transaction: either all are
// written or none are.
func (s *LocalStore) BulkAddEvidenceChunks(ctx context.Context, sessionID int64, inputs []types.ChunkInput) ([]types.EvidenceChunk, error) {
	timer := logging.StartTimer(logging.CategoryStore, "BulkAddEvidenceChunks")
	defer timer.Stop()

	out := make([]types.EvidenceChunk, 0, len(inputs))
	if len(inputs) == 0 {
		return out, nil
	}
	now := s.stamp()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.touchSession(ctx, tx, sessionID, now); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO evidence_chunks
			(session_id, content, evidence_type, source, source_raw, tags, strength, extraction_reasoning, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare chunk insert: %w", err)
		}
		defer stmt.Close()

		for i, in := range inputs {
			if strings.TrimSpace(in.Content) == "" {
				return fmt.Errorf("chunk %d has empty content", i+1)
			}
			chunk := types.EvidenceChunk{
				SessionID:           sessionID,
				Content:             in.Content,
				EvidenceType:        in.EvidenceType,
				Source:              in.Source,
				SourceRaw:           in.SourceRaw,
				Tags:                nonNilStrings(in.Tags),
				Strength:            in.Strength,
				ExtractionReasoning: in.ExtractionReasoning,
				CreatedAt:           now,
			}
			if chunk.EvidenceType == "" {
				chunk.EvidenceType = types.EvidenceUnknown
			}
			if chunk.Strength == "" {
				chunk.Strength = types.StrengthUnknown
			}
			res, err := stmt.ExecContext(ctx, sessionID, chunk.Content, string(chunk.EvidenceType), chunk.Source,
				chunk.SourceRaw, encodeJSON(chunk.Tags), string(chunk.Strength), chunk.ExtractionReasoning, formatTime(now))
			if err != nil {
				return fmt.Errorf("failed to insert chunk %d: %w", i+1, err)
			}
			if chunk.ID, err = res.LastInsertId(); err != nil {
				return err
			}
			out = append(out, chunk)
		}
		return nil
	})
	if err != nil {
		logging.StoreError("BulkAddEvidenceChunks(session=%d, n=%d) failed: %v", sessionID, len(inputs), err)
		return nil, err
	}

	logging.Store("Stored %d evidence chunks in session %d", len(out), sessionID)
	return out, nil
}

func scanChunk(row rowScanner) (*types.EvidenceChunk, error) {
	var c types.EvidenceChunk
	var evType, strength, tags, created string
	var supports sql.NullInt64
	var relevance sql.NullString
	if err := row.Scan(&c.ID, &c.SessionID, &c.Content, &evType, &c.Source, &c.SourceRaw, &tags, &strength,
		&supports, &relevance, &c.ExtractionReasoning, &created); err != nil {
		return nil, err
	}
	c.EvidenceType = types.EvidenceType(evType)
	c.Strength = types.Strength(strength)
	c.Tags = decodeStrings(tags)
	if supports.Valid {
		b := supports.Int64 != 0
		c.SupportsHypothesis = &b
	}
	c.HypothesisRelevance = relevance.String
	c.CreatedAt = parseTime(created)
	return &c, nil
}

// GetEvidenceChunks returns a session's chunks in insertion order.
func (s *LocalStore) GetEvidenceChunks(ctx context.Context, sessionID int64) ([]types.EvidenceChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getEvidenceChunks(ctx, s.db, sessionID)
}

func (s *LocalStore) getEvidenceChunks(ctx context.Context, q queryer, sessionID int64) ([]types.EvidenceChunk, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+chunkColumns+" FROM evidence_chunks WHERE session_id = ? ORDER BY id", sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	chunks := []types.EvidenceChunk{}
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, *c)
	}
	return chunks, rows.Err()
}

// AnnotateHypothesisRelevance records how a chunk bears on the last tested
// hypothesis. It is the only mutation a stored chunk allows. supports may be
// nil for neutral evidence.
func (s *LocalStore) AnnotateHypothesisRelevance(ctx context.Context, chunkID int64, supports *bool, relevance string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var sessionID int64
		err := tx.QueryRowContext(ctx, "SELECT session_id FROM evidence_chunks WHERE id = ?", chunkID).Scan(&sessionID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("chunk %d: %w", chunkID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load chunk %d: %w", chunkID, err)
		}

		var supportsVal sql.NullInt64
		if supports != nil {
			supportsVal = sql.NullInt64{Int64: boolToInt(*supports), Valid: true}
		}
		relevanceVal := sql.NullString{String: relevance, Valid: relevance != ""}
		if _, err := tx.ExecContext(ctx,
			"UPDATE evidence_chunks SET supports_hypothesis = ?, hypothesis_relevance = ? WHERE id = ?",
			supportsVal, relevanceVal, chunkID); err != nil {
			return fmt.Errorf("failed to annotate chunk %d: %w", chunkID, err)
		}
		return s.touchSession(ctx, tx, sessionID, s.stamp())
	})
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// encodeJSON writes list columns; nil slices become "[]".
func encodeJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return "[]"
	}
	return string(data)
}

func decodeStrings(s string) []string {
	out := []string{}
	if s == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		logging.StoreDebug("Malformed string list column: %v", err)
		return []string{}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func decodeIDs(s string) []int64 {
	out := []int64{}
	if s == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		logging.StoreDebug("Malformed id list column: %v", err)
		return []int64{}
	}
	if out == nil {
		out = []int64{}
	}
	return out
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilIDs(s []int64) []int64 {
	if s == nil {
		return []int64{}
	}
	return s
}
