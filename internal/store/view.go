package store

import (
	"context"
	"database/sql"

	"evidencelab/internal/logging"
	"evidencelab/internal/types"
)

// SessionView loads a session with all of its chunks, outputs and messages
// in one read transaction. The result shares nothing with the store.
func (s *LocalStore) SessionView(ctx context.Context, id int64) (*types.SessionView, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SessionView")
	defer timer.Stop()

	var view *types.SessionView
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sess, err := s.getSession(ctx, tx, id)
		if err != nil {
			return err
		}
		chunks, err := s.getEvidenceChunks(ctx, tx, id)
		if err != nil {
			return err
		}
		outputs, err := s.getOutputs(ctx, tx, id, "")
		if err != nil {
			return err
		}
		messages, err := s.getMessages(ctx, tx, id)
		if err != nil {
			return err
		}
		view = &types.SessionView{
			ID:                   sess.ID,
			Title:                sess.Title,
			OpportunityStatement: sess.OpportunityStatement,
			Status:               sess.Status,
			CreatedAt:            sess.CreatedAt,
			UpdatedAt:            sess.UpdatedAt,
			EvidenceChunks:       chunks,
			Outputs:              outputs,
			Messages:             messages,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.StoreDebug("SessionView(%d): %d chunks, %d outputs, %d messages",
		id, len(view.EvidenceChunks), len(view.Outputs), len(view.Messages))
	return view, nil
}
