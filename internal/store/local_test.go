package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"evidencelab/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock advances one second per call so updated_at ordering is stable.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore(t *testing.T) (*LocalStore, *fakeClock) {
	t.Helper()
	s, err := NewLocalStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)}
	s.now = clock.Now
	return s, clock
}

func sampleInputs() []types.ChunkInput {
	return []types.ChunkInput{
		{Content: "I export to Excel every Monday", EvidenceType: types.EvidenceUserQuote, Source: "Interview 1", Tags: []string{"reporting"}, Strength: types.StrengthStrong},
		{Content: "Dashboard visits fell 30%", EvidenceType: types.EvidenceAnalyticsData, Source: "Amplitude", Strength: types.StrengthModerate},
	}
}

func TestCreateSession(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, types.SessionActive, sess.Status)
	assert.Regexp(t, `^Session \d{4}-\d{2}-\d{2} \d{2}:\d{2}$`, sess.Title)

	view, err := s.SessionView(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, view.EvidenceChunks)
	assert.Empty(t, view.Outputs)
	assert.Empty(t, view.Messages)
	assert.NotNil(t, view.EvidenceChunks)

	named, err := s.CreateSession(ctx, "  Onboarding research ", "Why do trials stall?")
	require.NoError(t, err)
	assert.Equal(t, "Onboarding research", named.Title)
	assert.NotEqual(t, sess.ID, named.ID)
}

func TestGetSessionNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.GetSession(context.Background(), 999)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestArchiveSessionIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "t", "")
	require.NoError(t, err)

	require.NoError(t, s.ArchiveSession(ctx, sess.ID))
	first, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionArchived, first.Status)

	require.NoError(t, s.ArchiveSession(ctx, sess.ID))
	second, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionArchived, second.Status)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt, "second archive must not touch the session")

	assert.ErrorIs(t, s.ArchiveSession(ctx, 404), ErrNotFound)
}

func TestWritesTouchSession(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "t", "")
	require.NoError(t, err)
	last := sess.UpdatedAt

	assertTouched := func(step string) {
		t.Helper()
		got, err := s.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.True(t, got.UpdatedAt.After(last), "%s did not bump updated_at", step)
		last = got.UpdatedAt
	}

	chunk, err := s.AddEvidenceChunk(ctx, sess.ID, sampleInputs()[0])
	require.NoError(t, err)
	assertTouched("AddEvidenceChunk")

	_, err = s.BulkAddEvidenceChunks(ctx, sess.ID, sampleInputs())
	require.NoError(t, err)
	assertTouched("BulkAddEvidenceChunks")

	_, err = s.AddOutput(ctx, sess.ID, types.Output{OutputType: types.OutputPatternSynthesis, Title: "Patterns"})
	require.NoError(t, err)
	assertTouched("AddOutput")

	_, err = s.AddMessage(ctx, sess.ID, types.RoleUser, "hi", "", nil)
	require.NoError(t, err)
	assertTouched("AddMessage")

	supports := true
	require.NoError(t, s.AnnotateHypothesisRelevance(ctx, chunk.ID, &supports, "direct: quote"))
	assertTouched("AnnotateHypothesisRelevance")

	title := "renamed"
	_, err = s.UpdateSession(ctx, sess.ID, SessionUpdate{Title: &title})
	require.NoError(t, err)
	assertTouched("UpdateSession")
}

func TestBulkAddEvidenceChunks(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "t", "")
	require.NoError(t, err)

	stored, err := s.BulkAddEvidenceChunks(ctx, sess.ID, sampleInputs())
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Less(t, stored[0].ID, stored[1].ID)

	chunks, err := s.GetEvidenceChunks(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, []string{"reporting"}, chunks[0].Tags)
	assert.Equal(t, []string{}, chunks[1].Tags)
	assert.Equal(t, types.EvidenceAnalyticsData, chunks[1].EvidenceType)
	assert.Nil(t, chunks[0].SupportsHypothesis)
	assert.Equal(t, stored[0].CreatedAt, chunks[0].CreatedAt)

	empty, err := s.BulkAddEvidenceChunks(ctx, sess.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestBulkAddIsAtomic(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "t", "")
	require.NoError(t, err)

	inputs := append(sampleInputs(), types.ChunkInput{Content: "   "})
	_, err = s.BulkAddEvidenceChunks(ctx, sess.ID, inputs)
	require.Error(t, err)

	chunks, err := s.GetEvidenceChunks(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = s.BulkAddEvidenceChunks(ctx, 12345, sampleInputs())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAnnotateHypothesisRelevance(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "t", "")
	require.NoError(t, err)
	stored, err := s.BulkAddEvidenceChunks(ctx, sess.ID, sampleInputs())
	require.NoError(t, err)

	no := false
	require.NoError(t, s.AnnotateHypothesisRelevance(ctx, stored[0].ID, &no, "high: contradicts"))
	require.NoError(t, s.AnnotateHypothesisRelevance(ctx, stored[1].ID, nil, "neutral: unrelated"))

	chunks, err := s.GetEvidenceChunks(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, chunks[0].SupportsHypothesis)
	assert.False(t, *chunks[0].SupportsHypothesis)
	assert.Equal(t, "high: contradicts", chunks[0].HypothesisRelevance)
	assert.Nil(t, chunks[1].SupportsHypothesis)
	assert.Equal(t, "neutral: unrelated", chunks[1].HypothesisRelevance)
	assert.Equal(t, stored[0].Content, chunks[0].Content)

	assert.ErrorIs(t, s.AnnotateHypothesisRelevance(ctx, 777, nil, "x"), ErrNotFound)
}

func TestOutputs(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "t", "")
	require.NoError(t, err)

	_, err = s.AddOutput(ctx, sess.ID, types.Output{
		OutputType:      types.OutputHypothesisTest,
		Title:           "Hypothesis Test: users want filters",
		Content:         `{"verdict":"SUPPORTED"}`,
		ReasoningTrace:  []string{"read", "weighed"},
		EvidenceUsed:    []int64{1, 2},
		ConfidenceLevel: "medium",
		GapsIdentified:  []string{"no enterprise data"},
	})
	require.NoError(t, err)
	_, err = s.AddOutput(ctx, sess.ID, types.Output{OutputType: types.OutputPatternSynthesis})
	require.NoError(t, err)

	all, err := s.GetOutputs(ctx, sess.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	hyp, err := s.GetOutputs(ctx, sess.ID, types.OutputHypothesisTest)
	require.NoError(t, err)
	require.Len(t, hyp, 1)
	assert.Equal(t, []int64{1, 2}, hyp[0].EvidenceUsed)
	assert.Equal(t, []int64{}, hyp[0].EvidenceExcluded)
	assert.Equal(t, []string{"read", "weighed"}, hyp[0].ReasoningTrace)
	assert.Equal(t, []string{}, hyp[0].Caveats)

	_, err = s.AddOutput(ctx, sess.ID, types.Output{})
	assert.Error(t, err)
}

func TestMessages(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "t", "")
	require.NoError(t, err)

	_, err = s.AddMessage(ctx, sess.ID, types.RoleUser, "test my hypothesis", "", nil)
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, sess.ID, types.RoleAssistant, "SUPPORTED", "hypothesis_test", []string{"step 1"})
	require.NoError(t, err)

	msgs, err := s.GetMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Empty(t, msgs[0].ActionType)
	assert.Nil(t, msgs[0].Reasoning)
	assert.Equal(t, "hypothesis_test", msgs[1].ActionType)
	assert.Equal(t, []string{"step 1"}, msgs[1].Reasoning)

	_, err = s.AddMessage(ctx, sess.ID, "system", "x", "", nil)
	assert.Error(t, err)
}

func TestListSessions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateSession(ctx, "a", "")
	require.NoError(t, err)
	b, err := s.CreateSession(ctx, "b", "")
	require.NoError(t, err)
	c, err := s.CreateSession(ctx, "c", "")
	require.NoError(t, err)

	// Touching a moves it to the front.
	_, err = s.AddMessage(ctx, a.ID, types.RoleUser, "hi", "", nil)
	require.NoError(t, err)
	require.NoError(t, s.ArchiveSession(ctx, b.ID))

	all, err := s.ListSessions(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID, a.ID, c.ID}, sessionIDs(all))

	active, err := s.ListSessions(ctx, types.SessionActive, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, c.ID}, sessionIDs(active))

	limited, err := s.ListSessions(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func sessionIDs(sessions []types.Session) []int64 {
	ids := make([]int64, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	return ids
}

func TestUpdateSession(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "old", "")
	require.NoError(t, err)

	opp := "Reduce time-to-first-report"
	got, err := s.UpdateSession(ctx, sess.ID, SessionUpdate{OpportunityStatement: &opp})
	require.NoError(t, err)
	assert.Equal(t, "old", got.Title)
	assert.Equal(t, opp, got.OpportunityStatement)

	blank := " "
	_, err = s.UpdateSession(ctx, sess.ID, SessionUpdate{Title: &blank})
	assert.Error(t, err)

	_, err = s.UpdateSession(ctx, 999, SessionUpdate{Title: &opp})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionViewIsASnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "t", "Opportunity")
	require.NoError(t, err)
	_, err = s.BulkAddEvidenceChunks(ctx, sess.ID, sampleInputs())
	require.NoError(t, err)

	view, err := s.SessionView(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, view.EvidenceChunks, 2)
	assert.Equal(t, "Opportunity", view.OpportunityStatement)

	view.EvidenceChunks[0].Content = "mutated"
	view.EvidenceChunks[0].Tags[0] = "mutated"

	again, err := s.SessionView(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "I export to Excel every Monday", again.EvidenceChunks[0].Content)
	assert.Equal(t, []string{"reporting"}, again.EvidenceChunks[0].Tags)

	_, err = s.SessionView(ctx, 31337)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreReopensFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "evidence.db")
	s, err := NewLocalStore(path)
	require.NoError(t, err)
	sess, err := s.CreateSession(context.Background(), "persisted", "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewLocalStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Title)
	assert.Equal(t, s.Path(), path)
}

func TestRunMigrationsAddsMissingColumns(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE messages (id INTEGER PRIMARY KEY, session_id INTEGER, role TEXT, content TEXT, created_at TEXT)`)
	require.NoError(t, err)
	assert.Equal(t, 0, GetSchemaVersion(db))

	require.NoError(t, RunMigrations(db))
	assert.True(t, columnExists(db, "messages", "reasoning"))
	assert.True(t, columnExists(db, "messages", "action_type"))
	assert.False(t, tableExists(db, "evidence_chunks"))
	assert.Equal(t, CurrentSchemaVersion, GetSchemaVersion(db))

	// Running again is harmless.
	require.NoError(t, RunMigrations(db))
}
