package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"evidencelab/internal/config"
	"evidencelab/internal/perception"
	"evidencelab/internal/store"
	"evidencelab/internal/transparency"
	"evidencelab/internal/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func newTestEngine(t *testing.T, replies ...perception.MockReply) (*Engine, *perception.MockProvider) {
	t.Helper()
	st, err := store.NewLocalStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mock := perception.NewMockProvider(replies...)
	return NewEngine(st, perception.NewGateway(mock), config.DefaultConfig()), mock
}

func classify(intent types.Intent, params map[string]string) perception.MockReply {
	data, _ := json.Marshal(map[string]interface{}{
		"intent":               intent,
		"confidence":           "high",
		"reasoning":            "scripted",
		"extracted_parameters": params,
	})
	return perception.MockReply{Text: string(data)}
}

const extractionReply = `{
	"chunks": [
		{"content": "I gave up when shipping appeared at the last step", "evidence_type": "user_quote", "source": "Interview 1", "strength": "strong", "extraction_reasoning": "direct quote"},
		{"content": "Checkout drop-off rose 12% after the fee change", "evidence_type": "analytics_data", "source": "Dashboard", "strength": "moderate", "extraction_reasoning": "measured"}
	],
	"summary": "Shipping cost surprises at checkout",
	"concerns": ["Single interview"],
	"skipped": ["Greeting"]
}`

// seed adds chunks to a fresh current session and returns them.
func seed(t *testing.T, e *Engine, contents ...string) []types.EvidenceChunk {
	t.Helper()
	ctx := context.Background()
	id, err := e.EnsureSession(ctx)
	require.NoError(t, err)
	inputs := make([]types.ChunkInput, len(contents))
	for i, c := range contents {
		inputs[i] = types.ChunkInput{
			Content:      c,
			EvidenceType: types.EvidenceTypes[i%len(types.EvidenceTypes)],
			Source:       "Interview",
			SourceRaw:    "raw notes",
			Tags:         []string{"checkout"},
			Strength:     types.StrengthModerate,
		}
	}
	chunks, err := e.Store().BulkAddEvidenceChunks(ctx, id, inputs)
	require.NoError(t, err)
	return chunks
}

// =============================================================================
// ROUTED TURNS
// =============================================================================

func TestHandleTurnExtraction(t *testing.T) {
	e, mock := newTestEngine(t,
		classify(types.IntentExtraction, nil),
		perception.MockReply{Text: extractionReply},
	)

	res, err := e.HandleTurn(context.Background(), "Interview notes: shipping surprised the user...")
	require.NoError(t, err)
	require.False(t, res.Failed())

	assert.Equal(t, types.IntentExtraction, res.Classification.Intent)
	assert.Equal(t, "extraction", res.ActionType)
	assert.Contains(t, res.Reply, "**Extracted 2 evidence chunks** from your input.")
	assert.Contains(t, res.Reply, "**Summary:** Shipping cost surprises at checkout")
	assert.Contains(t, res.Reply, "*Skipped 1 items (not evidence)*")
	assert.Contains(t, res.Reply, "**Validation:** 2 chunks (analytics_data: 1, user_quote: 1)")

	require.Len(t, res.View.EvidenceChunks, 2)
	assert.Equal(t, types.EvidenceUserQuote, res.View.EvidenceChunks[0].EvidenceType)
	assert.Equal(t, "Interview notes: shipping surprised the user...", res.View.EvidenceChunks[0].SourceRaw)

	require.Len(t, res.View.Messages, 2)
	assert.Equal(t, types.RoleUser, res.View.Messages[0].Role)
	assert.Equal(t, "extraction", res.View.Messages[1].ActionType)
	assert.Contains(t, mock.Requests()[0].Prompt, "Previous action: none")
	assert.Equal(t, 0, mock.Pending())
}

func TestHandleTurnExtractionKeepsChunksBesideEmptyOne(t *testing.T) {
	e, _ := newTestEngine(t,
		classify(types.IntentExtraction, nil),
		perception.MockReply{Text: `{
			"chunks": [
				{"content": "Shipping fees surprised me at the end", "evidence_type": "user_quote", "source": "Interview 2", "strength": "strong", "extraction_reasoning": "direct quote"},
				{"content": "", "evidence_type": "analytics_data", "source": "Dashboard", "strength": "weak", "extraction_reasoning": "blank"}
			],
			"summary": "Fee surprise"
		}`},
	)

	res, err := e.HandleTurn(context.Background(), "Interview 2 notes about shipping fees")
	require.NoError(t, err)
	require.False(t, res.Failed(), res.Reply)

	require.Len(t, res.View.EvidenceChunks, 1)
	assert.Equal(t, "Shipping fees surprised me at the end", res.View.EvidenceChunks[0].Content)
	assert.Contains(t, res.Reply, "**Extracted 1 evidence chunks** from your input.")
	assert.Contains(t, res.Reply, "*1 chunks had no content and were not stored.*")
	assert.Contains(t, res.Reply, "- Issue: Chunk missing content")
	assert.Equal(t, "extraction", res.ActionType)
}

func TestHandleTurnPassesPreviousAction(t *testing.T) {
	e, mock := newTestEngine(t,
		classify(types.IntentExtraction, nil),
		perception.MockReply{Text: extractionReply},
		classify(types.IntentGeneralQuestion, nil),
	)
	ctx := context.Background()

	_, err := e.HandleTurn(ctx, "notes")
	require.NoError(t, err)
	res, err := e.HandleTurn(ctx, "what now?")
	require.NoError(t, err)

	reqs := mock.Requests()
	require.Len(t, reqs, 3)
	assert.Contains(t, reqs[2].Prompt, "Has evidence chunks: yes")
	assert.Contains(t, reqs[2].Prompt, "Previous action: extraction")
	assert.Contains(t, res.Reply, "I have **2 evidence chunks** loaded.")
}

func TestHandleTurnWithoutEvidence(t *testing.T) {
	e, mock := newTestEngine(t,
		classify(types.IntentHypothesisTest, map[string]string{"hypothesis": "users hate fees"}),
		classify(types.IntentFindPatterns, nil),
	)
	ctx := context.Background()

	res, err := e.HandleTurn(ctx, "Test my hypothesis that users hate fees")
	require.NoError(t, err)
	assert.Equal(t, "I don't have any evidence yet. Please paste your research first, and then I can test hypotheses against it.", res.Reply)

	res, err = e.HandleTurn(ctx, "What patterns do you see?")
	require.NoError(t, err)
	assert.Equal(t, "I don't have any evidence yet. Please paste your research first.", res.Reply)

	// Only the two classification calls reached the provider.
	assert.Len(t, mock.Requests(), 2)
	assert.Empty(t, res.View.Outputs)
	assert.Len(t, res.View.Messages, 4)
}

func TestHandleTurnHypothesisPersistsAndAnnotates(t *testing.T) {
	e, _ := newTestEngine(t)
	chunks := seed(t, e, "fees shock users", "one user liked the price", "unrelated remark")

	reply := `{
		"supporting_evidence": [{"evidence_id": ` + itoa(chunks[0].ID) + `, "content_summary": "fees shock", "relevance": "direct", "reasoning": "states it"}],
		"counter_evidence": [
			{"evidence_id": "` + itoa(chunks[1].ID) + `", "content_summary": "liked price", "severity": "minor", "reasoning": "one voice"},
			{"evidence_id": 999, "content_summary": "made up", "severity": "major", "reasoning": "not ours"}
		],
		"evidence_gaps": [{"gap": "No survey", "importance": "critical", "how_to_fill": "Run one"}],
		"verdict": "SUPPORTED",
		"confidence": "low",
		"confidence_reasoning": "thin base",
		"reasoning_trace": ["Step 1: sorted evidence"],
		"verdict_summary": "Holds for now."
	}`
	e, provider := engineWithReplies(t, e,
		classify(types.IntentHypothesisTest, map[string]string{"hypothesis": "Fees drive abandonment"}),
		perception.MockReply{Text: reply},
	)

	res, err := e.HandleTurn(context.Background(), "Test my hypothesis that fees drive abandonment")
	require.NoError(t, err)
	require.False(t, res.Failed(), res.Reply)

	assert.Contains(t, provider.Requests()[1].Prompt, "Fees drive abandonment")
	assert.Contains(t, res.Reply, "## Verdict: SUPPORTED")
	assert.Contains(t, res.Reply, "### Supporting Evidence (1 pieces)")
	assert.Contains(t, res.Reply, "- No survey *(Importance: critical)*")

	require.NotNil(t, res.Output)
	assert.Equal(t, types.OutputHypothesisTest, res.Output.OutputType)
	assert.Equal(t, "Hypothesis: Fees drive abandonment", res.Output.Title)
	assert.Equal(t, []int64{chunks[0].ID, chunks[1].ID}, res.Output.EvidenceUsed)
	assert.Equal(t, []int64{chunks[2].ID}, res.Output.EvidenceExcluded)
	assert.Equal(t, []string{"No survey"}, res.Output.GapsIdentified)
	require.Len(t, res.View.Outputs, 1)

	byID := map[int64]types.EvidenceChunk{}
	for _, c := range res.View.EvidenceChunks {
		byID[c.ID] = c
	}
	require.NotNil(t, byID[chunks[0].ID].SupportsHypothesis)
	assert.True(t, *byID[chunks[0].ID].SupportsHypothesis)
	require.NotNil(t, byID[chunks[1].ID].SupportsHypothesis)
	assert.False(t, *byID[chunks[1].ID].SupportsHypothesis)
	assert.Nil(t, byID[chunks[2].ID].SupportsHypothesis)
}

// engineWithReplies rebuilds e on the same store and session with a new
// scripted provider.
func TestHandleTurnHypothesisSurvivesFailedAnnotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.db")
	st, err := store.NewLocalStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	e := NewEngine(st, perception.NewGateway(perception.NewMockProvider()), config.DefaultConfig())
	chunks := seed(t, e, "fees shock users", "one user liked the price")

	// Reject every relevance update from a second connection.
	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TRIGGER block_relevance BEFORE UPDATE OF hypothesis_relevance ON evidence_chunks
		BEGIN SELECT RAISE(ABORT, 'relevance is read-only'); END`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	e, _ = engineWithReplies(t, e,
		classify(types.IntentHypothesisTest, map[string]string{"hypothesis": "Fees drive abandonment"}),
		perception.MockReply{Text: `{
			"supporting_evidence": [{"evidence_id": ` + itoa(chunks[0].ID) + `, "content_summary": "fees shock", "relevance": "direct", "reasoning": "states it"}],
			"verdict": "SUPPORTED", "confidence": "low", "confidence_reasoning": "One quote"
		}`},
	)

	res, err := e.HandleTurn(context.Background(), "Test my hypothesis that fees drive abandonment")
	require.NoError(t, err)
	require.False(t, res.Failed(), res.Reply)
	assert.Contains(t, res.Reply, "## Verdict: SUPPORTED")

	require.NotNil(t, res.Output)
	assert.Equal(t, []int64{chunks[0].ID}, res.Output.EvidenceUsed)
	want := "Hypothesis relevance for chunk " + itoa(chunks[0].ID) + " was not recorded"
	assert.Contains(t, res.Output.ReasoningTrace, want)
	assert.Contains(t, res.Reasoning, want)
	require.Len(t, res.View.Outputs, 1)
	for _, c := range res.View.EvidenceChunks {
		assert.Nil(t, c.SupportsHypothesis)
	}
}

func engineWithReplies(t *testing.T, e *Engine, replies ...perception.MockReply) (*Engine, *perception.MockProvider) {
	t.Helper()
	mock := perception.NewMockProvider(replies...)
	next := NewEngine(e.Store(), perception.NewGateway(mock), config.DefaultConfig())
	_, err := next.Use(context.Background(), e.Current())
	require.NoError(t, err)
	return next, mock
}

func itoa(id int64) string {
	data, _ := json.Marshal(id)
	return string(data)
}

func TestHandleTurnProviderErrorIsPersisted(t *testing.T) {
	e, _ := newTestEngine(t,
		perception.MockReply{Error: "connection reset"},
		perception.MockReply{Error: "401 Unauthorized: invalid API key"},
	)
	long := strings.Repeat("The user said checkout fees were a surprise. ", 20)

	res, err := e.HandleTurn(context.Background(), long)
	require.NoError(t, err)
	require.True(t, res.Failed())

	// The classifier failure fell back to the heuristic, which chose extraction.
	assert.True(t, res.Classification.Fallback)
	assert.Equal(t, types.IntentExtraction, res.Classification.Intent)

	assert.Equal(t, transparency.ErrorCategoryAuth, res.Failure.Category)
	assert.True(t, strings.HasPrefix(res.Reply, "Error: "), res.Reply)
	assert.True(t, strings.HasSuffix(res.Reply, "\n\nPlease verify your API key and retry."), res.Reply)

	require.Len(t, res.View.Messages, 2)
	assert.Equal(t, res.Reply, res.View.Messages[1].Content)
	assert.Empty(t, res.View.EvidenceChunks)
}

func TestHandleTurnSerializesSameSession(t *testing.T) {
	e, _ := newTestEngine(t,
		classify(types.IntentGeneralQuestion, nil),
		classify(types.IntentGeneralQuestion, nil),
		classify(types.IntentGeneralQuestion, nil),
	)
	ctx := context.Background()
	_, err := e.EnsureSession(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.HandleTurn(ctx, "hello")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	msgs, err := e.Store().GetMessages(ctx, e.Current())
	require.NoError(t, err)
	require.Len(t, msgs, 6)
	for i, m := range msgs {
		want := types.RoleUser
		if i%2 == 1 {
			want = types.RoleAssistant
		}
		assert.Equal(t, want, m.Role, "message %d", i)
	}
}

// =============================================================================
// SESSIONS
// =============================================================================

func TestResetArchivesCurrentSession(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := e.EnsureSession(ctx)
	require.NoError(t, err)
	sess, err := e.Reset(ctx, "Checkout study", "Why do users abandon checkout?")
	require.NoError(t, err)

	assert.NotEqual(t, first, sess.ID)
	assert.Equal(t, sess.ID, e.Current())
	assert.Equal(t, "Why do users abandon checkout?", sess.OpportunityStatement)

	old, err := e.Store().GetSession(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, types.SessionArchived, old.Status)
	assert.Empty(t, e.Gateway().CallLog())
}

func TestResetWaitsForRunningTurn(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := e.EnsureSession(ctx)
	require.NoError(t, err)

	// Hold the session's turn lock the way an in-flight turn does.
	sem := e.lockFor(first)
	require.NoError(t, sem.Acquire(ctx, 1))

	done := make(chan *types.Session, 1)
	go func() {
		sess, err := e.Reset(ctx, "Next study", "")
		assert.NoError(t, err)
		done <- sess
	}()

	select {
	case <-done:
		t.Fatal("Reset finished while a turn held the session")
	case <-time.After(50 * time.Millisecond):
	}
	old, err := e.Store().GetSession(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, types.SessionActive, old.Status)
	assert.Equal(t, first, e.Current())

	sem.Release(1)
	sess := <-done
	require.NotNil(t, sess)
	assert.Equal(t, sess.ID, e.Current())

	old, err = e.Store().GetSession(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, types.SessionArchived, old.Status)
}

func TestResetGivesUpWhenContextEnds(t *testing.T) {
	e, _ := newTestEngine(t)
	first, err := e.EnsureSession(context.Background())
	require.NoError(t, err)

	sem := e.lockFor(first)
	require.NoError(t, sem.Acquire(context.Background(), 1))
	defer sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = e.Reset(ctx, "", "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, first, e.Current())
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestRefineAddsOnlyNewChunks(t *testing.T) {
	e, mock := newTestEngine(t,
		classify(types.IntentExtraction, nil),
		perception.MockReply{Text: extractionReply},
		perception.MockReply{Text: `{
			"chunks": [
				{"content": "I gave up when shipping appeared at the last step", "evidence_type": "user_quote", "source": "Interview 1", "strength": "strong"},
				{"content": "User compared us to a competitor with free shipping", "evidence_type": "competitor_intel", "source": "Interview 1", "strength": "weak"}
			],
			"summary": "Added competitor mention",
			"changes_made": ["Split the competitor remark out"]
		}`},
	)
	ctx := context.Background()

	_, err := e.HandleTurn(ctx, "Interview notes")
	require.NoError(t, err)

	res, err := e.Refine(ctx, "You missed the competitor remark")
	require.NoError(t, err)
	require.False(t, res.Failed(), res.Reply)

	assert.Equal(t, "extraction_refinement", res.ActionType)
	assert.True(t, strings.HasPrefix(res.Reply, "**Changes made:**\n- Split the competitor remark out"))
	require.Len(t, res.View.EvidenceChunks, 3)
	assert.Equal(t, "User compared us to a competitor with free shipping", res.View.EvidenceChunks[2].Content)
	assert.Equal(t, "Interview notes", res.View.EvidenceChunks[2].SourceRaw)

	refinePrompt := mock.Requests()[2].Prompt
	assert.Contains(t, refinePrompt, "You missed the competitor remark")
	assert.Contains(t, refinePrompt, "Checkout drop-off rose 12% after the fee change")
}

func TestRefineWithoutExtraction(t *testing.T) {
	e, mock := newTestEngine(t)

	res, err := e.Refine(context.Background(), "more detail please")
	require.NoError(t, err)
	require.True(t, res.Failed())
	assert.ErrorIs(t, res.Failure, ErrNothingToRefine)
	assert.Empty(t, mock.Requests())
}

func TestChallengeUsesLastHypothesis(t *testing.T) {
	e, _ := newTestEngine(t)
	seed(t, e, "fees shock users", "one user liked the price")

	e, mock := engineWithReplies(t, e,
		classify(types.IntentHypothesisTest, map[string]string{"hypothesis": "Fees drive abandonment"}),
		perception.MockReply{Text: `{"verdict": "SUPPORTED", "confidence": "low", "confidence_reasoning": "thin"}`},
		perception.MockReply{Text: `{"verdict_changed": true, "verdict": "PARTIALLY_SUPPORTED", "confidence": "low", "explanation": "Fair point", "changes": ["Weighed the price quote"]}`},
	)
	ctx := context.Background()

	_, err := e.HandleTurn(ctx, "Test my hypothesis that fees drive abandonment")
	require.NoError(t, err)

	res, err := e.Challenge(ctx, "You ignored the price quote")
	require.NoError(t, err)
	require.False(t, res.Failed(), res.Reply)

	assert.Equal(t, "hypothesis_challenge", res.ActionType)
	assert.Contains(t, res.Reply, "**Verdict changed:**")
	require.NotNil(t, res.Output)
	assert.Equal(t, "Challenge: You ignored the price quote", res.Output.Title)
	assert.Contains(t, mock.Requests()[2].Prompt, "You ignored the price quote")
	assert.Len(t, res.View.Outputs, 2)
}

func TestChallengeWithoutHypothesis(t *testing.T) {
	e, _ := newTestEngine(t)

	res, err := e.Challenge(context.Background(), "are you sure?")
	require.NoError(t, err)
	assert.ErrorIs(t, res.Failure, ErrNoHypothesis)
	assert.True(t, strings.HasPrefix(res.Reply, "Error: no hypothesis test to challenge"))
}

func TestExportSummaryWithoutSummary(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.ExportSummary(context.Background(), "markdown")
	assert.ErrorIs(t, err, ErrNoSummary)
}

func TestExportImportRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	original := seed(t, e, "fees shock users", "one user liked the price", "support tickets mention fees")
	src := e.Current()

	for name, export := range map[string]func(context.Context, int64) ([]byte, error){
		"chunks":  e.ExportChunks,
		"session": e.ExportSession,
	} {
		t.Run(name, func(t *testing.T) {
			data, err := export(ctx, src)
			require.NoError(t, err)

			_, err = e.Reset(ctx, "", "")
			require.NoError(t, err)
			imported, err := e.Import(ctx, data)
			require.NoError(t, err)

			want := make([]types.ChunkInput, len(original))
			for i, c := range original {
				want[i] = c.Input()
			}
			got := make([]types.ChunkInput, len(imported))
			for i, c := range imported {
				got[i] = c.Input()
				assert.Equal(t, e.Current(), c.SessionID)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Import(context.Background(), []byte("   "))
	assert.Error(t, err)
	_, err = e.Import(context.Background(), []byte("[{"))
	assert.Error(t, err)
}

func TestImportNormalizesUnknownTypes(t *testing.T) {
	e, _ := newTestEngine(t)
	chunks, err := e.Import(context.Background(), []byte(`[{"content": "odd one", "evidence_type": "Rumour", "strength": "huge"}]`))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, types.EvidenceUnknown, chunks[0].EvidenceType)
	assert.Equal(t, types.StrengthUnknown, chunks[0].Strength)
}

func TestIngestTextForcesExtraction(t *testing.T) {
	e, mock := newTestEngine(t, perception.MockReply{Text: extractionReply})

	res, err := e.IngestText(context.Background(), "notes.md", "short note")
	require.NoError(t, err)
	assert.Equal(t, types.IntentExtraction, res.Classification.Intent)
	assert.Equal(t, "ingested from notes.md", res.Classification.Rationale)
	assert.Len(t, res.View.EvidenceChunks, 2)
	assert.Len(t, mock.Requests(), 1)

	_, err = e.IngestText(context.Background(), "empty.txt", "  \n")
	assert.Error(t, err)
}
