package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"evidencelab/internal/config"
	"evidencelab/internal/perception"
	"evidencelab/internal/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(replies ...perception.MockReply) (*Pipeline, *perception.MockProvider) {
	mock := perception.NewMockProvider(replies...)
	return NewPipeline(perception.NewGateway(mock), config.DefaultValidationConfig()), mock
}

const notes = `Interview with Sarah (PM at Acme): "I export to Excel every Friday because the dashboard can't filter by region."
Observed: she opened three browser tabs to compare reports.`

func TestExtractNormalizesChunks(t *testing.T) {
	p, mock := newTestPipeline(perception.MockReply{Text: `{
		"chunks": [
			{"content": " I export to Excel every Friday ", "evidence_type": "User Quote", "source": "Interview - Sarah",
			 "tags": ["Reporting", "export"], "strength": "STRONG", "extraction_reasoning": "Direct workaround"},
			{"content": "Opened three tabs to compare reports", "evidence_type": "behavioral-observation", "source": "Interview - Sarah",
			 "tags": "comparison", "strength": "moderate", "extraction_reasoning": "Observed behavior"},
			{"content": "Probably churn risk", "evidence_type": "gut_feeling", "source": "", "strength": "very strong"}
		],
		"summary": "Two workarounds around reporting",
		"concerns": ["Single interviewee"],
		"skipped": ["Small talk about the weather"]
	}`})

	res, err := p.Extract(context.Background(), notes, "")
	require.NoError(t, err)
	require.Nil(t, res.Degraded)

	want := []types.ChunkInput{
		{
			Content: "I export to Excel every Friday", EvidenceType: types.EvidenceUserQuote,
			Source: "Interview - Sarah", SourceRaw: notes, Tags: []string{"reporting", "export"},
			Strength: types.StrengthStrong, ExtractionReasoning: "Direct workaround",
		},
		{
			Content: "Opened three tabs to compare reports", EvidenceType: types.EvidenceBehavioralObservation,
			Source: "Interview - Sarah", SourceRaw: notes, Tags: []string{"comparison"},
			Strength: types.StrengthModerate, ExtractionReasoning: "Observed behavior",
		},
		{
			Content: "Probably churn risk", EvidenceType: types.EvidenceUnknown,
			SourceRaw: notes, Tags: []string{}, Strength: types.StrengthUnknown,
		},
	}
	if diff := cmp.Diff(want, res.Chunks); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "Two workarounds around reporting", res.Summary)
	assert.Equal(t, []string{"Single interviewee"}, res.Concerns)
	assert.Equal(t, []string{"Small talk about the weather"}, res.Skipped)
	assert.Equal(t, []string{"Extracted 3 evidence chunks", "Noted concerns: Single interviewee", "Skipped items: 1"}, res.ReasoningTrace)

	req := mock.Requests()[0]
	assert.Contains(t, req.Prompt, notes)
	assert.Contains(t, req.Prompt, noContext)
	assert.True(t, req.Structured)
}

func TestExtractAcceptsBareStringChunks(t *testing.T) {
	p, _ := newTestPipeline(perception.MockReply{Text: `{
		"chunks": [
			"I export to Excel every Friday",
			{"content": "Opened three tabs", "evidence_type": "behavioral_observation", "tags": {"area": "reports"}}
		],
		"summary": "Reporting workarounds"
	}`})

	res, err := p.Extract(context.Background(), notes, "")
	require.NoError(t, err)
	require.Nil(t, res.Degraded)
	require.Len(t, res.Chunks, 2)

	assert.Equal(t, "I export to Excel every Friday", res.Chunks[0].Content)
	assert.Equal(t, types.EvidenceUnknown, res.Chunks[0].EvidenceType)
	assert.Equal(t, notes, res.Chunks[0].SourceRaw)
	assert.Equal(t, "Opened three tabs", res.Chunks[1].Content)
	assert.Equal(t, types.EvidenceBehavioralObservation, res.Chunks[1].EvidenceType)
	assert.Equal(t, "Reporting workarounds", res.Summary)
}

func TestExtractKeepsSummaryWhenChunksHaveTheWrongShape(t *testing.T) {
	p, _ := newTestPipeline(perception.MockReply{Text: `{"chunks": {"content": "one chunk, not a list"}, "summary": "Odd reply", "concerns": ["Thin"]}`})

	res, err := p.Extract(context.Background(), notes, "")
	require.NoError(t, err)
	require.Nil(t, res.Degraded)

	assert.Empty(t, res.Chunks)
	assert.Equal(t, "Odd reply", res.Summary)
	assert.Equal(t, []string{"Thin"}, res.Concerns)
	assert.Contains(t, res.ReasoningTrace, `Reply field "chunks" had an unexpected shape (object) and was skipped`)
}

func TestExtractDegradedReply(t *testing.T) {
	p, _ := newTestPipeline(perception.MockReply{Text: "Sorry, I can't help with that."})

	res, err := p.Extract(context.Background(), notes, "Q3 discovery")
	require.NoError(t, err)
	require.NotNil(t, res.Degraded)
	assert.True(t, res.Degraded.FallbackAttempted)
	assert.Empty(t, res.Chunks)
	assert.NotEmpty(t, res.CallID)
}

func TestExtractProviderError(t *testing.T) {
	p, _ := newTestPipeline(perception.MockReply{Error: "invalid api key"})

	_, err := p.Extract(context.Background(), notes, "")
	var perr *perception.ReasoningProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "extraction", perr.Action)
}

func TestExtractRejectsEmptyInput(t *testing.T) {
	p, mock := newTestPipeline()
	_, err := p.Extract(context.Background(), "   ", "")
	assert.Error(t, err)
	assert.Empty(t, mock.Requests())
}

func TestRefine(t *testing.T) {
	p, mock := newTestPipeline(perception.MockReply{Text: `{
		"chunks": [{"content": "Exports weekly", "evidence_type": "user_quote", "source": "Sarah", "strength": "strong", "extraction_reasoning": "split"}],
		"summary": "Refined",
		"changes_made": ["Split the export quote", "Dropped the speculation chunk"]
	}`})

	previous := &ExtractionResult{
		Chunks:  []types.ChunkInput{{Content: "Probably churn risk", EvidenceType: types.EvidenceUnknown}},
		Summary: "first pass",
	}
	res, err := p.Refine(context.Background(), notes, previous, "drop anything speculative")
	require.NoError(t, err)

	assert.Equal(t, []string{"Split the export quote", "Dropped the speculation chunk"}, res.ChangesMade)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, types.EvidenceUserQuote, res.Chunks[0].EvidenceType)

	req := mock.Requests()[0]
	assert.Contains(t, req.Prompt, "drop anything speculative")
	assert.Contains(t, req.Prompt, "Probably churn risk")

	_, err = p.Refine(context.Background(), notes, previous, " ")
	assert.Error(t, err)
}

func TestValidateChunksCountIdentity(t *testing.T) {
	cfg := config.DefaultValidationConfig()
	for _, n := range []int{0, 1, 4, 5, 12} {
		chunks := make([]types.ChunkInput, n)
		for i := range chunks {
			chunks[i] = types.ChunkInput{Content: "x", EvidenceType: types.EvidenceTypes[i%len(types.EvidenceTypes)], Source: "s", Strength: types.StrengthModerate, ExtractionReasoning: "r"}
		}
		report := ValidateChunks(chunks, cfg)
		assert.Equal(t, n, report.TotalCount)
		assert.Empty(t, report.Issues)
	}
}

func TestValidateChunksEmpty(t *testing.T) {
	report := ValidateChunks(nil, config.DefaultValidationConfig())

	assert.Equal(t, 0, report.TotalCount)
	assert.Empty(t, report.CountsByType)
	assert.Empty(t, report.Issues)
	assert.Equal(t, []string{"Small evidence base. Conclusions may not be well-supported."}, report.Suggestions)
}

func TestValidateChunksSingleType(t *testing.T) {
	chunks := make([]types.ChunkInput, 7)
	for i := range chunks {
		chunks[i] = types.ChunkInput{Content: "quote", EvidenceType: types.EvidenceUserQuote, Source: "Interview", Strength: types.StrengthStrong, ExtractionReasoning: "direct"}
	}

	report := ValidateChunks(chunks, config.DefaultValidationConfig())

	assert.Equal(t, 7, report.CountsByType[types.EvidenceUserQuote])
	assert.Equal(t, []string{
		"All evidence is type 'user_quote'. Consider gathering other evidence types for stronger validation.",
	}, report.Suggestions)
}

func TestValidateChunksIssuesAndStrength(t *testing.T) {
	chunks := []types.ChunkInput{
		{EvidenceType: types.EvidenceSupportTicket, Strength: types.StrengthWeak},
		{Content: "c", Source: "s", ExtractionReasoning: "r", EvidenceType: types.EvidenceUnknown, Strength: types.StrengthWeak},
		{Content: "c", Source: "s", ExtractionReasoning: "r", EvidenceType: types.EvidenceAnalyticsData, Strength: types.StrengthStrong},
	}

	report := ValidateChunks(chunks, config.ValidationConfig{SmallSampleThreshold: 2})

	assert.Equal(t, []string{
		"Chunk missing content",
		"Chunk missing source attribution",
		"Chunk missing extraction reasoning",
		"Chunk has unrecognized evidence type",
	}, report.Issues)
	assert.Equal(t, []string{
		"More weak evidence than strong. Consider gathering more direct evidence.",
	}, report.Suggestions)
	assert.Equal(t, 2, report.CountsByStrength[types.StrengthWeak])
	assert.Equal(t, 0, report.CountsByStrength[types.StrengthModerate])
	assert.True(t, report.HasFindings())
}

func TestFormatReport(t *testing.T) {
	report := ValidateChunks([]types.ChunkInput{
		{Content: "c", Source: "s", ExtractionReasoning: "r", EvidenceType: types.EvidenceUserQuote, Strength: types.StrengthStrong},
		{Content: "c", Source: "s", ExtractionReasoning: "r", EvidenceType: types.EvidenceAnalyticsData, Strength: types.StrengthStrong},
	}, config.DefaultValidationConfig())

	out := FormatReport(report)
	assert.True(t, strings.HasPrefix(out, "**Validation:** 2 chunks (analytics_data: 1, user_quote: 1)\n"))
	assert.Contains(t, out, "- Suggestion: Small evidence base.")
}
