package perception

import (
	"context"
	"strings"
	"testing"

	"evidencelab/internal/config"
	"evidencelab/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(replies ...MockReply) (*IntentRouter, *MockProvider, *Gateway) {
	mock := NewMockProvider(replies...)
	g := NewGateway(mock)
	return NewIntentRouter(g, config.DefaultRoutingConfig()), mock, g
}

func TestClassifyFallbackLongInputNoEvidence(t *testing.T) {
	router, _, g := newTestRouter(MockReply{Error: "network unreachable"})

	c := router.Classify(context.Background(), strings.Repeat("a", 600), false, "")

	assert.Equal(t, types.IntentExtraction, c.Intent)
	assert.Equal(t, map[string]string{}, c.Parameters)
	assert.True(t, c.Fallback)
	// The failed attempt is still logged.
	require.Len(t, g.CallLog(), 1)
	assert.Equal(t, CallError, g.CallLog()[0].Status)
}

func TestClassifyFallbackShortInput(t *testing.T) {
	router, _, _ := newTestRouter(MockReply{Error: "network unreachable"})

	c := router.Classify(context.Background(), strings.Repeat("b", 50), false, "")

	assert.Equal(t, types.IntentGeneralQuestion, c.Intent)
	assert.Empty(t, c.Parameters)
	assert.True(t, c.Fallback)
}

func TestClassifyFallbackLongInputWithEvidence(t *testing.T) {
	router, _, _ := newTestRouter(MockReply{Error: "timeout"})

	c := router.Classify(context.Background(), strings.Repeat("c", 600), true, "extraction")

	assert.Equal(t, types.IntentGeneralQuestion, c.Intent)
}

func TestClassifyFallbackOnDegradedAndUnknownIntent(t *testing.T) {
	t.Run("unparseable", func(t *testing.T) {
		router, _, _ := newTestRouter(MockReply{Text: "I think this is extraction"})
		c := router.Classify(context.Background(), "short", false, "")
		assert.True(t, c.Fallback)
		assert.Equal(t, types.IntentGeneralQuestion, c.Intent)
	})

	t.Run("intent outside the closed set", func(t *testing.T) {
		router, _, _ := newTestRouter(MockReply{Text: `{"intent": "write_poem", "confidence": "high"}`})
		c := router.Classify(context.Background(), strings.Repeat("d", 700), false, "")
		assert.True(t, c.Fallback)
		assert.Equal(t, types.IntentExtraction, c.Intent)
	})
}

func TestClassifyKeepsIntentWhenParametersHaveTheWrongShape(t *testing.T) {
	router, _, _ := newTestRouter(MockReply{Text: `{
		"intent": "find_patterns",
		"confidence": "medium",
		"extracted_parameters": ["decision"]
	}`})

	c := router.Classify(context.Background(), "What patterns do you see?", true, "")

	assert.False(t, c.Fallback)
	assert.Equal(t, types.IntentFindPatterns, c.Intent)
	assert.Empty(t, c.Parameters)
}

func TestClassifySuccess(t *testing.T) {
	router, mock, _ := newTestRouter(MockReply{Text: "```json\n" + `{
		"intent": "hypothesis_test",
		"confidence": "HIGH",
		"reasoning": "User states a belief to check",
		"extracted_parameters": {"hypothesis": "Users abandon checkout due to shipping costs", "assumption": ""}
	}` + "\n```"})

	c := router.Classify(context.Background(), "Test: users abandon checkout due to shipping costs", true, "extraction")

	assert.False(t, c.Fallback)
	assert.Equal(t, types.IntentHypothesisTest, c.Intent)
	assert.Equal(t, "high", c.Confidence)
	assert.Equal(t, map[string]string{ParamHypothesis: "Users abandon checkout due to shipping costs"}, c.Parameters)
	assert.NotEmpty(t, c.CallID)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].Structured)
	assert.InDelta(t, 0.1, reqs[0].Temperature, 1e-6)
	assert.Contains(t, reqs[0].Prompt, "Has evidence chunks: yes")
	assert.Contains(t, reqs[0].Prompt, "Previous action: extraction")
}

func TestClassifyDefaultsConfidenceAndTruncatesInput(t *testing.T) {
	router, mock, _ := newTestRouter(MockReply{Text: `{"intent": "find_patterns"}`})

	input := strings.Repeat("z", 1500)
	c := router.Classify(context.Background(), input, true, "")

	assert.Equal(t, types.IntentFindPatterns, c.Intent)
	assert.Equal(t, "medium", c.Confidence)

	prompt := mock.Requests()[0].Prompt
	assert.Contains(t, prompt, strings.Repeat("z", 1000))
	assert.NotContains(t, prompt, strings.Repeat("z", 1001))
	assert.Contains(t, prompt, "Previous action: none")
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héllo", truncateRunes("héllo wörld", 5))
	assert.Equal(t, "short", truncateRunes("short", 10))
	assert.Equal(t, "unbounded", truncateRunes("unbounded", 0))
}
