package perception

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirect(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"object", `{"chunks": []}`, false},
		{"object with whitespace", "\n  {\"a\": 1}  \n", false},
		{"array is not an object", `[1, 2]`, true},
		{"null is not an object", `null`, true},
		{"prose", `Here you go: {"a": 1}`, true},
		{"empty", "   ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseDirect(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseFenced(t *testing.T) {
	t.Run("json fence surrounded by prose", func(t *testing.T) {
		raw := "Sure! Here is the analysis.\n```json\n{\"verdict\": \"SUPPORTED\", \"note\": \"a } brace\"}\n```\nLet me know if you need more."
		payload, ok := parseFenced(raw)
		require.True(t, ok)
		assert.JSONEq(t, `{"verdict": "SUPPORTED", "note": "a } brace"}`, string(payload))
	})

	t.Run("bare fence with nested object", func(t *testing.T) {
		raw := "```\n{\"outer\": {\"inner\": [1, 2]}}\n```"
		payload, ok := parseFenced(raw)
		require.True(t, ok)
		assert.JSONEq(t, `{"outer": {"inner": [1, 2]}}`, string(payload))
	})

	t.Run("skips invalid block and takes the next", func(t *testing.T) {
		raw := "```json\n{not valid}\n```\nretry:\n```json\n{\"ok\": true}\n```"
		payload, ok := parseFenced(raw)
		require.True(t, ok)
		assert.JSONEq(t, `{"ok": true}`, string(payload))
	})

	t.Run("no fence", func(t *testing.T) {
		_, ok := parseFenced(`{"a": 1}`)
		assert.False(t, ok)
	})
}

func TestParseBraceScan(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"preamble", `Here is the JSON: {"key": "value"} thanks`, `{"key": "value"}`},
		{"nested", `result {"outer": {"inner": "value"}} end`, `{"outer": {"inner": "value"}}`},
		{"valid inside invalid", `{ invalid json { "valid": "inside" } }`, `{ "valid": "inside" }`},
		{"first of two", `{"first": 1} and {"second": 2}`, `{"first": 1}`},
		{"braces in strings", `x {"text": "use {curly} braces"} y`, `{"text": "use {curly} braces"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, ok := parseBraceScan(tt.input)
			require.True(t, ok)
			assert.Equal(t, tt.expected, string(payload))
		})
	}

	_, ok := parseBraceScan("no objects here at all")
	assert.False(t, ok)
}

func TestParseStructuredStages(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		stage ParseStage
	}{
		{"direct", `{"a": 1}`, StageDirect},
		{"fenced", "prose\n```json\n{\"a\": 1}\n```\nmore prose", StageFenced},
		{"brace scan", `The answer is {"a": 1}, as requested.`, StageBraceScan},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, stage, err := ParseStructured(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.stage, stage)

			var m map[string]int
			require.NoError(t, json.Unmarshal(payload, &m))
			assert.Equal(t, map[string]int{"a": 1}, m)
		})
	}

	t.Run("total failure", func(t *testing.T) {
		payload, stage, err := ParseStructured("I could not produce JSON, sorry.")
		assert.Error(t, err)
		assert.Nil(t, payload)
		assert.Equal(t, StageFailed, stage)
	})
}

func TestFencedPayloadExcludesProse(t *testing.T) {
	raw := "Analysis complete. Key points below.\n\n```json\n{\"patterns\": [{\"theme\": \"Onboarding friction\"}], \"synthesis_summary\": \"One theme\"}\n```\n\nHope this helps!"

	payload, stage, err := ParseStructured(raw)
	require.NoError(t, err)
	assert.Equal(t, StageFenced, stage)
	assert.NotContains(t, string(payload), "Hope this helps")
	assert.NotContains(t, string(payload), "Analysis complete")

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, "One theme", got["synthesis_summary"])
	assert.Len(t, got["patterns"], 1)
}

func TestNewParseFailure(t *testing.T) {
	f := newParseFailure("raw text", assert.AnError)
	assert.Equal(t, parseFailureMessage, f.Error)
	assert.Equal(t, "raw text", f.RawResponse)
	assert.True(t, f.FallbackAttempted)

	data := marshalPayload(f)
	assert.True(t, strings.Contains(string(data), `"fallback_attempted":true`))
}
