// Package analysis interrogates a session's evidence: hypothesis tests,
// pattern synthesis, clustering and confidence assessment. Every operation is
// one gateway call followed by local normalization of the reply.
package analysis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"evidencelab/internal/config"
	"evidencelab/internal/perception"
	"evidencelab/internal/types"
)

const (
	ActionHypothesisTest       = "hypothesis_test"
	ActionHypothesisChallenge  = "hypothesis_challenge"
	ActionPatternSynthesis     = "pattern_synthesis"
	ActionClustering           = "clustering"
	ActionConfidenceAssessment = "confidence_assessment"

	analysisTemperature = 0.3
	contextPreviewLen   = 100
)

const missingRationale = "No confidence rationale was provided by the analysis."

// Engine runs analytical operations over evidence chunks.
type Engine struct {
	gateway    *perception.Gateway
	confidence config.ConfidenceConfig
}

// NewEngine creates an analysis engine on the shared gateway.
func NewEngine(gateway *perception.Gateway, confidence config.ConfidenceConfig) *Engine {
	return &Engine{gateway: gateway, confidence: confidence}
}

func (e *Engine) invoke(ctx context.Context, system, prompt, action string, attrs map[string]string) (*perception.Result, error) {
	return e.gateway.Invoke(ctx, perception.Invocation{
		System:      system,
		Prompt:      prompt,
		Action:      action,
		Context:     attrs,
		Temperature: analysisTemperature,
		Structured:  true,
	})
}

// FormatEvidence renders chunks for inclusion in a prompt. Chunks without a
// stored ID are numbered by position.
func FormatEvidence(chunks []types.EvidenceChunk) string {
	if len(chunks) == 0 {
		return "No evidence provided."
	}
	parts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		id := c.ID
		if id == 0 {
			id = int64(i + 1)
		}
		parts = append(parts, fmt.Sprintf("[Evidence #%d]\nID: %d\nType: %s\nSource: %s\nStrength: %s\nContent: %s",
			i+1, id, orUnknown(string(c.EvidenceType)), orUnknown(c.Source), orUnknown(string(c.Strength)), c.Content))
	}
	return strings.Join(parts, "\n\n")
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

// DistinctTypes counts the recognized evidence types among chunks.
func DistinctTypes(chunks []types.EvidenceChunk) int {
	seen := make(map[types.EvidenceType]bool)
	for _, c := range chunks {
		if c.EvidenceType.Valid() {
			seen[c.EvidenceType] = true
		}
	}
	return len(seen)
}

// capConfidence lowers level to what the evidence base can support. It
// returns the capped level and a trace note when a cap was applied.
func (e *Engine) capConfidence(level types.ConfidenceLevel, chunks []types.EvidenceChunk) (types.ConfidenceLevel, string) {
	n := len(chunks)
	kinds := DistinctTypes(chunks)
	ceiling := types.ConfidenceLevel(e.confidence.Ceiling(kinds, n))
	if level.Rank() <= ceiling.Rank() {
		return level, ""
	}
	return ceiling, fmt.Sprintf("Confidence capped from %s to %s: %d chunks across %d evidence types", level, ceiling, n, kinds)
}

// normalizeConfidence parses s, falling back to low with a trace note.
func normalizeConfidence(s string) (types.ConfidenceLevel, string) {
	if c, ok := types.ParseConfidence(s); ok {
		return c, ""
	}
	if strings.TrimSpace(s) == "" {
		return types.ConfidenceLow, "No confidence level returned; reported as low"
	}
	return types.ConfidenceLow, fmt.Sprintf("Confidence %q is not on the scale; reported as low", s)
}

func attrs(kv ...string) map[string]string {
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= contextPreviewLen {
		return s
	}
	return string(r[:contextPreviewLen])
}

func count(n int) string { return strconv.Itoa(n) }

// oneOf lowercases s and returns it when allowed contains it, else def.
func oneOf(s, def string, allowed ...string) string {
	s = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	return def
}
