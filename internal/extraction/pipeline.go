// Package extraction turns raw research text into attributed evidence chunks
// and checks the quality of a chunk set locally.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"evidencelab/internal/config"
	"evidencelab/internal/logging"
	"evidencelab/internal/perception"
	"evidencelab/internal/types"
)

const (
	actionExtract = "extraction"
	actionRefine  = "extraction_refinement"

	extractTemperature = 0.3
	feedbackContextLen = 200
)

// ExtractionResult is the normalized output of Extract or Refine.
// When Degraded is set the provider reply could not be parsed and the other
// fields are empty.
type ExtractionResult struct {
	Chunks         []types.ChunkInput       `json:"chunks"`
	Summary        string                   `json:"summary"`
	Concerns       []string                 `json:"concerns"`
	Skipped        []string                 `json:"skipped"`
	ChangesMade    []string                 `json:"changes_made,omitempty"`
	ReasoningTrace []string                 `json:"reasoning_trace"`
	CallID         string                   `json:"call_id"`
	Degraded       *perception.ParseFailure `json:"degraded,omitempty"`
}

// Pipeline extracts evidence through the shared gateway.
type Pipeline struct {
	gateway    *perception.Gateway
	validation config.ValidationConfig
}

// NewPipeline creates an extraction pipeline.
func NewPipeline(gateway *perception.Gateway, validation config.ValidationConfig) *Pipeline {
	return &Pipeline{gateway: gateway, validation: validation}
}

type chunkPayload struct {
	Content             types.FlexString  `json:"content"`
	EvidenceType        types.FlexString  `json:"evidence_type"`
	Source              types.FlexString  `json:"source"`
	Tags                types.FlexStrings `json:"tags"`
	Strength            types.FlexString  `json:"strength"`
	ExtractionReasoning types.FlexString  `json:"extraction_reasoning"`
}

// UnmarshalJSON reads a bare string chunk as its content.
func (c *chunkPayload) UnmarshalJSON(data []byte) error {
	type plain chunkPayload
	return types.DecodeObjectOrText(data, (*plain)(c), func(s string) { c.Content = types.FlexString(s) })
}

type extractionPayload struct {
	Chunks      []chunkPayload    `json:"chunks"`
	Summary     types.FlexString  `json:"summary"`
	Concerns    types.FlexStrings `json:"concerns"`
	Skipped     types.FlexStrings `json:"skipped"`
	ChangesMade types.FlexStrings `json:"changes_made"`
}

// Extract asks the provider for evidence chunks in rawText. Every returned
// chunk carries rawText as its SourceRaw. Existing session evidence is not
// consulted, so duplicates are possible.
func (p *Pipeline) Extract(ctx context.Context, rawText, researchContext string) (*ExtractionResult, error) {
	timer := logging.StartTimer(logging.CategoryExtraction, "Extract")
	defer timer.Stop()

	if strings.TrimSpace(rawText) == "" {
		return nil, fmt.Errorf("nothing to extract: input is empty")
	}
	ctxText := researchContext
	if strings.TrimSpace(ctxText) == "" {
		ctxText = noContext
	}

	res, err := p.gateway.Invoke(ctx, perception.Invocation{
		System: systemPrompt,
		Prompt: fmt.Sprintf(extractPromptTemplate, rawText, ctxText),
		Action: actionExtract,
		Context: map[string]string{
			"input_length": strconv.Itoa(len(rawText)),
			"has_context":  strconv.FormatBool(researchContext != ""),
		},
		Temperature: extractTemperature,
		Structured:  true,
	})
	if err != nil {
		return nil, err
	}
	logging.ExtractionDebug("extraction reply stage=%s (call %s)", res.Stage, res.CallID)
	out := decodeExtraction(res, rawText)
	logging.Extraction("extracted %d chunks (call %s)", len(out.Chunks), out.CallID)
	return out, nil
}

// Refine re-runs extraction with reviewer feedback on a previous result.
func (p *Pipeline) Refine(ctx context.Context, rawText string, previous *ExtractionResult, feedback string) (*ExtractionResult, error) {
	timer := logging.StartTimer(logging.CategoryExtraction, "Refine")
	defer timer.Stop()

	if strings.TrimSpace(feedback) == "" {
		return nil, fmt.Errorf("refinement needs feedback")
	}
	prev := "{}"
	if previous != nil {
		data, err := json.MarshalIndent(struct {
			Chunks   []types.ChunkInput `json:"chunks"`
			Summary  string             `json:"summary"`
			Concerns []string           `json:"concerns"`
			Skipped  []string           `json:"skipped"`
		}{previous.Chunks, previous.Summary, previous.Concerns, previous.Skipped}, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode previous extraction: %w", err)
		}
		prev = string(data)
	}

	res, err := p.gateway.Invoke(ctx, perception.Invocation{
		System:      systemPrompt,
		Prompt:      fmt.Sprintf(refinePromptTemplate, feedback, rawText, prev),
		Action:      actionRefine,
		Context:     map[string]string{"feedback": truncate(feedback, feedbackContextLen)},
		Temperature: extractTemperature,
		Structured:  true,
	})
	if err != nil {
		return nil, err
	}
	out := decodeExtraction(res, rawText)
	logging.Extraction("refined extraction: %d chunks, %d changes", len(out.Chunks), len(out.ChangesMade))
	return out, nil
}

// Validate is ValidateChunks with the pipeline's configured thresholds.
func (p *Pipeline) Validate(chunks []types.ChunkInput) ValidationReport {
	return ValidateChunks(chunks, p.validation)
}

func decodeExtraction(res *perception.Result, rawText string) *ExtractionResult {
	out := &ExtractionResult{
		Chunks:         []types.ChunkInput{},
		Concerns:       []string{},
		Skipped:        []string{},
		ReasoningTrace: append([]string(nil), res.ReasoningTrace...),
		CallID:         res.CallID,
	}
	if res.Degraded() {
		out.Degraded = res.Fallback
		logging.ExtractionWarn("extraction reply unparseable (call %s)", res.CallID)
		return out
	}

	var payload extractionPayload
	if note := res.DecodePartial(&payload); note != "" {
		out.ReasoningTrace = append(out.ReasoningTrace, note)
	}

	for _, c := range payload.Chunks {
		out.Chunks = append(out.Chunks, normalizeChunk(c, rawText))
	}
	out.Summary = string(payload.Summary)
	if payload.Concerns != nil {
		out.Concerns = payload.Concerns
	}
	if payload.Skipped != nil {
		out.Skipped = payload.Skipped
	}
	out.ChangesMade = payload.ChangesMade
	return out
}

func normalizeChunk(c chunkPayload, rawText string) types.ChunkInput {
	tags := make([]string, 0, len(c.Tags))
	for _, t := range c.Tags {
		tags = append(tags, strings.ToLower(t))
	}
	return types.ChunkInput{
		Content:             strings.TrimSpace(string(c.Content)),
		EvidenceType:        types.ParseEvidenceType(string(c.EvidenceType)),
		Source:              strings.TrimSpace(string(c.Source)),
		SourceRaw:           rawText,
		Tags:                tags,
		Strength:            types.ParseStrength(string(c.Strength)),
		ExtractionReasoning: strings.TrimSpace(string(c.ExtractionReasoning)),
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
