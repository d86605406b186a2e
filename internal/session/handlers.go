package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"evidencelab/internal/logging"
	"evidencelab/internal/types"
)

// =============================================================================
// ROUTED HANDLERS
// =============================================================================

func (e *Engine) extract(ctx context.Context, view *types.SessionView, rawText string) (*outcome, error) {
	res, err := e.pipeline.Extract(ctx, rawText, view.OpportunityStatement)
	if err != nil {
		return nil, err
	}
	if res.Degraded != nil {
		return &outcome{
			reply:      renderDegraded("extraction", res.CallID),
			actionType: string(types.IntentExtraction),
			reasoning:  res.ReasoningTrace,
		}, nil
	}

	keep, dropped := withContent(res.Chunks)
	stored, err := e.store.BulkAddEvidenceChunks(ctx, view.ID, keep)
	if err != nil {
		return nil, err
	}
	report := e.pipeline.Validate(res.Chunks)
	logging.Session("extraction stored %d chunks in session %d", len(stored), view.ID)
	if dropped > 0 {
		logging.SessionWarn("extraction dropped %d chunks without content", dropped)
	}

	return &outcome{
		reply:      renderExtraction(res, report, dropped),
		actionType: string(types.IntentExtraction),
		reasoning:  res.ReasoningTrace,
	}, nil
}

func (e *Engine) testHypothesis(ctx context.Context, view *types.SessionView, hypothesis string) (*outcome, error) {
	res, err := e.analysis.TestHypothesis(ctx, hypothesis, view.EvidenceChunks)
	if err != nil {
		return nil, err
	}

	// A failed annotation is noted in the trace; the verdict is still persisted.
	own := chunkSet(view)
	for _, a := range res.Annotations() {
		if !own[a.ChunkID] {
			logging.SessionDebug("skipping annotation for chunk %d outside session %d", a.ChunkID, view.ID)
			continue
		}
		if err := e.store.AnnotateHypothesisRelevance(ctx, a.ChunkID, a.Supports, a.Relevance); err != nil {
			logging.SessionWarn("failed to annotate chunk %d in session %d: %v", a.ChunkID, view.ID, err)
			res.ReasoningTrace = append(res.ReasoningTrace,
				fmt.Sprintf("Hypothesis relevance for chunk %d was not recorded", a.ChunkID))
		}
	}

	out, err := e.persist(ctx, view.ID, types.Output{
		OutputType:          types.OutputHypothesisTest,
		Title:               "Hypothesis: " + truncate(hypothesis, 100),
		ReasoningTrace:      res.ReasoningTrace,
		EvidenceUsed:        ownIDs(view, res.CitedEvidence()),
		EvidenceExcluded:    excludedIDs(view, res.CitedEvidence()),
		ConfidenceLevel:     string(res.Confidence),
		ConfidenceReasoning: res.ConfidenceReasoning,
		GapsIdentified:      res.GapDescriptions(),
		Caveats:             res.GapDescriptions(),
	}, res)
	if err != nil {
		return nil, err
	}

	return &outcome{
		reply:      renderHypothesis(res),
		actionType: string(types.IntentHypothesisTest),
		reasoning:  res.ReasoningTrace,
		output:     out,
	}, nil
}

func (e *Engine) findPatterns(ctx context.Context, view *types.SessionView) (*outcome, error) {
	res, err := e.analysis.FindPatterns(ctx, view.EvidenceChunks, view.OpportunityStatement)
	if err != nil {
		return nil, err
	}
	out, err := e.persist(ctx, view.ID, types.Output{
		OutputType:     types.OutputPatternSynthesis,
		Title:          "Pattern Analysis",
		ReasoningTrace: res.ReasoningTrace,
		EvidenceUsed:   ownIDs(view, res.CitedEvidence()),
		GapsIdentified: res.GapDescriptions(),
	}, res)
	if err != nil {
		return nil, err
	}
	return &outcome{
		reply:      renderPatterns(res),
		actionType: "pattern_synthesis",
		reasoning:  res.ReasoningTrace,
		output:     out,
	}, nil
}

// summarize finds patterns first and writes the summary from them. Only the
// summary is persisted.
func (e *Engine) summarize(ctx context.Context, view *types.SessionView, topic string) (*outcome, error) {
	patterns, err := e.analysis.FindPatterns(ctx, view.EvidenceChunks, view.OpportunityStatement)
	if err != nil {
		return nil, err
	}

	if topic == "" {
		topic = view.OpportunityStatement
	}
	if topic == "" {
		topic = "Research findings"
	}
	evidenceSummary := fmt.Sprintf("%d evidence chunks analyzed", len(view.EvidenceChunks))

	res, err := e.narrative.StakeholderSummary(ctx, topic, evidenceSummary, patterns.Patterns, "")
	if err != nil {
		return nil, err
	}

	title := res.Headline
	if title == "" {
		title = "Stakeholder Summary"
	}
	out, err := e.persist(ctx, view.ID, types.Output{
		OutputType:          types.OutputStakeholderSummary,
		Title:               title,
		ReasoningTrace:      res.ReasoningTrace,
		EvidenceUsed:        ownIDs(view, parseIDs(res.EvidenceUsed)),
		ConfidenceLevel:     res.Confidence.Level,
		ConfidenceReasoning: res.Confidence.Explanation,
		Caveats:             res.Caveats,
		SuggestedResearch:   res.NextStepActions(),
	}, res)
	if err != nil {
		return nil, err
	}

	return &outcome{
		reply:      renderSummary(res, evidenceSummary),
		actionType: string(types.IntentStakeholderSummary),
		reasoning:  res.ReasoningTrace,
		output:     out,
	}, nil
}

func (e *Engine) counterEvidence(ctx context.Context, view *types.SessionView, assumption string) (*outcome, error) {
	res, err := e.narrative.FindCounterEvidence(ctx, assumption, view.EvidenceChunks)
	if err != nil {
		return nil, err
	}
	out, err := e.persist(ctx, view.ID, types.Output{
		OutputType:          types.OutputCounterEvidence,
		Title:               "Counter-evidence: " + truncate(assumption, 100),
		ReasoningTrace:      res.ReasoningTrace,
		EvidenceUsed:        ownIDs(view, res.CitedEvidence()),
		ConfidenceReasoning: res.HonestAssessment,
		SuggestedResearch:   res.WhatWouldDisprove,
	}, res)
	if err != nil {
		return nil, err
	}
	return &outcome{
		reply:      renderCounter(res),
		actionType: string(types.IntentCounterEvidence),
		reasoning:  res.ReasoningTrace,
		output:     out,
	}, nil
}

func (e *Engine) assessConfidence(ctx context.Context, view *types.SessionView, problem string) (*outcome, error) {
	res, err := e.analysis.AssessConfidence(ctx, problem, view.EvidenceChunks)
	if err != nil {
		return nil, err
	}
	out, err := e.persist(ctx, view.ID, types.Output{
		OutputType:          types.OutputConfidenceAssessment,
		Title:               "Confidence: " + truncate(problem, 100),
		ReasoningTrace:      res.ReasoningTrace,
		ConfidenceLevel:     string(res.OverallConfidence),
		ConfidenceReasoning: res.OverallReasoning,
		GapsIdentified:      res.Dimensions["gaps"].Details,
		SuggestedResearch:   res.WhatWouldIncrease,
	}, res)
	if err != nil {
		return nil, err
	}
	return &outcome{
		reply:      renderConfidence(res),
		actionType: string(types.IntentConfidenceAssessment),
		reasoning:  res.ReasoningTrace,
		output:     out,
	}, nil
}

// persist stores an output whose Content is the JSON of result.
func (e *Engine) persist(ctx context.Context, sessionID int64, o types.Output, result interface{}) (*types.Output, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s result: %w", o.OutputType, err)
	}
	o.Content = string(data)
	return e.store.AddOutput(ctx, sessionID, o)
}

// =============================================================================
// HELPERS
// =============================================================================

// withContent splits off chunks with blank content. Validation still sees
// them and reports the missing content.
func withContent(chunks []types.ChunkInput) ([]types.ChunkInput, int) {
	keep := make([]types.ChunkInput, 0, len(chunks))
	for _, c := range chunks {
		if strings.TrimSpace(c.Content) != "" {
			keep = append(keep, c)
		}
	}
	return keep, len(chunks) - len(keep)
}

func chunkSet(view *types.SessionView) map[int64]bool {
	set := make(map[int64]bool, len(view.EvidenceChunks))
	for _, c := range view.EvidenceChunks {
		set[c.ID] = true
	}
	return set
}

// ownIDs keeps the cited IDs that belong to the session, in citation order.
func ownIDs(view *types.SessionView, cited []int64) []int64 {
	own := chunkSet(view)
	out := make([]int64, 0, len(cited))
	for _, id := range cited {
		if own[id] {
			out = append(out, id)
		}
	}
	return out
}

// excludedIDs lists the session's chunks the result did not cite.
func excludedIDs(view *types.SessionView, cited []int64) []int64 {
	seen := make(map[int64]bool, len(cited))
	for _, id := range cited {
		seen[id] = true
	}
	out := []int64{}
	for _, c := range view.EvidenceChunks {
		if !seen[c.ID] {
			out = append(out, c.ID)
		}
	}
	return out
}

func parseIDs(refs []string) []int64 {
	var out []int64
	for _, r := range refs {
		if id, ok := types.ExtractInt64(r); ok {
			out = append(out, id)
		}
	}
	return out
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// decodeOutput reads a persisted result back.
func decodeOutput[T any](o types.Output) (*T, error) {
	var v T
	if err := json.Unmarshal([]byte(o.Content), &v); err != nil {
		return nil, fmt.Errorf("output %d is not a readable %s: %w", o.ID, o.OutputType, err)
	}
	return &v, nil
}
