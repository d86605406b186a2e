package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"evidencelab/internal/logging"
	"evidencelab/internal/perception"
	"evidencelab/internal/types"
)

// EvidenceItem is one chunk cited by a hypothesis test. Supporting items
// carry Relevance, counter items carry Severity.
type EvidenceItem struct {
	EvidenceID     string `json:"evidence_id"`
	ContentSummary string `json:"content_summary"`
	Relevance      string `json:"relevance,omitempty"`
	Severity       string `json:"severity,omitempty"`
	Reasoning      string `json:"reasoning"`
}

// EvidenceGap is evidence that would change the verdict if gathered.
type EvidenceGap struct {
	Gap        string `json:"gap"`
	Importance string `json:"importance"`
	HowToFill  string `json:"how_to_fill"`
}

// HypothesisResult is the normalized outcome of TestHypothesis.
// Verdict is always on the five-value scale and ConfidenceReasoning is never
// empty, including for degraded replies.
type HypothesisResult struct {
	Hypothesis          string                   `json:"hypothesis"`
	HypothesisRestated  string                   `json:"hypothesis_restated"`
	AssumptionsMade     []string                 `json:"assumptions_made"`
	Verdict             types.Verdict            `json:"verdict"`
	Confidence          types.ConfidenceLevel    `json:"confidence"`
	ConfidenceReasoning string                   `json:"confidence_reasoning"`
	SupportingEvidence  []EvidenceItem           `json:"supporting_evidence"`
	CounterEvidence     []EvidenceItem           `json:"counter_evidence"`
	NeutralEvidence     []EvidenceItem           `json:"neutral_evidence"`
	EvidenceGaps        []EvidenceGap            `json:"evidence_gaps"`
	VerdictSummary      string                   `json:"verdict_summary"`
	ReasoningTrace      []string                 `json:"reasoning_trace"`
	CallID              string                   `json:"call_id"`
	Degraded            *perception.ParseFailure `json:"degraded,omitempty"`
}

// Annotation is the hypothesis relevance of one stored chunk.
type Annotation struct {
	ChunkID   int64
	Supports  *bool
	Relevance string
}

// Annotations maps cited evidence IDs back to chunks. Citations that do not
// name a numeric chunk ID are skipped; the first citation of a chunk wins.
func (r *HypothesisResult) Annotations() []Annotation {
	var out []Annotation
	seen := make(map[int64]bool)
	add := func(items []EvidenceItem, supports *bool, tag func(EvidenceItem) string) {
		for _, it := range items {
			id, ok := types.ExtractInt64(it.EvidenceID)
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			rel := it.Reasoning
			if t := tag(it); t != "" {
				rel = fmt.Sprintf("%s: %s", t, it.Reasoning)
			}
			out = append(out, Annotation{ChunkID: id, Supports: supports, Relevance: rel})
		}
	}
	yes, no := true, false
	add(r.SupportingEvidence, &yes, func(it EvidenceItem) string { return it.Relevance })
	add(r.CounterEvidence, &no, func(it EvidenceItem) string { return it.Severity })
	add(r.NeutralEvidence, nil, func(EvidenceItem) string { return "neutral" })
	return out
}

// CitedEvidence returns the numeric chunk IDs the result refers to.
func (r *HypothesisResult) CitedEvidence() []int64 {
	anns := r.Annotations()
	ids := make([]int64, 0, len(anns))
	for _, a := range anns {
		ids = append(ids, a.ChunkID)
	}
	return ids
}

// GapDescriptions flattens the gaps for persistence.
func (r *HypothesisResult) GapDescriptions() []string {
	out := make([]string, 0, len(r.EvidenceGaps))
	for _, g := range r.EvidenceGaps {
		out = append(out, g.Gap)
	}
	return out
}

type evidenceItemPayload struct {
	EvidenceID     types.FlexString `json:"evidence_id"`
	ContentSummary types.FlexString `json:"content_summary"`
	Relevance      types.FlexString `json:"relevance"`
	Severity       types.FlexString `json:"severity"`
	Reasoning      types.FlexString `json:"reasoning"`
}

// UnmarshalJSON reads a bare string item as the content summary.
func (p *evidenceItemPayload) UnmarshalJSON(data []byte) error {
	type plain evidenceItemPayload
	return types.DecodeObjectOrText(data, (*plain)(p), func(s string) { p.ContentSummary = types.FlexString(s) })
}

type gapPayload struct {
	Gap        types.FlexString `json:"gap"`
	Importance types.FlexString `json:"importance"`
	HowToFill  types.FlexString `json:"how_to_fill"`
}

func (p *gapPayload) UnmarshalJSON(data []byte) error {
	type plain gapPayload
	return types.DecodeObjectOrText(data, (*plain)(p), func(s string) { p.Gap = types.FlexString(s) })
}

type hypothesisPayload struct {
	HypothesisRestated  types.FlexString      `json:"hypothesis_restated"`
	AssumptionsMade     types.FlexStrings     `json:"assumptions_made"`
	SupportingEvidence  []evidenceItemPayload `json:"supporting_evidence"`
	CounterEvidence     []evidenceItemPayload `json:"counter_evidence"`
	NeutralEvidence     []evidenceItemPayload `json:"neutral_evidence"`
	EvidenceGaps        []gapPayload          `json:"evidence_gaps"`
	Verdict             types.FlexString      `json:"verdict"`
	Confidence          types.FlexString      `json:"confidence"`
	ConfidenceReasoning types.FlexString      `json:"confidence_reasoning"`
	VerdictSummary      types.FlexString      `json:"verdict_summary"`
}

// TestHypothesis weighs hypothesis against chunks.
func (e *Engine) TestHypothesis(ctx context.Context, hypothesis string, chunks []types.EvidenceChunk) (*HypothesisResult, error) {
	timer := logging.StartTimer(logging.CategoryAnalysis, "TestHypothesis")
	defer timer.Stop()

	if strings.TrimSpace(hypothesis) == "" {
		return nil, fmt.Errorf("hypothesis is empty")
	}

	res, err := e.invoke(ctx, hypothesisSystemPrompt,
		fmt.Sprintf(hypothesisPromptTemplate, hypothesis, FormatEvidence(chunks)),
		ActionHypothesisTest,
		attrs("hypothesis", preview(hypothesis), "evidence_count", count(len(chunks))))
	if err != nil {
		return nil, err
	}

	logging.AnalysisDebug("hypothesis reply stage=%s (call %s)", res.Stage, res.CallID)
	out := &HypothesisResult{
		Hypothesis:         hypothesis,
		HypothesisRestated: hypothesis,
		AssumptionsMade:    []string{},
		SupportingEvidence: []EvidenceItem{},
		CounterEvidence:    []EvidenceItem{},
		NeutralEvidence:    []EvidenceItem{},
		EvidenceGaps:       []EvidenceGap{},
		ReasoningTrace:     append([]string(nil), res.ReasoningTrace...),
		CallID:             res.CallID,
	}

	if res.Degraded() {
		out.Degraded = res.Fallback
		out.Verdict = types.VerdictInconclusive
		out.Confidence = types.ConfidenceInsufficient
		out.ConfidenceReasoning = "The analysis reply could not be parsed, so no verdict could be drawn from it."
		logging.AnalysisWarn("hypothesis reply unparseable (call %s)", res.CallID)
		return out, nil
	}

	var p hypothesisPayload
	if note := res.DecodePartial(&p); note != "" {
		out.ReasoningTrace = append(out.ReasoningTrace, note)
	}
	e.applyHypothesisPayload(out, &p, chunks)

	logging.Analysis("hypothesis verdict %s (%s confidence), %d supporting, %d counter",
		out.Verdict, out.Confidence, len(out.SupportingEvidence), len(out.CounterEvidence))
	return out, nil
}

func (e *Engine) applyHypothesisPayload(out *HypothesisResult, p *hypothesisPayload, chunks []types.EvidenceChunk) {
	if s := strings.TrimSpace(string(p.HypothesisRestated)); s != "" {
		out.HypothesisRestated = s
	}
	if p.AssumptionsMade != nil {
		out.AssumptionsMade = p.AssumptionsMade
	}
	out.SupportingEvidence = toItems(p.SupportingEvidence, func(it *EvidenceItem, raw evidenceItemPayload) {
		it.Relevance = oneOf(string(raw.Relevance), "indirect", "direct", "indirect", "weak")
	})
	out.CounterEvidence = toItems(p.CounterEvidence, func(it *EvidenceItem, raw evidenceItemPayload) {
		it.Severity = oneOf(string(raw.Severity), "minor", "major", "minor", "edge_case")
	})
	out.NeutralEvidence = toItems(p.NeutralEvidence, nil)
	for _, g := range p.EvidenceGaps {
		if strings.TrimSpace(string(g.Gap)) == "" {
			continue
		}
		out.EvidenceGaps = append(out.EvidenceGaps, EvidenceGap{
			Gap:        string(g.Gap),
			Importance: oneOf(string(g.Importance), "important", "critical", "important", "nice_to_have"),
			HowToFill:  string(g.HowToFill),
		})
	}
	out.VerdictSummary = string(p.VerdictSummary)

	verdict, ok := types.ParseVerdict(string(p.Verdict))
	switch {
	case ok:
		out.Verdict = verdict
	case strings.TrimSpace(string(p.Verdict)) == "":
		out.Verdict = types.VerdictInconclusive
		out.ReasoningTrace = append(out.ReasoningTrace, "No verdict returned; reported as INCONCLUSIVE")
	default:
		out.Verdict = types.VerdictInconclusive
		out.ReasoningTrace = append(out.ReasoningTrace,
			fmt.Sprintf("Verdict %q is not on the verdict scale; reported as INCONCLUSIVE", string(p.Verdict)))
		logging.AnalysisWarn("out-of-scale verdict %q normalized to INCONCLUSIVE", string(p.Verdict))
	}

	level, note := normalizeConfidence(string(p.Confidence))
	if note != "" {
		out.ReasoningTrace = append(out.ReasoningTrace, note)
	}
	out.ConfidenceReasoning = strings.TrimSpace(string(p.ConfidenceReasoning))
	if out.ConfidenceReasoning == "" {
		out.ConfidenceReasoning = missingRationale
	}
	if capped, note := e.capConfidence(level, chunks); note != "" {
		level = capped
		out.ReasoningTrace = append(out.ReasoningTrace, note)
		out.ConfidenceReasoning += " " + note + "."
	}
	out.Confidence = level
}

func toItems(raw []evidenceItemPayload, tag func(*EvidenceItem, evidenceItemPayload)) []EvidenceItem {
	out := make([]EvidenceItem, 0, len(raw))
	for _, r := range raw {
		it := EvidenceItem{
			EvidenceID:     strings.TrimSpace(string(r.EvidenceID)),
			ContentSummary: string(r.ContentSummary),
			Reasoning:      string(r.Reasoning),
		}
		if tag != nil {
			tag(&it, r)
		}
		out = append(out, it)
	}
	return out
}

// ChallengeResult is the re-evaluation of a hypothesis test under challenge.
type ChallengeResult struct {
	OriginalVerdict types.Verdict            `json:"original_verdict"`
	Challenge       string                   `json:"challenge"`
	VerdictChanged  bool                     `json:"verdict_changed"`
	Verdict         types.Verdict            `json:"verdict"`
	Confidence      types.ConfidenceLevel    `json:"confidence"`
	Explanation     string                   `json:"explanation"`
	Changes         []string                 `json:"changes"`
	ReasoningTrace  []string                 `json:"reasoning_trace"`
	CallID          string                   `json:"call_id"`
	Degraded        *perception.ParseFailure `json:"degraded,omitempty"`
}

type challengePayload struct {
	VerdictChanged bool              `json:"verdict_changed"`
	Verdict        types.FlexString  `json:"verdict"`
	Confidence     types.FlexString  `json:"confidence"`
	Explanation    types.FlexString  `json:"explanation"`
	Changes        types.FlexStrings `json:"changes"`
}

// ChallengeHypothesis asks for a re-evaluation of previous given the PM's
// challenge. An unusable verdict keeps the original one. The re-evaluated
// confidence is held to the same ceiling as the session's evidence base.
func (e *Engine) ChallengeHypothesis(ctx context.Context, previous *HypothesisResult, challenge string, chunks []types.EvidenceChunk) (*ChallengeResult, error) {
	timer := logging.StartTimer(logging.CategoryAnalysis, "ChallengeHypothesis")
	defer timer.Stop()

	if previous == nil {
		return nil, fmt.Errorf("no previous hypothesis test to challenge")
	}
	prev, err := json.MarshalIndent(previous, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode previous analysis: %w", err)
	}

	res, err := e.invoke(ctx, hypothesisSystemPrompt,
		fmt.Sprintf(challengePromptTemplate, challenge, string(prev)),
		ActionHypothesisChallenge,
		attrs("challenge", preview(challenge)))
	if err != nil {
		return nil, err
	}

	out := &ChallengeResult{
		OriginalVerdict: previous.Verdict,
		Challenge:       challenge,
		Verdict:         previous.Verdict,
		Confidence:      previous.Confidence,
		Changes:         []string{},
		ReasoningTrace:  append([]string(nil), res.ReasoningTrace...),
		CallID:          res.CallID,
	}
	if res.Degraded() {
		out.Degraded = res.Fallback
		out.Explanation = res.Raw
		return out, nil
	}

	var p challengePayload
	if note := res.DecodePartial(&p); note != "" {
		out.ReasoningTrace = append(out.ReasoningTrace, note)
	}
	if v, ok := types.ParseVerdict(string(p.Verdict)); ok {
		out.Verdict = v
	}
	if c, ok := types.ParseConfidence(string(p.Confidence)); ok {
		out.Confidence = c
	}
	out.Explanation = string(p.Explanation)
	if capped, note := e.capConfidence(out.Confidence, chunks); note != "" {
		out.Confidence = capped
		out.ReasoningTrace = append(out.ReasoningTrace, note)
		out.Explanation = strings.TrimSpace(out.Explanation + " " + note + ".")
	}
	out.VerdictChanged = out.Verdict != out.OriginalVerdict
	if p.VerdictChanged != out.VerdictChanged {
		out.ReasoningTrace = append(out.ReasoningTrace, "verdict_changed flag disagreed with the returned verdict; derived from the verdicts")
	}
	if p.Changes != nil {
		out.Changes = p.Changes
	}
	return out, nil
}
