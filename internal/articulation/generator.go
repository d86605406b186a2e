// Package articulation turns analysis into narrative: stakeholder summaries,
// adversarial counter-evidence reviews, persuasion guides and research gap
// reports, plus export formatting for summaries.
package articulation

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"evidencelab/internal/analysis"
	"evidencelab/internal/logging"
	"evidencelab/internal/perception"
	"evidencelab/internal/types"
)

const (
	ActionStakeholderSummary = "stakeholder_summary"
	ActionCounterEvidence    = "counter_evidence"
	ActionPersuasionGuide    = "persuasion_guide"
	ActionGapAnalysis        = "gap_analysis"

	narrativeTemperature = 0.3
	contextPreviewLen    = 100
)

// Generator produces narrative outputs through the shared gateway.
type Generator struct {
	gateway *perception.Gateway
}

// NewGenerator creates a narrative generator.
func NewGenerator(gateway *perception.Gateway) *Generator {
	return &Generator{gateway: gateway}
}

func (g *Generator) invoke(ctx context.Context, prompt, action string, attrs map[string]string) (*perception.Result, error) {
	return g.gateway.Invoke(ctx, perception.Invocation{
		System:      stakeholderSystemPrompt,
		Prompt:      prompt,
		Action:      action,
		Context:     attrs,
		Temperature: narrativeTemperature,
		Structured:  true,
	})
}

// =============================================================================
// STAKEHOLDER SUMMARY
// =============================================================================

type KeyFinding struct {
	Finding           string `json:"finding"`
	EvidenceReference string `json:"evidence_reference"`
	Implication       string `json:"implication"`
}

type SummaryConfidence struct {
	Level       string `json:"level"`
	Explanation string `json:"explanation"`
}

type NextStep struct {
	Action    string `json:"action"`
	Rationale string `json:"rationale"`
}

// StakeholderSummary is a stakeholder-ready digest of the research.
type StakeholderSummary struct {
	Topic                string                   `json:"topic"`
	Headline             string                   `json:"headline"`
	EvidenceBase         string                   `json:"evidence_base"`
	KeyFindings          []KeyFinding             `json:"key_findings"`
	Confidence           SummaryConfidence        `json:"confidence"`
	Caveats              []string                 `json:"caveats"`
	NextSteps            []NextStep               `json:"next_steps"`
	StakeholderReadyText string                   `json:"stakeholder_ready_text"`
	EvidenceUsed         []string                 `json:"full_evidence_used"`
	ReasoningTrace       []string                 `json:"reasoning_trace"`
	CallID               string                   `json:"call_id"`
	Degraded             *perception.ParseFailure `json:"degraded,omitempty"`
}

// NextStepActions flattens next steps for persistence.
func (s *StakeholderSummary) NextStepActions() []string {
	out := make([]string, 0, len(s.NextSteps))
	for _, n := range s.NextSteps {
		out = append(out, n.Action)
	}
	return out
}

type keyFindingPayload struct {
	Finding           types.FlexString `json:"finding"`
	EvidenceReference types.FlexString `json:"evidence_reference"`
	Implication       types.FlexString `json:"implication"`
}

type nextStepPayload struct {
	Action    types.FlexString `json:"action"`
	Rationale types.FlexString `json:"rationale"`
}

type summaryPayload struct {
	Headline             types.FlexString  `json:"headline"`
	EvidenceBase         types.FlexString  `json:"evidence_base"`
	KeyFindings          []json.RawMessage `json:"key_findings"`
	Confidence           json.RawMessage   `json:"confidence"`
	Caveats              types.FlexStrings `json:"caveats"`
	NextSteps            []json.RawMessage `json:"next_steps"`
	StakeholderReadyText types.FlexString  `json:"stakeholder_ready_text"`
	FullEvidenceUsed     types.FlexStrings `json:"full_evidence_used"`
}

// StakeholderSummary writes a summary of topic from the evidence summary and
// the patterns already found.
func (g *Generator) StakeholderSummary(ctx context.Context, topic, evidenceSummary string, patterns []analysis.Pattern, stakeholderContext string) (*StakeholderSummary, error) {
	timer := logging.StartTimer(logging.CategoryArticulation, "StakeholderSummary")
	defer timer.Stop()

	patternText := "No patterns provided."
	if len(patterns) > 0 {
		data, err := json.MarshalIndent(patterns, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode patterns: %w", err)
		}
		patternText = string(data)
	}
	audience := stakeholderContext
	if strings.TrimSpace(audience) == "" {
		audience = "No specific stakeholder context provided."
	}

	res, err := g.invoke(ctx,
		fmt.Sprintf(summaryPromptTemplate, topic, evidenceSummary, patternText, audience),
		ActionStakeholderSummary,
		map[string]string{"topic": preview(topic), "pattern_count": strconv.Itoa(len(patterns))})
	if err != nil {
		return nil, err
	}

	logging.ArticulationDebug("summary reply stage=%s (call %s)", res.Stage, res.CallID)
	out := &StakeholderSummary{
		Topic:          topic,
		KeyFindings:    []KeyFinding{},
		Caveats:        []string{},
		NextSteps:      []NextStep{},
		EvidenceUsed:   []string{},
		ReasoningTrace: append([]string(nil), res.ReasoningTrace...),
		CallID:         res.CallID,
	}
	if res.Degraded() {
		out.Degraded = res.Fallback
		out.Confidence = SummaryConfidence{Level: "low", Explanation: "The summary reply could not be parsed."}
		out.StakeholderReadyText = res.Raw
		logging.ArticulationWarn("summary reply unparseable (call %s)", res.CallID)
		return out, nil
	}

	var p summaryPayload
	if note := res.DecodePartial(&p); note != "" {
		out.ReasoningTrace = append(out.ReasoningTrace, note)
	}
	out.Headline = string(p.Headline)
	out.EvidenceBase = string(p.EvidenceBase)
	for _, f := range decodeItems(p.KeyFindings, func(f *keyFindingPayload, s string) { f.Finding = types.FlexString(s) }) {
		out.KeyFindings = append(out.KeyFindings, KeyFinding{
			Finding:           string(f.Finding),
			EvidenceReference: string(f.EvidenceReference),
			Implication:       string(f.Implication),
		})
	}
	out.Confidence = decodeSummaryConfidence(p.Confidence)
	out.Caveats = nonNil(p.Caveats)
	for _, n := range decodeItems(p.NextSteps, func(n *nextStepPayload, s string) { n.Action = types.FlexString(s) }) {
		out.NextSteps = append(out.NextSteps, NextStep{Action: string(n.Action), Rationale: string(n.Rationale)})
	}
	out.StakeholderReadyText = string(p.StakeholderReadyText)
	out.EvidenceUsed = nonNil(p.FullEvidenceUsed)

	logging.Articulation("stakeholder summary: %d findings, %s confidence", len(out.KeyFindings), out.Confidence.Level)
	return out, nil
}

// decodeSummaryConfidence accepts {"level", "explanation"} or a bare level.
func decodeSummaryConfidence(raw json.RawMessage) SummaryConfidence {
	var obj struct {
		Level       types.FlexString `json:"level"`
		Explanation types.FlexString `json:"explanation"`
	}
	var c SummaryConfidence
	if err := json.Unmarshal(raw, &obj); err == nil {
		c = SummaryConfidence{Level: string(obj.Level), Explanation: string(obj.Explanation)}
	} else {
		var s types.FlexString
		if json.Unmarshal(raw, &s) == nil {
			c.Level = string(s)
		}
	}
	c.Level = strings.ToLower(strings.TrimSpace(c.Level))
	switch c.Level {
	case "high", "medium", "low":
	default:
		c.Level = "low"
	}
	return c
}

// =============================================================================
// COUNTER-EVIDENCE
// =============================================================================

type CounterItem struct {
	EvidenceID              string `json:"evidence_id"`
	Content                 string `json:"content"`
	HowItContradicts        string `json:"how_it_contradicts"`
	StrengthOfContradiction string `json:"strength_of_contradiction"`
}

type AlternativeExplanation struct {
	ForEvidence string `json:"for_evidence"`
	Alternative string `json:"alternative"`
}

// CounterEvidenceResult is an adversarial review of an assumption.
// HonestAssessment is never empty.
type CounterEvidenceResult struct {
	AssumptionTested        string                   `json:"assumption_tested"`
	CounterEvidence         []CounterItem            `json:"counter_evidence"`
	AlternativeExplanations []AlternativeExplanation `json:"alternative_explanations"`
	WhatWouldDisprove       []string                 `json:"what_would_disprove"`
	DevilAdvocateSummary    string                   `json:"devil_advocate_summary"`
	HonestAssessment        string                   `json:"honest_assessment"`
	ReasoningTrace          []string                 `json:"reasoning_trace"`
	CallID                  string                   `json:"call_id"`
	Degraded                *perception.ParseFailure `json:"degraded,omitempty"`
}

// CitedEvidence returns the numeric chunk IDs of the counter-evidence.
func (r *CounterEvidenceResult) CitedEvidence() []int64 {
	var ids []int64
	for _, c := range r.CounterEvidence {
		if id, ok := types.ExtractInt64(c.EvidenceID); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

type counterItemPayload struct {
	EvidenceID              types.FlexString `json:"evidence_id"`
	Content                 types.FlexString `json:"content"`
	HowItContradicts        types.FlexString `json:"how_it_contradicts"`
	StrengthOfContradiction types.FlexString `json:"strength_of_contradiction"`
}

type alternativePayload struct {
	ForEvidence types.FlexString `json:"for_evidence"`
	Alternative types.FlexString `json:"alternative"`
}

type counterPayload struct {
	CounterEvidence         []json.RawMessage `json:"counter_evidence"`
	AlternativeExplanations []json.RawMessage `json:"alternative_explanations"`
	WhatWouldDisprove       types.FlexStrings `json:"what_would_disprove"`
	DevilAdvocateSummary    types.FlexString  `json:"devil_advocate_summary"`
	HonestAssessment        types.FlexString  `json:"honest_assessment"`
}

// FindCounterEvidence looks for reasons assumption might be wrong.
func (g *Generator) FindCounterEvidence(ctx context.Context, assumption string, chunks []types.EvidenceChunk) (*CounterEvidenceResult, error) {
	timer := logging.StartTimer(logging.CategoryArticulation, "FindCounterEvidence")
	defer timer.Stop()

	res, err := g.invoke(ctx,
		fmt.Sprintf(counterPromptTemplate, assumption, analysis.FormatEvidence(chunks)),
		ActionCounterEvidence,
		map[string]string{"assumption": preview(assumption), "evidence_count": strconv.Itoa(len(chunks))})
	if err != nil {
		return nil, err
	}

	out := &CounterEvidenceResult{
		AssumptionTested:        assumption,
		CounterEvidence:         []CounterItem{},
		AlternativeExplanations: []AlternativeExplanation{},
		WhatWouldDisprove:       []string{},
		ReasoningTrace:          append([]string(nil), res.ReasoningTrace...),
		CallID:                  res.CallID,
	}
	if res.Degraded() {
		out.Degraded = res.Fallback
		out.HonestAssessment = "The adversarial review could not be parsed; treat the assumption as untested."
		logging.ArticulationWarn("counter-evidence reply unparseable (call %s)", res.CallID)
		return out, nil
	}

	var p counterPayload
	if note := res.DecodePartial(&p); note != "" {
		out.ReasoningTrace = append(out.ReasoningTrace, note)
	}
	for _, c := range decodeItems(p.CounterEvidence, func(c *counterItemPayload, s string) { c.Content = types.FlexString(s) }) {
		out.CounterEvidence = append(out.CounterEvidence, CounterItem{
			EvidenceID:              strings.TrimSpace(string(c.EvidenceID)),
			Content:                 string(c.Content),
			HowItContradicts:        string(c.HowItContradicts),
			StrengthOfContradiction: strings.ToLower(strings.TrimSpace(string(c.StrengthOfContradiction))),
		})
	}
	for _, a := range decodeItems(p.AlternativeExplanations, func(a *alternativePayload, s string) { a.Alternative = types.FlexString(s) }) {
		out.AlternativeExplanations = append(out.AlternativeExplanations, AlternativeExplanation{
			ForEvidence: string(a.ForEvidence),
			Alternative: string(a.Alternative),
		})
	}
	out.WhatWouldDisprove = nonNil(p.WhatWouldDisprove)
	out.DevilAdvocateSummary = string(p.DevilAdvocateSummary)
	out.HonestAssessment = strings.TrimSpace(string(p.HonestAssessment))
	if out.HonestAssessment == "" {
		out.HonestAssessment = defaultAssessment(len(out.CounterEvidence))
		out.ReasoningTrace = append(out.ReasoningTrace, "No honest assessment returned; summarized from the counter-evidence count")
	}

	logging.Articulation("counter-evidence review: %d items, %d alternatives",
		len(out.CounterEvidence), len(out.AlternativeExplanations))
	return out, nil
}

func defaultAssessment(n int) string {
	if n == 0 {
		return "No counter-evidence was identified in the available evidence. That is not confirmation: the evidence may simply not cover the cases that would contradict the assumption."
	}
	return fmt.Sprintf("%d pieces of counter-evidence were identified. Weigh them before relying on the assumption.", n)
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= contextPreviewLen {
		return s
	}
	return string(r[:contextPreviewLen])
}
