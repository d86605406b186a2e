package analysis

import (
	"context"
	"fmt"
	"strings"

	"evidencelab/internal/logging"
	"evidencelab/internal/perception"
	"evidencelab/internal/types"
)

// Dimensions is the fixed confidence rubric, in display order.
var Dimensions = []string{"quantity", "diversity", "consistency", "quality", "gaps"}

const notAssessed = "Dimension not assessed by the analysis."

// Dimension is one rubric score. For "gaps" the score is the severity.
type Dimension struct {
	Score     string   `json:"score"`
	Reasoning string   `json:"reasoning"`
	Details   []string `json:"details,omitempty"`
}

// ConfidenceResult is the normalized outcome of AssessConfidence. Every
// rubric dimension is present.
type ConfidenceResult struct {
	ProblemEvaluated  string                   `json:"problem_evaluated"`
	Dimensions        map[string]Dimension     `json:"dimensions"`
	OverallConfidence types.ConfidenceLevel    `json:"overall_confidence"`
	OverallReasoning  string                   `json:"overall_reasoning"`
	WhatWouldIncrease []string                 `json:"what_would_increase_confidence"`
	WhatWouldDecrease []string                 `json:"what_would_decrease_confidence"`
	Recommendation    string                   `json:"recommendation"`
	ReasoningTrace    []string                 `json:"reasoning_trace"`
	CallID            string                   `json:"call_id"`
	Degraded          *perception.ParseFailure `json:"degraded,omitempty"`
}

type dimensionPayload struct {
	Score       types.FlexString  `json:"score"`
	Severity    types.FlexString  `json:"severity"`
	Reasoning   types.FlexString  `json:"reasoning"`
	SourceTypes types.FlexStrings `json:"source_types"`
	KeyGaps     types.FlexStrings `json:"key_gaps"`
}

// UnmarshalJSON reads a bare string dimension as its score.
func (p *dimensionPayload) UnmarshalJSON(data []byte) error {
	type plain dimensionPayload
	return types.DecodeObjectOrText(data, (*plain)(p), func(s string) { p.Score = types.FlexString(s) })
}

// dimensionScale returns the allowed scores of a dimension and the score an
// off-scale value is read as. Gaps are scored by severity.
func dimensionScale(name string) (def string, allowed []string) {
	if name == "gaps" {
		return "moderate", []string{"critical", "moderate", "minor"}
	}
	return "low", []string{"high", "medium", "low"}
}

type confidencePayload struct {
	Dimensions        map[string]dimensionPayload `json:"dimensions"`
	OverallConfidence types.FlexString            `json:"overall_confidence"`
	OverallReasoning  types.FlexString            `json:"overall_reasoning"`
	WhatWouldIncrease types.FlexStrings           `json:"what_would_increase_confidence"`
	WhatWouldDecrease types.FlexStrings           `json:"what_would_decrease_confidence"`
	Recommendation    types.FlexString            `json:"recommendation"`
}

// AssessConfidence scores how well the evidence supports problemStatement.
func (e *Engine) AssessConfidence(ctx context.Context, problemStatement string, chunks []types.EvidenceChunk) (*ConfidenceResult, error) {
	timer := logging.StartTimer(logging.CategoryAnalysis, "AssessConfidence")
	defer timer.Stop()

	res, err := e.invoke(ctx, synthesisSystemPrompt,
		fmt.Sprintf(confidencePromptTemplate, problemStatement, FormatEvidence(chunks)),
		ActionConfidenceAssessment,
		attrs("problem", preview(problemStatement), "evidence_count", count(len(chunks))))
	if err != nil {
		return nil, err
	}

	out := &ConfidenceResult{
		ProblemEvaluated:  problemStatement,
		Dimensions:        make(map[string]Dimension, len(Dimensions)),
		WhatWouldIncrease: []string{},
		WhatWouldDecrease: []string{},
		ReasoningTrace:    append([]string(nil), res.ReasoningTrace...),
		CallID:            res.CallID,
	}

	if res.Degraded() {
		out.Degraded = res.Fallback
		out.OverallConfidence = types.ConfidenceInsufficient
		out.OverallReasoning = "The assessment reply could not be parsed."
		fillDimensions(out.Dimensions)
		return out, nil
	}

	var p confidencePayload
	if note := res.DecodePartial(&p); note != "" {
		out.ReasoningTrace = append(out.ReasoningTrace, note)
	}

	for name, d := range p.Dimensions {
		key := strings.ToLower(strings.TrimSpace(name))
		if !isDimension(key) {
			out.ReasoningTrace = append(out.ReasoningTrace, fmt.Sprintf("Ignored dimension %q: not on the rubric", name))
			continue
		}
		raw := strings.TrimSpace(string(d.Score))
		if raw == "" {
			raw = strings.TrimSpace(string(d.Severity))
		}
		def, allowed := dimensionScale(key)
		score := oneOf(raw, def, allowed...)
		if raw != "" && score != strings.ToLower(raw) {
			out.ReasoningTrace = append(out.ReasoningTrace,
				fmt.Sprintf("Dimension %s score %q is not on the scale; reported as %s", key, raw, score))
			logging.AnalysisWarn("off-scale %s score %q normalized to %s", key, raw, score)
		}
		if raw == "" {
			score = ""
		}
		details := []string(d.SourceTypes)
		if len(d.KeyGaps) > 0 {
			details = append(details, d.KeyGaps...)
		}
		out.Dimensions[key] = Dimension{Score: score, Reasoning: string(d.Reasoning), Details: details}
	}
	if missing := fillDimensions(out.Dimensions); len(missing) > 0 {
		out.ReasoningTrace = append(out.ReasoningTrace, "Dimensions not assessed: "+strings.Join(missing, ", "))
	}

	level, note := normalizeConfidence(string(p.OverallConfidence))
	if note != "" {
		out.ReasoningTrace = append(out.ReasoningTrace, note)
	}
	out.OverallReasoning = strings.TrimSpace(string(p.OverallReasoning))
	if out.OverallReasoning == "" {
		out.OverallReasoning = missingRationale
	}
	if capped, note := e.capConfidence(level, chunks); note != "" {
		level = capped
		out.ReasoningTrace = append(out.ReasoningTrace, note)
		out.OverallReasoning += " " + note + "."
	}
	out.OverallConfidence = level

	if p.WhatWouldIncrease != nil {
		out.WhatWouldIncrease = p.WhatWouldIncrease
	}
	if p.WhatWouldDecrease != nil {
		out.WhatWouldDecrease = p.WhatWouldDecrease
	}
	out.Recommendation = string(p.Recommendation)

	logging.Analysis("confidence assessment: %s", out.OverallConfidence)
	return out, nil
}

// fillDimensions adds every missing rubric dimension at its default score
// and returns the names it added.
func fillDimensions(dims map[string]Dimension) []string {
	var missing []string
	for _, name := range Dimensions {
		d, ok := dims[name]
		if !ok || d.Score == "" {
			missing = append(missing, name)
			def, _ := dimensionScale(name)
			dims[name] = Dimension{Score: def, Reasoning: notAssessed, Details: d.Details}
			continue
		}
		if strings.TrimSpace(d.Reasoning) == "" {
			d.Reasoning = notAssessed
			dims[name] = d
		}
	}
	return missing
}

func isDimension(name string) bool {
	for _, d := range Dimensions {
		if d == name {
			return true
		}
	}
	return false
}
