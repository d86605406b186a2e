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

type ObjectionResponse struct {
	Objection            string   `json:"objection"`
	Response             string   `json:"response"`
	EvidenceCited        []string `json:"evidence_cited"`
	MeritAcknowledged    string   `json:"merit_acknowledged"`
	ConfidenceInResponse string   `json:"confidence_in_response"`
}

// PersuasionGuide prepares the PM for a skeptical stakeholder.
type PersuasionGuide struct {
	Recommendation        string                   `json:"recommendation"`
	RecommendationSummary string                   `json:"recommendation_summary"`
	ObjectionResponses    []ObjectionResponse      `json:"objection_responses"`
	AreasOfUncertainty    []string                 `json:"areas_of_uncertainty"`
	SuggestedFraming      string                   `json:"suggested_framing"`
	FallbackPosition      string                   `json:"fallback_position"`
	SuggestedScript       string                   `json:"suggested_script"`
	ReasoningTrace        []string                 `json:"reasoning_trace"`
	CallID                string                   `json:"call_id"`
	Degraded              *perception.ParseFailure `json:"degraded,omitempty"`
}

type objectionPayload struct {
	Objection            types.FlexString  `json:"objection"`
	Response             types.FlexString  `json:"response"`
	EvidenceCited        types.FlexStrings `json:"evidence_cited"`
	MeritAcknowledged    types.FlexString  `json:"merit_acknowledged"`
	ConfidenceInResponse types.FlexString  `json:"confidence_in_response"`
}

type persuasionPayload struct {
	RecommendationSummary types.FlexString  `json:"recommendation_summary"`
	ObjectionResponses    []json.RawMessage `json:"objection_responses"`
	AreasOfUncertainty    types.FlexStrings `json:"areas_of_uncertainty"`
	SuggestedFraming      types.FlexString  `json:"suggested_framing"`
	FallbackPosition      types.FlexString  `json:"fallback_position"`
	SuggestedScript       types.FlexString  `json:"suggested_script"`
}

// PersuasionGuide answers the likely objections to recommendation.
func (g *Generator) PersuasionGuide(ctx context.Context, recommendation string, chunks []types.EvidenceChunk, objections []string, extraContext string) (*PersuasionGuide, error) {
	timer := logging.StartTimer(logging.CategoryArticulation, "PersuasionGuide")
	defer timer.Stop()

	if strings.TrimSpace(recommendation) == "" {
		return nil, fmt.Errorf("recommendation is empty")
	}
	objectionText := "No objections specified."
	if len(objections) > 0 {
		objectionText = "- " + strings.Join(objections, "\n- ")
	}
	if strings.TrimSpace(extraContext) == "" {
		extraContext = "No additional context."
	}

	res, err := g.invoke(ctx,
		fmt.Sprintf(persuasionPromptTemplate, recommendation, analysis.FormatEvidence(chunks), objectionText, extraContext),
		ActionPersuasionGuide,
		map[string]string{"recommendation": preview(recommendation), "objection_count": strconv.Itoa(len(objections))})
	if err != nil {
		return nil, err
	}

	out := &PersuasionGuide{
		Recommendation:     recommendation,
		ObjectionResponses: []ObjectionResponse{},
		AreasOfUncertainty: []string{},
		ReasoningTrace:     append([]string(nil), res.ReasoningTrace...),
		CallID:             res.CallID,
	}
	if res.Degraded() {
		out.Degraded = res.Fallback
		return out, nil
	}

	var p persuasionPayload
	if note := res.DecodePartial(&p); note != "" {
		out.ReasoningTrace = append(out.ReasoningTrace, note)
	}
	out.RecommendationSummary = string(p.RecommendationSummary)
	for _, o := range decodeItems(p.ObjectionResponses, func(o *objectionPayload, s string) { o.Response = types.FlexString(s) }) {
		out.ObjectionResponses = append(out.ObjectionResponses, ObjectionResponse{
			Objection:            string(o.Objection),
			Response:             string(o.Response),
			EvidenceCited:        nonNil(o.EvidenceCited),
			MeritAcknowledged:    string(o.MeritAcknowledged),
			ConfidenceInResponse: strings.ToLower(string(o.ConfidenceInResponse)),
		})
	}
	out.AreasOfUncertainty = nonNil(p.AreasOfUncertainty)
	out.SuggestedFraming = string(p.SuggestedFraming)
	out.FallbackPosition = string(p.FallbackPosition)
	out.SuggestedScript = string(p.SuggestedScript)
	return out, nil
}

// ResearchGap is one unanswered question, prioritized.
type ResearchGap struct {
	Gap               string `json:"gap"`
	WhyCritical       string `json:"why_critical,omitempty"`
	RiskIfUnfilled    string `json:"risk_if_unfilled,omitempty"`
	HowToFill         string `json:"how_to_fill"`
	EffortEstimate    string `json:"effort_estimate,omitempty"`
	SuggestedTimeline string `json:"suggested_timeline,omitempty"`
}

// ResearchGapsResult is the prioritized list of missing research.
type ResearchGapsResult struct {
	TopicEvaluated          string                   `json:"topic_evaluated"`
	CurrentEvidenceSummary  string                   `json:"current_evidence_summary"`
	CriticalGaps            []ResearchGap            `json:"critical_gaps"`
	ImportantGaps           []ResearchGap            `json:"important_gaps"`
	NiceToHaveGaps          []ResearchGap            `json:"nice_to_have_gaps"`
	SufficientEvidenceAreas []string                 `json:"sufficient_evidence_areas"`
	Recommendation          string                   `json:"recommendation"`
	ReasoningTrace          []string                 `json:"reasoning_trace"`
	CallID                  string                   `json:"call_id"`
	Degraded                *perception.ParseFailure `json:"degraded,omitempty"`
}

// SuggestedResearch lists how to fill each gap, most important first.
func (r *ResearchGapsResult) SuggestedResearch() []string {
	var out []string
	for _, group := range [][]ResearchGap{r.CriticalGaps, r.ImportantGaps, r.NiceToHaveGaps} {
		for _, g := range group {
			if g.HowToFill != "" {
				out = append(out, g.HowToFill)
			}
		}
	}
	return out
}

// GapDescriptions lists every gap, most important first.
func (r *ResearchGapsResult) GapDescriptions() []string {
	var out []string
	for _, group := range [][]ResearchGap{r.CriticalGaps, r.ImportantGaps, r.NiceToHaveGaps} {
		for _, g := range group {
			out = append(out, g.Gap)
		}
	}
	return out
}

type researchGapPayload struct {
	Gap               types.FlexString `json:"gap"`
	WhyCritical       types.FlexString `json:"why_critical"`
	RiskIfUnfilled    types.FlexString `json:"risk_if_unfilled"`
	HowToFill         types.FlexString `json:"how_to_fill"`
	EffortEstimate    types.FlexString `json:"effort_estimate"`
	SuggestedTimeline types.FlexString `json:"suggested_timeline"`
}

type gapsPayload struct {
	CurrentEvidenceSummary  types.FlexString  `json:"current_evidence_summary"`
	CriticalGaps            []json.RawMessage `json:"critical_gaps"`
	ImportantGaps           []json.RawMessage `json:"important_gaps"`
	NiceToHaveGaps          []json.RawMessage `json:"nice_to_have_gaps"`
	SufficientEvidenceAreas types.FlexStrings `json:"sufficient_evidence_areas"`
	Recommendation          types.FlexString  `json:"recommendation"`
}

// ResearchGaps reports what research is missing for the decisions at hand.
func (g *Generator) ResearchGaps(ctx context.Context, topic string, chunks []types.EvidenceChunk, decisions string) (*ResearchGapsResult, error) {
	timer := logging.StartTimer(logging.CategoryArticulation, "ResearchGaps")
	defer timer.Stop()

	if strings.TrimSpace(decisions) == "" {
		decisions = "Not specified."
	}
	res, err := g.invoke(ctx,
		fmt.Sprintf(gapsPromptTemplate, topic, analysis.FormatEvidence(chunks), decisions),
		ActionGapAnalysis,
		map[string]string{"topic": preview(topic), "evidence_count": strconv.Itoa(len(chunks))})
	if err != nil {
		return nil, err
	}

	out := &ResearchGapsResult{
		TopicEvaluated:          topic,
		CriticalGaps:            []ResearchGap{},
		ImportantGaps:           []ResearchGap{},
		NiceToHaveGaps:          []ResearchGap{},
		SufficientEvidenceAreas: []string{},
		ReasoningTrace:          append([]string(nil), res.ReasoningTrace...),
		CallID:                  res.CallID,
	}
	if res.Degraded() {
		out.Degraded = res.Fallback
		return out, nil
	}

	var p gapsPayload
	if note := res.DecodePartial(&p); note != "" {
		out.ReasoningTrace = append(out.ReasoningTrace, note)
	}
	out.CurrentEvidenceSummary = string(p.CurrentEvidenceSummary)
	out.CriticalGaps = toResearchGaps(p.CriticalGaps)
	out.ImportantGaps = toResearchGaps(p.ImportantGaps)
	out.NiceToHaveGaps = toResearchGaps(p.NiceToHaveGaps)
	out.SufficientEvidenceAreas = nonNil(p.SufficientEvidenceAreas)
	out.Recommendation = string(p.Recommendation)

	logging.Articulation("research gaps: %d critical, %d important, %d nice-to-have",
		len(out.CriticalGaps), len(out.ImportantGaps), len(out.NiceToHaveGaps))
	return out, nil
}

func toResearchGaps(raw []json.RawMessage) []ResearchGap {
	items := decodeItems(raw, func(g *researchGapPayload, s string) { g.Gap = types.FlexString(s) })
	out := make([]ResearchGap, 0, len(items))
	for _, g := range items {
		out = append(out, ResearchGap{
			Gap:               string(g.Gap),
			WhyCritical:       string(g.WhyCritical),
			RiskIfUnfilled:    string(g.RiskIfUnfilled),
			HowToFill:         string(g.HowToFill),
			EffortEstimate:    string(g.EffortEstimate),
			SuggestedTimeline: string(g.SuggestedTimeline),
		})
	}
	return out
}
