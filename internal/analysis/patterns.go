package analysis

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"evidencelab/internal/logging"
	"evidencelab/internal/perception"
	"evidencelab/internal/types"
)

// PatternSupport links a pattern to one chunk.
type PatternSupport struct {
	EvidenceID    string `json:"evidence_id"`
	HowItSupports string `json:"how_it_supports"`
}

// Pattern is one recurring theme across the evidence.
type Pattern struct {
	Theme               string           `json:"theme"`
	Description         string           `json:"description"`
	EvidenceSupport     []PatternSupport `json:"evidence_support"`
	CounterEvidence     []string         `json:"counter_evidence"`
	EvidenceCount       string           `json:"evidence_count"` // "X of Y"
	Confidence          string           `json:"confidence"`     // strong, moderate or weak
	ConfidenceReasoning string           `json:"confidence_reasoning"`
}

type Contradiction struct {
	Description          string   `json:"description"`
	EvidenceA            string   `json:"evidence_a"`
	EvidenceB            string   `json:"evidence_b"`
	PossibleExplanations []string `json:"possible_explanations"`
}

type PatternGap struct {
	Description string `json:"description"`
	WhyNotable  string `json:"why_notable"`
	HowToFill   string `json:"how_to_fill"`
}

type Surprise struct {
	Finding      string `json:"finding"`
	Evidence     string `json:"evidence"`
	Implications string `json:"implications"`
}

// PatternResult is the normalized outcome of FindPatterns.
type PatternResult struct {
	Patterns         []Pattern                `json:"patterns"`
	Contradictions   []Contradiction          `json:"contradictions"`
	Gaps             []PatternGap             `json:"gaps"`
	Surprises        []Surprise               `json:"surprises"`
	SynthesisSummary string                   `json:"synthesis_summary"`
	ReasoningTrace   []string                 `json:"reasoning_trace"`
	CallID           string                   `json:"call_id"`
	Degraded         *perception.ParseFailure `json:"degraded,omitempty"`
}

// GapDescriptions flattens the gaps for persistence.
func (r *PatternResult) GapDescriptions() []string {
	out := make([]string, 0, len(r.Gaps))
	for _, g := range r.Gaps {
		out = append(out, g.Description)
	}
	return out
}

// CitedEvidence returns the numeric chunk IDs any pattern cites, in order.
func (r *PatternResult) CitedEvidence() []int64 {
	var ids []int64
	seen := make(map[int64]bool)
	for _, p := range r.Patterns {
		for _, s := range p.EvidenceSupport {
			if id, ok := types.ExtractInt64(s.EvidenceID); ok && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Pattern reply items may arrive as bare strings; each payload type names
// the field such a string fills.

type supportPayload struct {
	EvidenceID    types.FlexString `json:"evidence_id"`
	HowItSupports types.FlexString `json:"how_it_supports"`
}

// UnmarshalJSON reads a bare chunk ID as the evidence ID and any other
// bare string as the explanation.
func (p *supportPayload) UnmarshalJSON(data []byte) error {
	type plain supportPayload
	return types.DecodeObjectOrText(data, (*plain)(p), func(s string) {
		if bareIDRe.MatchString(s) {
			p.EvidenceID = types.FlexString(s)
			return
		}
		p.HowItSupports = types.FlexString(s)
	})
}

type patternItemPayload struct {
	Theme               types.FlexString  `json:"theme"`
	Description         types.FlexString  `json:"description"`
	EvidenceSupport     []supportPayload  `json:"evidence_support"`
	CounterEvidence     types.FlexStrings `json:"counter_evidence"`
	EvidenceCount       types.FlexString  `json:"evidence_count"`
	Confidence          types.FlexString  `json:"confidence"`
	ConfidenceReasoning types.FlexString  `json:"confidence_reasoning"`
}

func (p *patternItemPayload) UnmarshalJSON(data []byte) error {
	type plain patternItemPayload
	return types.DecodeObjectOrText(data, (*plain)(p), func(s string) { p.Theme = types.FlexString(s) })
}

type contradictionPayload struct {
	Description          types.FlexString  `json:"description"`
	EvidenceA            types.FlexString  `json:"evidence_a"`
	EvidenceB            types.FlexString  `json:"evidence_b"`
	PossibleExplanations types.FlexStrings `json:"possible_explanations"`
}

func (p *contradictionPayload) UnmarshalJSON(data []byte) error {
	type plain contradictionPayload
	return types.DecodeObjectOrText(data, (*plain)(p), func(s string) { p.Description = types.FlexString(s) })
}

type patternGapPayload struct {
	Description types.FlexString `json:"description"`
	WhyNotable  types.FlexString `json:"why_notable"`
	HowToFill   types.FlexString `json:"how_to_fill"`
}

func (p *patternGapPayload) UnmarshalJSON(data []byte) error {
	type plain patternGapPayload
	return types.DecodeObjectOrText(data, (*plain)(p), func(s string) { p.Description = types.FlexString(s) })
}

type surprisePayload struct {
	Finding      types.FlexString `json:"finding"`
	Evidence     types.FlexString `json:"evidence"`
	Implications types.FlexString `json:"implications"`
}

func (p *surprisePayload) UnmarshalJSON(data []byte) error {
	type plain surprisePayload
	return types.DecodeObjectOrText(data, (*plain)(p), func(s string) { p.Finding = types.FlexString(s) })
}

type patternPayload struct {
	Patterns         []patternItemPayload   `json:"patterns"`
	Contradictions   []contradictionPayload `json:"contradictions"`
	Gaps             []patternGapPayload    `json:"gaps"`
	Surprises        []surprisePayload      `json:"surprises"`
	SynthesisSummary types.FlexString       `json:"synthesis_summary"`
}

// FindPatterns looks for themes, contradictions, gaps and surprises.
func (e *Engine) FindPatterns(ctx context.Context, chunks []types.EvidenceChunk, patternContext string) (*PatternResult, error) {
	timer := logging.StartTimer(logging.CategoryAnalysis, "FindPatterns")
	defer timer.Stop()

	ctxText := patternContext
	if strings.TrimSpace(ctxText) == "" {
		ctxText = noPatternContext
	}
	res, err := e.invoke(ctx, synthesisSystemPrompt,
		fmt.Sprintf(patternPromptTemplate, FormatEvidence(chunks), ctxText),
		ActionPatternSynthesis,
		attrs("evidence_count", count(len(chunks))))
	if err != nil {
		return nil, err
	}

	out := &PatternResult{
		Patterns:       []Pattern{},
		Contradictions: []Contradiction{},
		Gaps:           []PatternGap{},
		Surprises:      []Surprise{},
		ReasoningTrace: append([]string(nil), res.ReasoningTrace...),
		CallID:         res.CallID,
	}
	if res.Degraded() {
		out.Degraded = res.Fallback
		logging.AnalysisWarn("pattern reply unparseable (call %s)", res.CallID)
		return out, nil
	}

	var p patternPayload
	if note := res.DecodePartial(&p); note != "" {
		out.ReasoningTrace = append(out.ReasoningTrace, note)
	}

	for _, raw := range p.Patterns {
		if raw.Theme == "" && raw.Description == "" {
			continue
		}
		pat := Pattern{
			Theme:               string(raw.Theme),
			Description:         string(raw.Description),
			EvidenceSupport:     []PatternSupport{},
			CounterEvidence:     []string{},
			Confidence:          oneOf(string(raw.Confidence), "weak", "strong", "moderate", "weak"),
			ConfidenceReasoning: string(raw.ConfidenceReasoning),
		}
		for _, s := range raw.EvidenceSupport {
			pat.EvidenceSupport = append(pat.EvidenceSupport, PatternSupport{
				EvidenceID:    strings.TrimSpace(string(s.EvidenceID)),
				HowItSupports: string(s.HowItSupports),
			})
		}
		if raw.CounterEvidence != nil {
			pat.CounterEvidence = raw.CounterEvidence
		}
		pat.EvidenceCount = normalizeEvidenceCount(string(raw.EvidenceCount), len(pat.EvidenceSupport), len(chunks))
		out.Patterns = append(out.Patterns, pat)
	}
	for _, c := range p.Contradictions {
		if c.Description == "" {
			continue
		}
		expl := []string(c.PossibleExplanations)
		if expl == nil {
			expl = []string{}
		}
		out.Contradictions = append(out.Contradictions, Contradiction{
			Description:          string(c.Description),
			EvidenceA:            string(c.EvidenceA),
			EvidenceB:            string(c.EvidenceB),
			PossibleExplanations: expl,
		})
	}
	for _, g := range p.Gaps {
		if g.Description == "" {
			continue
		}
		out.Gaps = append(out.Gaps, PatternGap{
			Description: string(g.Description),
			WhyNotable:  string(g.WhyNotable),
			HowToFill:   string(g.HowToFill),
		})
	}
	for _, s := range p.Surprises {
		if s.Finding == "" {
			continue
		}
		out.Surprises = append(out.Surprises, Surprise{
			Finding:      string(s.Finding),
			Evidence:     string(s.Evidence),
			Implications: string(s.Implications),
		})
	}
	out.SynthesisSummary = string(p.SynthesisSummary)

	logging.Analysis("found %d patterns, %d contradictions, %d gaps",
		len(out.Patterns), len(out.Contradictions), len(out.Gaps))
	return out, nil
}

var (
	bareIDRe     = regexp.MustCompile(`^#?\d+$`)
	bareCountRe  = regexp.MustCompile(`^\d+$`)
	xOfYPrefixRe = regexp.MustCompile(`^\d+\s+of\s+\d+`)
)

// normalizeEvidenceCount keeps "X of Y ..." as given and rewrites a bare
// number, or nothing, into "X of Y" against the analyzed total.
func normalizeEvidenceCount(raw string, cited, total int) string {
	s := strings.TrimSpace(raw)
	switch {
	case xOfYPrefixRe.MatchString(s):
		return s
	case bareCountRe.MatchString(s):
		return fmt.Sprintf("%s of %d", s, total)
	case s == "":
		return fmt.Sprintf("%d of %d", cited, total)
	default:
		return s
	}
}

// Cluster is a named group of related chunks.
type Cluster struct {
	Name                   string   `json:"name"`
	Description            string   `json:"description"`
	EvidenceIDs            []string `json:"evidence_ids"`
	UnifyingTheme          string   `json:"unifying_theme"`
	Strength               string   `json:"strength"`
	InternalContradictions []string `json:"internal_contradictions"`
	Outliers               []string `json:"outliers"`
}

type Unclustered struct {
	EvidenceID string `json:"evidence_id"`
	Reason     string `json:"reason"`
}

type ClusterConnection struct {
	Clusters     []string `json:"clusters"`
	Relationship string   `json:"relationship"`
}

// ClusterResult is the normalized outcome of ClusterEvidence.
type ClusterResult struct {
	Clusters                []Cluster                `json:"clusters"`
	Unclustered             []Unclustered            `json:"unclustered"`
	CrossClusterConnections []ClusterConnection      `json:"cross_cluster_connections"`
	ReasoningTrace          []string                 `json:"reasoning_trace"`
	CallID                  string                   `json:"call_id"`
	Degraded                *perception.ParseFailure `json:"degraded,omitempty"`
}

type clusterItemPayload struct {
	Name                   types.FlexString  `json:"name"`
	Description            types.FlexString  `json:"description"`
	EvidenceIDs            types.FlexStrings `json:"evidence_ids"`
	UnifyingTheme          types.FlexString  `json:"unifying_theme"`
	Strength               types.FlexString  `json:"strength"`
	InternalContradictions types.FlexStrings `json:"internal_contradictions"`
	Outliers               types.FlexStrings `json:"outliers"`
}

func (p *clusterItemPayload) UnmarshalJSON(data []byte) error {
	type plain clusterItemPayload
	return types.DecodeObjectOrText(data, (*plain)(p), func(s string) { p.Name = types.FlexString(s) })
}

type unclusteredPayload struct {
	EvidenceID types.FlexString `json:"evidence_id"`
	Reason     types.FlexString `json:"reason"`
}

func (p *unclusteredPayload) UnmarshalJSON(data []byte) error {
	type plain unclusteredPayload
	return types.DecodeObjectOrText(data, (*plain)(p), func(s string) { p.EvidenceID = types.FlexString(s) })
}

type connectionPayload struct {
	Clusters     types.FlexStrings `json:"clusters"`
	Relationship types.FlexString  `json:"relationship"`
}

func (p *connectionPayload) UnmarshalJSON(data []byte) error {
	type plain connectionPayload
	return types.DecodeObjectOrText(data, (*plain)(p), func(s string) { p.Relationship = types.FlexString(s) })
}

type clusterPayload struct {
	Clusters                []clusterItemPayload `json:"clusters"`
	Unclustered             []unclusteredPayload `json:"unclustered"`
	CrossClusterConnections []connectionPayload  `json:"cross_cluster_connections"`
}

// ClusterEvidence groups chunks by underlying theme.
func (e *Engine) ClusterEvidence(ctx context.Context, chunks []types.EvidenceChunk) (*ClusterResult, error) {
	timer := logging.StartTimer(logging.CategoryAnalysis, "ClusterEvidence")
	defer timer.Stop()

	res, err := e.invoke(ctx, synthesisSystemPrompt,
		fmt.Sprintf(clusterPromptTemplate, FormatEvidence(chunks)),
		ActionClustering,
		attrs("evidence_count", count(len(chunks))))
	if err != nil {
		return nil, err
	}

	out := &ClusterResult{
		Clusters:                []Cluster{},
		Unclustered:             []Unclustered{},
		CrossClusterConnections: []ClusterConnection{},
		ReasoningTrace:          append([]string(nil), res.ReasoningTrace...),
		CallID:                  res.CallID,
	}
	if res.Degraded() {
		out.Degraded = res.Fallback
		return out, nil
	}

	var p clusterPayload
	if note := res.DecodePartial(&p); note != "" {
		out.ReasoningTrace = append(out.ReasoningTrace, note)
	}
	for _, c := range p.Clusters {
		if c.Name == "" && len(c.EvidenceIDs) == 0 {
			continue
		}
		out.Clusters = append(out.Clusters, Cluster{
			Name:                   string(c.Name),
			Description:            string(c.Description),
			EvidenceIDs:            nonNil(c.EvidenceIDs),
			UnifyingTheme:          string(c.UnifyingTheme),
			Strength:               oneOf(string(c.Strength), "weak", "strong", "moderate", "weak"),
			InternalContradictions: nonNil(c.InternalContradictions),
			Outliers:               nonNil(c.Outliers),
		})
	}
	for _, u := range p.Unclustered {
		if u.EvidenceID == "" {
			continue
		}
		out.Unclustered = append(out.Unclustered, Unclustered{EvidenceID: string(u.EvidenceID), Reason: string(u.Reason)})
	}
	for _, c := range p.CrossClusterConnections {
		if c.Relationship == "" && len(c.Clusters) == 0 {
			continue
		}
		out.CrossClusterConnections = append(out.CrossClusterConnections, ClusterConnection{
			Clusters:     nonNil(c.Clusters),
			Relationship: string(c.Relationship),
		})
	}
	logging.Analysis("clustered evidence into %d groups (%d unclustered)", len(out.Clusters), len(out.Unclustered))
	return out, nil
}

func nonNil(s types.FlexStrings) []string {
	if s == nil {
		return []string{}
	}
	return s
}
