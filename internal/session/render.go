package session

import (
	"fmt"
	"strings"

	"evidencelab/internal/analysis"
	"evidencelab/internal/articulation"
	"evidencelab/internal/extraction"
)

// Replies are Markdown; the CLI renders them with glamour.

const listLimit = 3

func renderDegraded(action, callID string) string {
	return fmt.Sprintf("The %s reply could not be read as structured output, so nothing was saved. "+
		"The raw reply is kept in the call log (call %s). Please try again.", action, callID)
}

// renderExtraction reports an extraction; dropped counts chunks that were not
// stored because they had no content.
func renderExtraction(res *extraction.ExtractionResult, report extraction.ValidationReport, dropped int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Extracted %d evidence chunks** from your input.\n\n", len(res.Chunks)-dropped)
	if dropped > 0 {
		fmt.Fprintf(&b, "*%d chunks had no content and were not stored.*\n\n", dropped)
	}
	fmt.Fprintf(&b, "**Summary:** %s\n", orDefault(res.Summary, "No summary generated."))

	if len(res.Concerns) > 0 {
		b.WriteString("\n**Concerns:**\n")
		for _, c := range res.Concerns {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(res.Skipped) > 0 {
		fmt.Fprintf(&b, "\n*Skipped %d items (not evidence)*\n", len(res.Skipped))
	}

	b.WriteString("\n")
	b.WriteString(extraction.FormatReport(report))

	b.WriteString(`
**What would you like to do next?**
- "Test my hypothesis that [X]" - I'll evaluate evidence for/against
- "What patterns do you see?" - I'll cluster and find themes
- "Assess confidence for [problem]" - I'll evaluate evidence strength
- "Prepare a stakeholder summary" - I'll generate a defensible narrative
`)
	return b.String()
}

func renderHypothesis(res *analysis.HypothesisResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Verdict: %s\n\n", res.Verdict)
	fmt.Fprintf(&b, "**Confidence:** %s\n\n", strings.ToUpper(string(res.Confidence)))
	if res.VerdictSummary != "" {
		fmt.Fprintf(&b, "%s\n\n", res.VerdictSummary)
	}
	fmt.Fprintf(&b, "> %s\n\n", res.ConfidenceReasoning)

	fmt.Fprintf(&b, "### Supporting Evidence (%d pieces)\n", len(res.SupportingEvidence))
	for _, ev := range head(res.SupportingEvidence) {
		fmt.Fprintf(&b, "- %s *(Relevance: %s)*\n", ev.ContentSummary, orDefault(ev.Relevance, "unknown"))
	}
	if len(res.CounterEvidence) > 0 {
		fmt.Fprintf(&b, "\n### Counter Evidence (%d pieces)\n", len(res.CounterEvidence))
		for _, ev := range head(res.CounterEvidence) {
			fmt.Fprintf(&b, "- %s *(Severity: %s)*\n", ev.ContentSummary, orDefault(ev.Severity, "unknown"))
		}
	}
	if len(res.EvidenceGaps) > 0 {
		b.WriteString("\n### Evidence Gaps\n")
		n := len(res.EvidenceGaps)
		if n > listLimit {
			n = listLimit
		}
		for _, g := range res.EvidenceGaps[:n] {
			fmt.Fprintf(&b, "- %s *(Importance: %s)*\n", g.Gap, orDefault(g.Importance, "unknown"))
		}
	}

	b.WriteString(`
---
**What next?**
- "Challenge this" - Tell me what I'm missing
- "Generate stakeholder summary" - I'll write it up
- "What would change this verdict?" - I'll explain
`)
	return b.String()
}

func head(items []analysis.EvidenceItem) []analysis.EvidenceItem {
	if len(items) > listLimit {
		return items[:listLimit]
	}
	return items
}

func renderPatterns(res *analysis.PatternResult) string {
	var b strings.Builder
	b.WriteString("## Patterns Found\n\n")
	fmt.Fprintf(&b, "%s\n\n", orDefault(res.SynthesisSummary, "No summary generated."))

	fmt.Fprintf(&b, "### Key Patterns (%d)\n", len(res.Patterns))
	for _, p := range res.Patterns {
		fmt.Fprintf(&b, "\n**%s**\n", orDefault(p.Theme, "Unknown"))
		if p.Description != "" {
			fmt.Fprintf(&b, "%s\n", p.Description)
		}
		fmt.Fprintf(&b, "*Evidence: %s | Confidence: %s*\n", p.EvidenceCount, p.Confidence)
	}
	if len(res.Contradictions) > 0 {
		fmt.Fprintf(&b, "\n### Contradictions (%d)\n", len(res.Contradictions))
		for _, c := range res.Contradictions {
			fmt.Fprintf(&b, "- %s\n", c.Description)
		}
	}
	if len(res.Gaps) > 0 {
		fmt.Fprintf(&b, "\n### Evidence Gaps (%d)\n", len(res.Gaps))
		for _, g := range res.Gaps {
			fmt.Fprintf(&b, "- %s\n", g.Description)
		}
	}
	return b.String()
}

func renderSummary(res *articulation.StakeholderSummary, evidenceSummary string) string {
	var b strings.Builder
	b.WriteString("## Stakeholder Summary\n\n")
	fmt.Fprintf(&b, "### %s\n\n", orDefault(res.Headline, "Research Findings"))
	fmt.Fprintf(&b, "**Evidence Base:** %s\n\n", orDefault(res.EvidenceBase, evidenceSummary))

	b.WriteString("### Key Findings\n")
	for _, f := range res.KeyFindings {
		fmt.Fprintf(&b, "- **%s**\n", f.Finding)
		if f.Implication != "" {
			fmt.Fprintf(&b, "  - *So what:* %s\n", f.Implication)
		}
	}

	fmt.Fprintf(&b, "\n**Confidence:** %s\n", strings.ToUpper(res.Confidence.Level))
	if res.Confidence.Explanation != "" {
		fmt.Fprintf(&b, "> %s\n", res.Confidence.Explanation)
	}
	if len(res.Caveats) > 0 {
		b.WriteString("\n### Caveats\n")
		for _, c := range res.Caveats {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(res.NextSteps) > 0 {
		b.WriteString("\n### Recommended Next Steps\n")
		for _, s := range res.NextSteps {
			fmt.Fprintf(&b, "- %s\n", s.Action)
		}
	}
	if res.Degraded != nil && res.StakeholderReadyText != "" {
		fmt.Fprintf(&b, "\n%s\n", res.StakeholderReadyText)
	}
	b.WriteString("\n---\n*Copy the above for your stakeholder conversation.*\n")
	return b.String()
}

func renderCounter(res *articulation.CounterEvidenceResult) string {
	var b strings.Builder
	b.WriteString("## Counter-Evidence Analysis\n\n")
	fmt.Fprintf(&b, "**Assumption tested:** %s\n\n", res.AssumptionTested)

	b.WriteString("### Evidence Against Your Assumption\n")
	if len(res.CounterEvidence) == 0 {
		b.WriteString("\nNo direct counter-evidence found.\n")
	}
	for _, c := range res.CounterEvidence {
		fmt.Fprintf(&b, "\n**[%s]** %s\n", strings.ToUpper(orDefault(c.StrengthOfContradiction, "unknown")), c.Content)
		fmt.Fprintf(&b, "   *Why this contradicts:* %s\n", c.HowItContradicts)
	}
	if len(res.AlternativeExplanations) > 0 {
		b.WriteString("\n### Alternative Explanations\n")
		for _, a := range res.AlternativeExplanations {
			fmt.Fprintf(&b, "- Your evidence: *%s*\n  Alternative view: %s\n", a.ForEvidence, a.Alternative)
		}
	}
	if res.DevilAdvocateSummary != "" {
		fmt.Fprintf(&b, "\n### Alternative Perspective\n%s\n", res.DevilAdvocateSummary)
	}
	fmt.Fprintf(&b, "\n### Balanced Assessment\n%s\n", res.HonestAssessment)
	return b.String()
}

func renderConfidence(res *analysis.ConfidenceResult) string {
	var b strings.Builder
	b.WriteString("## Confidence Assessment\n\n")
	fmt.Fprintf(&b, "**Problem evaluated:** %s\n\n", res.ProblemEvaluated)
	fmt.Fprintf(&b, "### Overall Confidence: %s\n\n", strings.ToUpper(string(res.OverallConfidence)))
	if res.OverallReasoning != "" {
		fmt.Fprintf(&b, "%s\n\n", res.OverallReasoning)
	}

	b.WriteString("### Dimension Breakdown\n")
	for _, name := range analysis.Dimensions {
		d := res.Dimensions[name]
		fmt.Fprintf(&b, "\n**%s:** %s\n   %s\n", strings.ToUpper(name[:1])+name[1:], strings.ToUpper(d.Score), d.Reasoning)
	}
	if len(res.WhatWouldIncrease) > 0 {
		b.WriteString("\n### To Increase Confidence\n")
		for _, item := range res.WhatWouldIncrease {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}
	fmt.Fprintf(&b, "\n### Recommendation\n%s\n", orDefault(res.Recommendation, "No recommendation generated."))
	return b.String()
}

func renderGeneral(chunkCount int) string {
	if chunkCount > 0 {
		return fmt.Sprintf(`I have **%d evidence chunks** loaded. What would you like to do?

- **"Test my hypothesis that [X]"** - I'll find evidence for and against
- **"What patterns do you see?"** - I'll cluster themes and contradictions
- **"Assess confidence for [problem]"** - I'll evaluate evidence strength
- **"Prepare a stakeholder summary"** - I'll generate a defensible narrative
- **"Challenge my assumption that [X]"** - I'll play devil's advocate

Or paste more research to add to the evidence base.
`, chunkCount)
	}
	return `I'm not sure what you're asking for. To get started:

1. **Paste your research** - Interview notes, feedback, survey responses, etc.
2. **Tell me what you want** - Test a hypothesis, find patterns, prepare for stakeholders

Just paste your raw research and I'll help you make sense of it.
`
}

func renderChallenge(res *analysis.ChallengeResult) string {
	var b strings.Builder
	b.WriteString("## Hypothesis Challenge\n\n")
	fmt.Fprintf(&b, "**Challenge:** %s\n\n", res.Challenge)
	if res.VerdictChanged {
		fmt.Fprintf(&b, "**Verdict changed:** %s → %s\n\n", res.OriginalVerdict, res.Verdict)
	} else {
		fmt.Fprintf(&b, "**Verdict unchanged:** %s\n\n", res.Verdict)
	}
	fmt.Fprintf(&b, "**Confidence:** %s\n\n", strings.ToUpper(string(res.Confidence)))
	if res.Explanation != "" {
		fmt.Fprintf(&b, "%s\n", res.Explanation)
	}
	if len(res.Changes) > 0 {
		b.WriteString("\n### What changed\n")
		for _, c := range res.Changes {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	return b.String()
}

func renderClusters(res *analysis.ClusterResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Evidence Clusters (%d)\n", len(res.Clusters))
	for _, c := range res.Clusters {
		fmt.Fprintf(&b, "\n**%s** *(%s, evidence %s)*\n", c.Name, orDefault(c.Strength, "unrated"), strings.Join(c.EvidenceIDs, ", "))
		if c.Description != "" {
			fmt.Fprintf(&b, "%s\n", c.Description)
		}
	}
	if len(res.Unclustered) > 0 {
		fmt.Fprintf(&b, "\n### Unclustered (%d)\n", len(res.Unclustered))
		for _, u := range res.Unclustered {
			fmt.Fprintf(&b, "- %s: %s\n", u.EvidenceID, u.Reason)
		}
	}
	return b.String()
}

func renderGaps(res *articulation.ResearchGapsResult) string {
	var b strings.Builder
	b.WriteString("## Research Gaps\n\n")
	if res.CurrentEvidenceSummary != "" {
		fmt.Fprintf(&b, "%s\n", res.CurrentEvidenceSummary)
	}
	section := func(title string, gaps []articulation.ResearchGap) {
		if len(gaps) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n### %s\n", title)
		for _, g := range gaps {
			fmt.Fprintf(&b, "- **%s**", g.Gap)
			if g.HowToFill != "" {
				fmt.Fprintf(&b, " *(fill by: %s)*", g.HowToFill)
			}
			b.WriteString("\n")
		}
	}
	section("Critical", res.CriticalGaps)
	section("Important", res.ImportantGaps)
	section("Nice to have", res.NiceToHaveGaps)
	if res.Recommendation != "" {
		fmt.Fprintf(&b, "\n### Recommendation\n%s\n", res.Recommendation)
	}
	return b.String()
}

func renderGuide(res *articulation.PersuasionGuide) string {
	var b strings.Builder
	b.WriteString("## Persuasion Guide\n\n")
	fmt.Fprintf(&b, "**Recommendation:** %s\n\n", orDefault(res.RecommendationSummary, res.Recommendation))
	for _, o := range res.ObjectionResponses {
		fmt.Fprintf(&b, "### \"%s\"\n%s\n", o.Objection, o.Response)
		if len(o.EvidenceCited) > 0 {
			fmt.Fprintf(&b, "*Evidence: %s*\n", strings.Join(o.EvidenceCited, ", "))
		}
		b.WriteString("\n")
	}
	if len(res.AreasOfUncertainty) > 0 {
		b.WriteString("### Be upfront about\n")
		for _, a := range res.AreasOfUncertainty {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	if res.FallbackPosition != "" {
		fmt.Fprintf(&b, "\n**Fallback position:** %s\n", res.FallbackPosition)
	}
	return b.String()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
