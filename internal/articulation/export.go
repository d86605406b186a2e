package articulation

import (
	"fmt"
	"strings"
)

// ExportFormat selects a FormatForExport rendering.
type ExportFormat string

const (
	FormatMarkdown ExportFormat = "markdown"
	FormatPlain    ExportFormat = "plain"
)

// ParseExportFormat accepts "markdown", "md", "plain" and "text".
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "markdown", "md", "":
		return FormatMarkdown, nil
	case "plain", "text", "txt":
		return FormatPlain, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want markdown or plain)", s)
	}
}

// FormatForExport renders a summary for pasting outside the tool.
func FormatForExport(s *StakeholderSummary, format ExportFormat) (string, error) {
	if s == nil {
		return "", fmt.Errorf("no summary to export")
	}
	switch format {
	case FormatMarkdown:
		return formatMarkdown(s), nil
	case FormatPlain:
		return formatPlain(s), nil
	default:
		return "", fmt.Errorf("unknown export format %q", format)
	}
}

func formatMarkdown(s *StakeholderSummary) string {
	var lines []string
	if s.Headline != "" {
		lines = append(lines, "# "+s.Headline, "")
	}
	if s.EvidenceBase != "" {
		lines = append(lines, "**Evidence Base:** "+s.EvidenceBase, "")
	}
	if len(s.KeyFindings) > 0 {
		lines = append(lines, "## Key Findings", "")
		for _, f := range s.KeyFindings {
			lines = append(lines, fmt.Sprintf("- **%s**", f.Finding))
			if f.EvidenceReference != "" {
				lines = append(lines, "  - *Evidence:* "+f.EvidenceReference)
			}
			if f.Implication != "" {
				lines = append(lines, "  - *Implication:* "+f.Implication)
			}
		}
		lines = append(lines, "")
	}
	if s.Confidence.Level != "" {
		lines = append(lines, "**Confidence Level:** "+strings.ToUpper(s.Confidence.Level))
		if s.Confidence.Explanation != "" {
			lines = append(lines, "> "+s.Confidence.Explanation)
		}
		lines = append(lines, "")
	}
	if len(s.Caveats) > 0 {
		lines = append(lines, "## Caveats & Gaps", "")
		for _, c := range s.Caveats {
			lines = append(lines, "- "+c)
		}
		lines = append(lines, "")
	}
	if len(s.NextSteps) > 0 {
		lines = append(lines, "## Recommended Next Steps", "")
		for _, n := range s.NextSteps {
			lines = append(lines, fmt.Sprintf("- **%s**", n.Action))
			if n.Rationale != "" {
				lines = append(lines, "  - *Rationale:* "+n.Rationale)
			}
		}
		lines = append(lines, "")
	}
	if len(s.ReasoningTrace) > 0 {
		lines = append(lines, "---", "", "## Reasoning Trace (Internal Reference)", "")
		for _, step := range s.ReasoningTrace {
			lines = append(lines, "- "+step)
		}
	}
	return strings.Join(lines, "\n")
}

// formatPlain prefers the provider's paste-ready text and falls back to the
// findings when there is none.
func formatPlain(s *StakeholderSummary) string {
	var lines []string
	if s.Headline != "" {
		lines = append(lines, strings.ToUpper(s.Headline), strings.Repeat("=", len([]rune(s.Headline))), "")
	}
	if s.StakeholderReadyText != "" {
		lines = append(lines, s.StakeholderReadyText)
		return strings.Join(lines, "\n")
	}
	if s.EvidenceBase != "" {
		lines = append(lines, s.EvidenceBase, "")
	}
	for i, f := range s.KeyFindings {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, f.Finding))
	}
	if s.Confidence.Level != "" {
		lines = append(lines, "", fmt.Sprintf("Confidence: %s. %s", s.Confidence.Level, s.Confidence.Explanation))
	}
	return strings.TrimRight(strings.Join(lines, "\n"), " \n")
}
