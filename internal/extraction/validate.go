package extraction

import (
	"fmt"
	"sort"
	"strings"

	"evidencelab/internal/config"
	"evidencelab/internal/types"
)

// ValidationReport summarizes a chunk set. It is advisory: nothing here
// blocks storing the chunks.
type ValidationReport struct {
	TotalCount       int                        `json:"total_count"`
	CountsByType     map[types.EvidenceType]int `json:"counts_by_type"`
	CountsByStrength map[types.Strength]int     `json:"counts_by_strength"`
	Issues           []string                   `json:"issues"`
	Suggestions      []string                   `json:"suggestions"`
}

// HasFindings reports whether the report carries any issue or suggestion.
func (r ValidationReport) HasFindings() bool {
	return len(r.Issues) > 0 || len(r.Suggestions) > 0
}

// ValidateChunks inspects chunks without calling the provider. The result
// depends only on its inputs.
func ValidateChunks(chunks []types.ChunkInput, cfg config.ValidationConfig) ValidationReport {
	report := ValidationReport{
		TotalCount:   len(chunks),
		CountsByType: make(map[types.EvidenceType]int),
		CountsByStrength: map[types.Strength]int{
			types.StrengthStrong:   0,
			types.StrengthModerate: 0,
			types.StrengthWeak:     0,
		},
		Issues:      []string{},
		Suggestions: []string{},
	}

	for _, c := range chunks {
		etype := c.EvidenceType
		if etype == "" {
			etype = types.EvidenceUnknown
		}
		report.CountsByType[etype]++

		strength := c.Strength
		if strength == "" {
			strength = types.StrengthUnknown
		}
		report.CountsByStrength[strength]++

		if strings.TrimSpace(c.Content) == "" {
			report.Issues = append(report.Issues, "Chunk missing content")
		}
		if c.Source == "" {
			report.Issues = append(report.Issues, "Chunk missing source attribution")
		}
		if c.ExtractionReasoning == "" {
			report.Issues = append(report.Issues, "Chunk missing extraction reasoning")
		}
		if !etype.Valid() {
			report.Issues = append(report.Issues, "Chunk has unrecognized evidence type")
		}
	}

	if len(report.CountsByType) == 1 {
		for only := range report.CountsByType {
			report.Suggestions = append(report.Suggestions, fmt.Sprintf(
				"All evidence is type '%s'. Consider gathering other evidence types for stronger validation.", only))
		}
	}
	if report.CountsByStrength[types.StrengthWeak] > report.CountsByStrength[types.StrengthStrong] {
		report.Suggestions = append(report.Suggestions,
			"More weak evidence than strong. Consider gathering more direct evidence.")
	}
	if report.TotalCount < cfg.SmallSampleThreshold {
		report.Suggestions = append(report.Suggestions,
			"Small evidence base. Conclusions may not be well-supported.")
	}
	return report
}

// FormatReport renders the report as markdown bullets for an assistant reply.
func FormatReport(r ValidationReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Validation:** %d chunks", r.TotalCount)

	keys := make([]string, 0, len(r.CountsByType))
	for t := range r.CountsByType {
		keys = append(keys, string(t))
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s: %d", k, r.CountsByType[types.EvidenceType(k)])
		}
		fmt.Fprintf(&sb, " (%s)", strings.Join(parts, ", "))
	}
	sb.WriteString("\n")
	for _, issue := range r.Issues {
		fmt.Fprintf(&sb, "- Issue: %s\n", issue)
	}
	for _, s := range r.Suggestions {
		fmt.Fprintf(&sb, "- Suggestion: %s\n", s)
	}
	return sb.String()
}
