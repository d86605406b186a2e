package main

import (
	"fmt"
	"strings"

	"evidencelab/internal/session"
	"evidencelab/internal/types"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	colorPrimary = lipgloss.Color("#8BC34A")
	colorInfo    = lipgloss.Color("#2196F3")
	colorWarning = lipgloss.Color("#FFC107")
	colorDanger  = lipgloss.Color("#e53935")
	colorMuted   = lipgloss.Color("#7a8699")
)

// styles holds the terminal styles shared by every command.
var styles = struct {
	Title   lipgloss.Style
	Header  lipgloss.Style
	Muted   lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Success lipgloss.Style
	Prompt  lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(colorPrimary),
	Header:  lipgloss.NewStyle().Bold(true).Foreground(colorInfo),
	Muted:   lipgloss.NewStyle().Foreground(colorMuted),
	Error:   lipgloss.NewStyle().Bold(true).Foreground(colorDanger),
	Warning: lipgloss.NewStyle().Foreground(colorWarning),
	Success: lipgloss.NewStyle().Foreground(colorPrimary),
	Prompt:  lipgloss.NewStyle().Bold(true).Foreground(colorPrimary),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorMuted).
		Padding(0, 1),
}

var renderer *glamour.TermRenderer

// renderMarkdown renders md for the terminal, falling back to the raw text.
func renderMarkdown(md string) string {
	if plain {
		return md
	}
	if renderer == nil {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
		if err != nil {
			return md
		}
		renderer = r
	}
	out, err := renderer.Render(md)
	if err != nil {
		return md
	}
	return out
}

// formatTurn renders a turn reply with a one-line routing header.
func formatTurn(res *session.TurnResult) string {
	var sb strings.Builder
	c := res.Classification
	header := fmt.Sprintf("session %d · %s", res.SessionID, c.Intent)
	if c.Fallback {
		header += " (heuristic)"
	}
	sb.WriteString(styles.Muted.Render(header))
	sb.WriteString("\n")
	if res.Failed() {
		sb.WriteString(styles.Error.Render(res.Failure.Summary))
		sb.WriteString("\n")
	}
	sb.WriteString(renderMarkdown(res.Reply))
	if res.Output != nil {
		sb.WriteString(styles.Success.Render(fmt.Sprintf("saved %s #%d", res.Output.OutputType, res.Output.ID)))
		sb.WriteString("\n")
	}
	return sb.String()
}

// formatSessionTable renders sessions as an aligned table.
func formatSessionTable(sessions []types.Session) string {
	if len(sessions) == 0 {
		return styles.Muted.Render("No sessions found.") + "\n"
	}
	rows := [][]string{{"ID", "STATUS", "UPDATED", "TITLE"}}
	for _, s := range sessions {
		rows = append(rows, []string{
			fmt.Sprintf("%d", s.ID),
			string(s.Status),
			s.UpdatedAt.Local().Format("2006-01-02 15:04"),
			s.Title,
		})
	}
	widths := make([]int, len(rows[0]))
	for _, r := range rows {
		for i, cell := range r {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var sb strings.Builder
	for i, r := range rows {
		cells := make([]string, len(r))
		for j, cell := range r {
			cells[j] = cell + strings.Repeat(" ", widths[j]-lipgloss.Width(cell))
		}
		line := strings.TrimRight(strings.Join(cells, "  "), " ")
		if i == 0 {
			line = styles.Header.Render(line)
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

// formatSessionCard is the short session overview shown by /session and
// sessions show.
func formatSessionCard(v *types.SessionView) string {
	var sb strings.Builder
	sb.WriteString(styles.Title.Render(v.Title))
	sb.WriteString("\n")
	if v.OpportunityStatement != "" {
		fmt.Fprintf(&sb, "Opportunity: %s\n", v.OpportunityStatement)
	}
	fmt.Fprintf(&sb, "ID %d · %s · updated %s\n", v.ID, v.Status, v.UpdatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Fprintf(&sb, "%d evidence chunks · %d outputs · %d messages",
		len(v.EvidenceChunks), len(v.Outputs), len(v.Messages))

	if len(v.Outputs) > 0 {
		sb.WriteString("\n\nOutputs:")
		for _, o := range v.Outputs {
			fmt.Fprintf(&sb, "\n  #%d %s  %s", o.ID, o.OutputType, o.Title)
		}
	}
	return styles.Box.Render(sb.String())
}
