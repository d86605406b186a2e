package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var validateSessionID int64

// validateCmd reports evidence quality for a session
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Report evidence quality for a session",
	Long: `Counts a session's evidence by type and strength and flags thin or
one-sided evidence bases. Advisory only; nothing is changed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if validateSessionID == 0 {
			return fmt.Errorf("--session is required")
		}
		ctx := context.Background()
		a, err := openOffline(ctx, validateSessionID)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := validateSession(ctx, a)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderMarkdown(report))
		return nil
	},
}

var usageSessionID int64

// usageCmd shows token usage from the usage ledger
var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show reasoning token usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openOffline(context.Background(), 0)
		if err != nil {
			return err
		}
		defer a.Close()
		fmt.Fprintln(cmd.OutOrStdout(), formatUsage(a, usageSessionID))
		return nil
	},
}

func init() {
	validateCmd.Flags().Int64Var(&validateSessionID, "session", 0, "Session ID")
	usageCmd.Flags().Int64Var(&usageSessionID, "session", 0, "Also show one session's usage")
}

// formatUsage renders ledger totals, per-action usage and, when sessionID
// is set, that session's share.
func formatUsage(a *app, sessionID int64) string {
	stats := a.tracker.Stats()

	var sb strings.Builder
	sb.WriteString(styles.Title.Render("Token usage"))
	fmt.Fprintf(&sb, "\n%d calls · %d in · %d out · %d total\n",
		stats.Calls, stats.Total.Input, stats.Total.Output, stats.Total.Total)

	if len(stats.ByOperation) > 0 {
		sb.WriteString(styles.Header.Render("By action"))
		sb.WriteString("\n")
		ops := make([]string, 0, len(stats.ByOperation))
		for op := range stats.ByOperation {
			ops = append(ops, op)
		}
		sort.Strings(ops)
		for _, op := range ops {
			tc := stats.ByOperation[op]
			fmt.Fprintf(&sb, "  %-24s %6d calls %10d tokens\n", op, tc.Calls, tc.Total)
		}
	}
	if len(stats.ByProvider) > 0 {
		sb.WriteString(styles.Header.Render("By provider"))
		sb.WriteString("\n")
		for name, tc := range stats.ByProvider {
			fmt.Fprintf(&sb, "  %-24s %6d calls %10d tokens\n", name, tc.Calls, tc.Total)
		}
	}
	if sessionID != 0 {
		tc := a.tracker.SessionStats(sessionID)
		fmt.Fprintf(&sb, "%s %d calls · %d tokens\n",
			styles.Header.Render("Session "+strconv.FormatInt(sessionID, 10)+":"), tc.Calls, tc.Total)
	}
	return strings.TrimRight(sb.String(), "\n")
}
