package main

import (
	"context"
	"fmt"
	"strconv"

	"evidencelab/internal/store"
	"evidencelab/internal/types"

	"github.com/spf13/cobra"
)

// =============================================================================
// SESSION MANAGEMENT COMMANDS
// =============================================================================

var (
	sessionsStatus string
	sessionsLimit  int
	sessionsAll    bool

	newTitle       string
	newOpportunity string

	renameTitle       string
	renameOpportunity string
)

// sessionsCmd manages evidence sessions
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage evidence sessions",
	Long: `List and manage evidence sessions.

Subcommands:
  list     - List sessions, most recently updated first
  show     - Show one session's overview
  new      - Create a session
  archive  - Archive a session
  rename   - Change a session's title or opportunity statement`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session overview",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a new session",
	RunE:  runSessionsNew,
}

var sessionsArchiveCmd = &cobra.Command{
	Use:   "archive <session-id>",
	Short: "Archive a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsArchive,
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename <session-id>",
	Short: "Change a session's title or opportunity statement",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsRename,
}

func init() {
	for _, c := range []*cobra.Command{sessionsCmd, sessionsListCmd} {
		c.Flags().StringVar(&sessionsStatus, "status", "active", "Filter by status: active or archived")
		c.Flags().BoolVar(&sessionsAll, "all", false, "Include every status")
		c.Flags().IntVar(&sessionsLimit, "limit", 50, "Maximum sessions to list")
	}
	sessionsNewCmd.Flags().StringVar(&newTitle, "title", "", "Session title (default: dated)")
	sessionsNewCmd.Flags().StringVar(&newOpportunity, "opportunity", "", "Opportunity statement")
	sessionsRenameCmd.Flags().StringVar(&renameTitle, "title", "", "New title")
	sessionsRenameCmd.Flags().StringVar(&renameOpportunity, "opportunity", "", "New opportunity statement")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsNewCmd, sessionsArchiveCmd, sessionsRenameCmd)
}

// openStore opens the session database without a reasoning provider.
func openStore() (*store.LocalStore, error) {
	return store.NewLocalStore(cfg.Store.DatabasePath)
}

func parseSessionID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid session id %q", s)
	}
	return id, nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	status := types.SessionStatus(sessionsStatus)
	if sessionsAll {
		status = ""
	}
	sessions, err := st.ListSessions(context.Background(), status, sessionsLimit)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), formatSessionTable(sessions))
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	id, err := parseSessionID(args[0])
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	view, err := st.SessionView(context.Background(), id)
	if err != nil {
		return fmt.Errorf("session %d: %w", id, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatSessionCard(view))
	return nil
}

func runSessionsNew(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	sess, err := st.CreateSession(context.Background(), newTitle, newOpportunity)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), styles.Success.Render(fmt.Sprintf("Created session %d: %s", sess.ID, sess.Title)))
	return nil
}

func runSessionsArchive(cmd *cobra.Command, args []string) error {
	id, err := parseSessionID(args[0])
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.ArchiveSession(context.Background(), id); err != nil {
		return fmt.Errorf("session %d: %w", id, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), styles.Success.Render(fmt.Sprintf("Archived session %d", id)))
	return nil
}

func runSessionsRename(cmd *cobra.Command, args []string) error {
	id, err := parseSessionID(args[0])
	if err != nil {
		return err
	}
	var u store.SessionUpdate
	if cmd.Flags().Changed("title") {
		u.Title = &renameTitle
	}
	if cmd.Flags().Changed("opportunity") {
		u.OpportunityStatement = &renameOpportunity
	}
	if u.Title == nil && u.OpportunityStatement == nil {
		return fmt.Errorf("nothing to change: pass --title or --opportunity")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	sess, err := st.UpdateSession(context.Background(), id, u)
	if err != nil {
		return fmt.Errorf("session %d: %w", id, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), styles.Success.Render(fmt.Sprintf("Updated session %d: %s", sess.ID, sess.Title)))
	return nil
}
