package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"evidencelab/internal/articulation"
	"evidencelab/internal/extraction"
	"evidencelab/internal/session"
	"evidencelab/internal/types"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// CHAT COMMAND
// =============================================================================

var (
	chatSessionID int64
	chatNew       bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive evidence session",
	Long: `Starts the interactive chat against the most recent active session
(or --session N, or a fresh one with --new).

Paste research straight into the input and press Enter: the whole paste is
one turn. Alt+Enter starts a new line. Type /help for the slash commands.`,
	Annotations: map[string]string{annotationReasoning: "true"},
	RunE:        runChat,
}

func init() {
	for _, c := range []*cobra.Command{rootCmd, chatCmd} {
		c.Flags().Int64Var(&chatSessionID, "session", 0, "Session ID to resume")
		c.Flags().BoolVar(&chatNew, "new", false, "Start a new session")
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx, cfg, 0)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := selectChatSession(ctx, a); err != nil {
		return err
	}

	p := tea.NewProgram(newChatModel(ctx, a),
		tea.WithContext(ctx),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil && !(errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil) {
		return fmt.Errorf("chat ended: %w", err)
	}
	return nil
}

// selectChatSession resumes the requested or latest active session. A new
// session is created lazily by the first turn otherwise.
func selectChatSession(ctx context.Context, a *app) error {
	switch {
	case chatNew:
		_, err := a.engine.Reset(ctx, "", "")
		return err
	case chatSessionID != 0:
		_, err := a.engine.Use(ctx, chatSessionID)
		return err
	}
	recent, err := a.store.ListSessions(ctx, types.SessionActive, 1)
	if err != nil {
		return err
	}
	if len(recent) > 0 {
		_, err = a.engine.Use(ctx, recent[0].ID)
	}
	return err
}

// runTurn executes one bounded turn and renders it.
func runTurn(ctx context.Context, a *app, fn func(context.Context) (*session.TurnResult, error)) (string, error) {
	tctx, cancel := a.turnContext(ctx)
	defer cancel()

	res, err := fn(tctx)
	if err != nil {
		return "", err
	}
	if res.Failed() && logger != nil {
		logger.Warn("turn failed",
			zap.Int64("session", res.SessionID),
			zap.String("category", res.Failure.Category.String()),
			zap.Error(res.Failure.Original))
	}
	return formatTurn(res), nil
}

// turnCmd runs a turn off the UI goroutine and reports it as a replyMsg.
func turnCmd(ctx context.Context, a *app, fn func(context.Context) (*session.TurnResult, error)) tea.Cmd {
	return func() tea.Msg {
		text, err := runTurn(ctx, a, fn)
		return replyMsg{text: text, err: err}
	}
}

// localCmd runs a command that never reasons.
func localCmd(fn func() (string, error)) tea.Cmd {
	return func() tea.Msg {
		text, err := fn()
		return replyMsg{text: text, err: err}
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

const chatHelp = `**Commands**

Paste research straight into the input and press Enter. Alt+Enter adds a line.

- ` + "`/challenge <text>`" + ` - push back on the last hypothesis verdict
- ` + "`/refine <feedback>`" + ` - redo the last extraction with feedback
- ` + "`/clusters`" + ` - group evidence into themes
- ` + "`/gaps [decisions]`" + ` - list missing research
- ` + "`/guide <recommendation> | objection; objection`" + ` - prepare for objections
- ` + "`/export [markdown|plain]`" + ` - print the last stakeholder summary
- ` + "`/validate`" + ` - evidence quality report
- ` + "`/session`" + `, ` + "`/use <id>`" + `, ` + "`/reset [title]`" + ` - session management
- ` + "`/calls`" + `, ` + "`/usage`" + ` - reasoning calls and token usage
- ` + "`/quit`" + `
`

// splitCommand splits "/name rest of line" into ("name", "rest of line").
// The rest keeps its inner line breaks.
func splitCommand(line string) (string, string) {
	line = strings.TrimPrefix(strings.TrimSpace(line), "/")
	name, rest, _ := strings.Cut(line, " ")
	if n, r, ok := strings.Cut(name, "\n"); ok {
		name, rest = n, r+" "+rest
	}
	return strings.ToLower(name), strings.TrimSpace(rest)
}

// parseGuideArgs splits "recommendation | objection; objection".
func parseGuideArgs(arg string) (string, []string) {
	rec, objs, _ := strings.Cut(arg, "|")
	var objections []string
	for _, o := range strings.Split(objs, ";") {
		if o = strings.TrimSpace(o); o != "" {
			objections = append(objections, o)
		}
	}
	return strings.TrimSpace(rec), objections
}

// errUsage is a command misuse reported without touching the session.
type errUsage string

func (e errUsage) Error() string { return "usage: " + string(e) }

// dispatchCommand maps a slash command to the command that runs it. quit is
// set for /quit.
func dispatchCommand(ctx context.Context, a *app, line string) (cmd tea.Cmd, quit bool) {
	name, arg := splitCommand(line)
	turn := func(fn func(context.Context) (*session.TurnResult, error)) tea.Cmd {
		return turnCmd(ctx, a, fn)
	}
	fail := func(err error) tea.Cmd {
		return func() tea.Msg { return replyMsg{err: err} }
	}

	switch name {
	case "quit", "exit", "q":
		return nil, true

	case "help", "?":
		return localCmd(func() (string, error) { return renderMarkdown(chatHelp), nil }), false

	case "challenge":
		if arg == "" {
			return fail(errUsage("/challenge <what the analysis missed>")), false
		}
		return turn(func(ctx context.Context) (*session.TurnResult, error) {
			return a.engine.Challenge(ctx, arg)
		}), false

	case "refine":
		if arg == "" {
			return fail(errUsage("/refine <feedback on the extraction>")), false
		}
		return turn(func(ctx context.Context) (*session.TurnResult, error) {
			return a.engine.Refine(ctx, arg)
		}), false

	case "clusters":
		return turn(a.engine.Cluster), false

	case "gaps":
		return turn(func(ctx context.Context) (*session.TurnResult, error) {
			return a.engine.ResearchGaps(ctx, arg)
		}), false

	case "guide":
		rec, objections := parseGuideArgs(arg)
		if rec == "" {
			return fail(errUsage("/guide <recommendation> | objection; objection")), false
		}
		return turn(func(ctx context.Context) (*session.TurnResult, error) {
			return a.engine.PersuasionGuide(ctx, rec, objections)
		}), false

	case "export":
		return localCmd(func() (string, error) {
			format, err := articulation.ParseExportFormat(arg)
			if err != nil {
				return "", err
			}
			return a.engine.ExportSummary(ctx, format)
		}), false

	case "validate":
		return localCmd(func() (string, error) {
			report, err := validateSession(ctx, a)
			if err != nil {
				return "", err
			}
			return renderMarkdown(report), nil
		}), false

	case "calls":
		return localCmd(func() (string, error) {
			return renderMarkdown(a.engine.Gateway().ReasoningSummary()), nil
		}), false

	case "usage":
		return localCmd(func() (string, error) { return formatUsage(a, a.engine.Current()), nil }), false

	case "session":
		return localCmd(func() (string, error) {
			id, err := a.engine.EnsureSession(ctx)
			if err != nil {
				return "", err
			}
			view, err := a.store.SessionView(ctx, id)
			if err != nil {
				return "", err
			}
			return formatSessionCard(view), nil
		}), false

	case "use":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fail(errUsage("/use <session id>")), false
		}
		return localCmd(func() (string, error) {
			sess, err := a.engine.Use(ctx, id)
			if err != nil {
				return "", err
			}
			return styles.Success.Render(fmt.Sprintf("Now in session %d: %s", sess.ID, sess.Title)), nil
		}), false

	case "reset":
		return localCmd(func() (string, error) {
			sess, err := a.engine.Reset(ctx, arg, "")
			if err != nil {
				return "", err
			}
			return styles.Success.Render(fmt.Sprintf("Started session %d: %s", sess.ID, sess.Title)), nil
		}), false

	default:
		return fail(fmt.Errorf("unknown command /%s (try /help)", name)), false
	}
}

// validateSession runs the evidence quality checks over the current session.
func validateSession(ctx context.Context, a *app) (string, error) {
	id, err := a.engine.EnsureSession(ctx)
	if err != nil {
		return "", err
	}
	chunks, err := a.store.GetEvidenceChunks(ctx, id)
	if err != nil {
		return "", err
	}
	inputs := make([]types.ChunkInput, len(chunks))
	for i, c := range chunks {
		inputs[i] = c.Input()
	}
	return extraction.FormatReport(extraction.ValidateChunks(inputs, a.cfg.Validation)), nil
}
