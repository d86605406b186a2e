package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"evidencelab/internal/session"

	"github.com/spf13/cobra"
)

var (
	askSessionID int64
	askJSON      bool
	askStdin     bool
)

// askCmd runs a single turn
var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Run a single turn against a session",
	Long: `Classifies and routes one message, exactly like a chat turn.

Examples:
  evlab ask --session 3 "Test my hypothesis that fees drive abandonment"
  cat interview.txt | evlab ask --stdin`,
	Annotations: map[string]string{annotationReasoning: "true"},
	RunE:        runAsk,
}

func init() {
	askCmd.Flags().Int64Var(&askSessionID, "session", 0, "Session ID (default: a new session)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the full turn result as JSON")
	askCmd.Flags().BoolVar(&askStdin, "stdin", false, "Read the message from standard input")
}

func runAsk(cmd *cobra.Command, args []string) error {
	message := strings.TrimSpace(strings.Join(args, " "))
	if askStdin {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		message = strings.TrimSpace(string(data))
	}
	if message == "" {
		return fmt.Errorf("nothing to ask")
	}

	ctx := context.Background()
	a, err := openApp(ctx, cfg, askSessionID)
	if err != nil {
		return err
	}
	defer a.Close()

	tctx, cancel := a.turnContext(ctx)
	defer cancel()
	res, err := a.engine.HandleTurn(tctx, message)
	if err != nil {
		return err
	}
	return printTurn(cmd.OutOrStdout(), res, askJSON)
}

func printTurn(out io.Writer, res *session.TurnResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, formatTurn(res))
	}
	if res.Failed() {
		// Non-zero exit for scripts; the reply is already persisted.
		fmt.Fprintln(os.Stderr, res.Failure.Format())
		return fmt.Errorf("turn failed: %s", res.Failure.Category)
	}
	return nil
}
