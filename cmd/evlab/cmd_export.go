package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"evidencelab/internal/articulation"

	"github.com/spf13/cobra"
)

var (
	exportChunksOnly bool
	exportOut        string
	exportSummary    string

	importSessionID int64
	importNew       bool
)

// exportCmd writes a session out as JSON
var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session as JSON, or its last stakeholder summary",
	Long: `Writes the full session view (evidence, outputs, messages) as JSON.

  --chunks-only      write only the evidence chunk array
  --summary FORMAT   write the newest stakeholder summary as markdown or plain text`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

// importCmd bulk-adds exported evidence to a session
var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import evidence from a session export or chunk array",
	Long: `Reads either export shape and adds its evidence chunks to a session in one
transaction. Outputs and messages are not imported. Use "-" for stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	exportCmd.Flags().BoolVar(&exportChunksOnly, "chunks-only", false, "Export only the evidence chunks")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default: stdout)")
	exportCmd.Flags().StringVar(&exportSummary, "summary", "", "Export the last stakeholder summary: markdown or plain")

	importCmd.Flags().Int64Var(&importSessionID, "session", 0, "Target session ID")
	importCmd.Flags().BoolVar(&importNew, "new", false, "Import into a new session")
}

func runExport(cmd *cobra.Command, args []string) error {
	id, err := parseSessionID(args[0])
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openOffline(ctx, id)
	if err != nil {
		return err
	}
	defer a.Close()

	var data []byte
	switch {
	case exportSummary != "":
		format, err := articulation.ParseExportFormat(exportSummary)
		if err != nil {
			return err
		}
		text, err := a.engine.ExportSummary(ctx, format)
		if err != nil {
			return err
		}
		data = []byte(text + "\n")
	case exportChunksOnly:
		data, err = a.engine.ExportChunks(ctx, id)
	default:
		data, err = a.engine.ExportSession(ctx, id)
	}
	if err != nil {
		return err
	}

	if exportOut == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(exportOut, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", exportOut, err)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), styles.Success.Render(fmt.Sprintf("Exported session %d to %s", id, exportOut)))
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	var data []byte
	var err error
	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read import: %w", err)
	}

	ctx := context.Background()
	a, err := openOffline(ctx, importSessionID)
	if err != nil {
		return err
	}
	defer a.Close()

	if importNew {
		if _, err := a.engine.Reset(ctx, "", ""); err != nil {
			return err
		}
	}
	chunks, err := a.engine.Import(ctx, data)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), styles.Success.Render(
		fmt.Sprintf("Imported %d evidence chunks into session %d", len(chunks), a.engine.Current())))
	return nil
}
