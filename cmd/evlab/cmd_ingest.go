package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"evidencelab/internal/ingest"
	"evidencelab/internal/session"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	ingestSessionID int64
	ingestWatch     bool
	ingestDir       string
)

// ingestCmd turns research files into extraction turns
var ingestCmd = &cobra.Command{
	Use:   "ingest [files or directories...]",
	Short: "Extract evidence from research files",
	Long: `Reads .txt, .md, .csv and .html files and runs one extraction turn per file.
Directories contribute their top-level files with a configured extension.

With --watch, keeps running and ingests every file dropped into the inbox
directory (--dir, default from config).`,
	Annotations: map[string]string{annotationReasoning: "true"},
	RunE:        runIngest,
}

func init() {
	ingestCmd.Flags().Int64Var(&ingestSessionID, "session", 0, "Target session ID (default: a new session)")
	ingestCmd.Flags().BoolVar(&ingestWatch, "watch", false, "Watch the inbox directory for new files")
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "Inbox directory for --watch")
}

func runIngest(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !ingestWatch {
		return fmt.Errorf("nothing to ingest: pass files or --watch")
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx, cfg, ingestSessionID)
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	handle := func(ctx context.Context, doc ingest.Document) error {
		text, err := runTurn(ctx, a, func(ctx context.Context) (*session.TurnResult, error) {
			return a.engine.IngestText(ctx, doc.Name, doc.Text)
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(out, text)
		return nil
	}

	if len(args) > 0 {
		paths, err := ingest.Expand(args, a.cfg.Ingest.Extensions)
		if err != nil {
			return err
		}
		docs, err := ingest.ReadAll(ctx, paths, ingest.DefaultParallelism)
		if err != nil {
			return err
		}
		// Turns on one session run in order.
		for _, doc := range docs {
			if doc.Text == "" {
				fmt.Fprintln(out, styles.Warning.Render("skipping empty file "+doc.Name))
				continue
			}
			fmt.Fprintln(out, styles.Header.Render("▸ "+doc.Name))
			if err := handle(ctx, doc); err != nil {
				return err
			}
		}
	}
	if !ingestWatch {
		return nil
	}

	dir := ingestDir
	if dir == "" {
		dir = a.cfg.Ingest.InboxDir
	}
	w, err := ingest.NewWatcher(dir, a.cfg.Ingest.Extensions, a.cfg.GetIngestDebounce(), func(ctx context.Context, doc ingest.Document) error {
		fmt.Fprintln(out, styles.Header.Render("▸ "+doc.Name))
		return handle(ctx, doc)
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return err
	}
	fmt.Fprintln(out, styles.Muted.Render(fmt.Sprintf("Watching %s (Ctrl+C to stop)", dir)))

	<-ctx.Done()
	w.Stop()
	stats := w.Stats()
	if logger != nil {
		logger.Info("inbox watcher finished",
			zap.Int("ingested", stats.FilesIngested),
			zap.Int("errors", stats.Errors))
	}
	fmt.Fprintln(out, styles.Muted.Render(fmt.Sprintf("Ingested %d files, %d errors", stats.FilesIngested, stats.Errors)))
	return nil
}
