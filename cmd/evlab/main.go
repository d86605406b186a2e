// Package main implements the evlab command line: an interactive evidence
// session plus one-shot commands for sessions, export, import and ingest.
package main

import (
	"fmt"
	"os"
	"time"

	"evidencelab/internal/config"
	"evidencelab/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	configPath string
	dbPath     string
	provider   string
	verbose    bool
	plain      bool
	timeout    time.Duration

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "evlab",
	Short: "evlab - conversational evidence sessions for product research",
	Long: `evlab turns raw research (interview notes, tickets, survey answers) into
attributed evidence, then tests hypotheses, finds patterns, assesses
confidence and drafts stakeholder summaries against that evidence.

Every conclusion carries its reasoning trace and the evidence it used.

Run without arguments to start the interactive chat.`,
	SilenceUsage: true,
	Annotations:  map[string]string{annotationReasoning: "true"},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.Store.DatabasePath = dbPath
		}
		if provider != "" {
			cfg.LLM.Provider = provider
		}
		if timeout > 0 {
			cfg.LLM.Timeout = timeout.String()
		}
		if verbose {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}
		check := *cfg
		if !needsReasoning(cmd) {
			check.LLM.Provider = "mock"
		}
		if err := check.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := logging.Initialize(cfg.Logging.Options()); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		// Structured CLI lines also land in the category log file.
		logger = zap.New(zapcore.NewTee(logger.Core(), logging.Zap().Core()))
		logging.Boot("evlab starting: provider=%s db=%s", cfg.LLM.Provider, cfg.Store.DatabasePath)
		logging.BootDebug("config=%s timeout=%v usage=%s", configPath, cfg.GetLLMTimeout(), cfg.Store.UsagePath)
		if needsReasoning(cmd) && cfg.LLM.Provider == "mock" {
			logging.BootWarn("mock provider selected: replies come from %q", cfg.LLM.MockScript)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "evlab.yaml", "Config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Session database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&provider, "provider", "", "Reasoning provider: gemini, openai or mock")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "Print raw markdown instead of rendering it")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Per-turn reasoning timeout (default from config)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(usageCmd)
}

// needsReasoning reports whether cmd calls the reasoning provider. Other
// commands run without credentials.
func needsReasoning(cmd *cobra.Command) bool {
	return cmd.Annotations[annotationReasoning] == "true"
}

const annotationReasoning = "reasoning"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.Error.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}
