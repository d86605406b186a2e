// Package logging provides config-driven categorized logging for evidencelab.
// Entries are written through zap to a dated file under the configured logs directory.
// When debug mode is off every category logger is a no-op.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot         Category = "boot"         // Startup and config
	CategorySession      Category = "session"      // Turn handling
	CategoryAPI          Category = "api"          // Reasoning provider calls
	CategoryPerception   Category = "perception"   // Gateway and JSON recovery
	CategoryRouting      Category = "routing"      // Intent classification
	CategoryExtraction   Category = "extraction"   // Evidence extraction and validation
	CategoryAnalysis     Category = "analysis"     // Hypothesis, patterns, confidence
	CategoryArticulation Category = "articulation" // Stakeholder summaries, counter-evidence
	CategoryStore        Category = "store"        // SQLite persistence
	CategoryIngest       Category = "ingest"       // File ingest and inbox watcher
	CategoryUsage        Category = "usage"        // Token accounting
)

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	DebugMode  bool
	Level      string
	JSONFormat bool
	Dir        string
	Categories map[string]bool
}

// Logger is a category-scoped sugared zap logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	opts    Options
	loggers = make(map[Category]*Logger)
	logFile *os.File
)

// Initialize configures the global zap core. Safe to call more than once;
// the previous log file is closed.
func Initialize(o Options) error {
	CloseAll()

	if !o.DebugMode {
		setCore(zapcore.NewNopCore(), o)
		return nil
	}
	if o.Dir == "" {
		return fmt.Errorf("logs directory required when debug mode is enabled")
	}
	if err := os.MkdirAll(o.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	filename := fmt.Sprintf("%s_evlab.log", time.Now().Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(o.Dir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if o.JSONFormat {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(f), parseLevel(o.Level))

	mu.Lock()
	logFile = f
	mu.Unlock()
	setCore(core, o)

	boot := Get(CategoryBoot)
	boot.Info("=== evidencelab logging initialized ===")
	boot.Info("Logs directory: %s", o.Dir)
	boot.Info("Log level: %s", o.Level)
	return nil
}

// setCore swaps the root logger. Tests use it to install an observer core.
func setCore(core zapcore.Core, o Options) {
	mu.Lock()
	defer mu.Unlock()
	root = zap.New(core)
	opts = o
	loggers = make(map[Category]*Logger)
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Zap returns the root zap logger for structured fields.
func Zap() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// IsDebugMode returns whether logging is enabled
func IsDebugMode() bool {
	mu.RLock()
	defer mu.RUnlock()
	return opts.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled.
// Categories absent from the filter are enabled.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if opts.Categories == nil {
		return true
	}
	enabled, ok := opts.Categories[string(category)]
	return !ok || enabled
}

// Get returns (or creates) a logger for the given category.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{
		category: category,
		sugar:    root.Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// With returns a child logger carrying key/value pairs on every entry.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// CloseAll flushes and closes the log file.
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	_ = root.Sync()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// =============================================================================
// CONVENIENCE FUNCTIONS
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootWarn(format string, args ...interface{})  { Get(CategoryBoot).Warn(format, args...) }

func Session(format string, args ...interface{})      { Get(CategorySession).Info(format, args...) }
func SessionDebug(format string, args ...interface{}) { Get(CategorySession).Debug(format, args...) }
func SessionWarn(format string, args ...interface{})  { Get(CategorySession).Warn(format, args...) }
func SessionError(format string, args ...interface{}) { Get(CategorySession).Error(format, args...) }

func API(format string, args ...interface{})      { Get(CategoryAPI).Info(format, args...) }
func APIDebug(format string, args ...interface{}) { Get(CategoryAPI).Debug(format, args...) }
func APIError(format string, args ...interface{}) { Get(CategoryAPI).Error(format, args...) }

func Perception(format string, args ...interface{})      { Get(CategoryPerception).Info(format, args...) }
func PerceptionDebug(format string, args ...interface{}) { Get(CategoryPerception).Debug(format, args...) }
func PerceptionWarn(format string, args ...interface{})  { Get(CategoryPerception).Warn(format, args...) }
func PerceptionError(format string, args ...interface{}) { Get(CategoryPerception).Error(format, args...) }

func Routing(format string, args ...interface{})      { Get(CategoryRouting).Info(format, args...) }
func RoutingDebug(format string, args ...interface{}) { Get(CategoryRouting).Debug(format, args...) }
func RoutingWarn(format string, args ...interface{})  { Get(CategoryRouting).Warn(format, args...) }

func Extraction(format string, args ...interface{})      { Get(CategoryExtraction).Info(format, args...) }
func ExtractionDebug(format string, args ...interface{}) { Get(CategoryExtraction).Debug(format, args...) }
func ExtractionWarn(format string, args ...interface{})  { Get(CategoryExtraction).Warn(format, args...) }

func Analysis(format string, args ...interface{})      { Get(CategoryAnalysis).Info(format, args...) }
func AnalysisDebug(format string, args ...interface{}) { Get(CategoryAnalysis).Debug(format, args...) }
func AnalysisWarn(format string, args ...interface{})  { Get(CategoryAnalysis).Warn(format, args...) }

func Articulation(format string, args ...interface{})      { Get(CategoryArticulation).Info(format, args...) }
func ArticulationDebug(format string, args ...interface{}) { Get(CategoryArticulation).Debug(format, args...) }
func ArticulationWarn(format string, args ...interface{})  { Get(CategoryArticulation).Warn(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

func Ingest(format string, args ...interface{})      { Get(CategoryIngest).Info(format, args...) }
func IngestDebug(format string, args ...interface{}) { Get(CategoryIngest).Debug(format, args...) }
func IngestWarn(format string, args ...interface{})  { Get(CategoryIngest).Warn(format, args...) }

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
