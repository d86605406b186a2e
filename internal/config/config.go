package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all evidencelab configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Reasoning provider
	LLM LLMConfig `yaml:"llm"`

	// Session persistence
	Store StoreConfig `yaml:"store"`

	// Tunable heuristics
	Routing    RoutingConfig    `yaml:"routing"`
	Validation ValidationConfig `yaml:"validation"`
	Confidence ConfidenceConfig `yaml:"confidence"`

	Ingest  IngestConfig  `yaml:"ingest"`
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig locates the SQLite database and the usage ledger.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
	UsagePath    string `yaml:"usage_path"`
}

// IngestConfig configures file ingest and the inbox watcher.
type IngestConfig struct {
	InboxDir   string   `yaml:"inbox_dir"`
	Extensions []string `yaml:"extensions"`
	Debounce   string   `yaml:"debounce"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "evidencelab",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider:        "gemini",
			Model:           "gemini-2.0-flash",
			Timeout:         "120s",
			Temperature:     0.3,
			MaxOutputTokens: 8192,
		},

		Store: StoreConfig{
			DatabasePath: "data/evidence.db",
			UsagePath:    "data/usage.json",
		},

		Routing:    DefaultRoutingConfig(),
		Validation: DefaultValidationConfig(),
		Confidence: DefaultConfidenceConfig(),

		Ingest: IngestConfig{
			InboxDir:   "inbox",
			Extensions: []string{".txt", ".md", ".csv", ".html", ".htm"},
			Debounce:   "500ms",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Dir:    "data/logs",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Later keys win, matching the documented priority
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}

	if p := os.Getenv("EVLAB_PROVIDER"); p != "" {
		c.LLM.Provider = p
	}
	if m := os.Getenv("EVLAB_MODEL"); m != "" {
		c.LLM.Model = m
	}
	if path := os.Getenv("EVLAB_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if lvl := os.Getenv("EVLAB_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
		c.Logging.DebugMode = true
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetIngestDebounce returns the watcher debounce window.
func (c *Config) GetIngestDebounce() time.Duration {
	d, err := time.ParseDuration(c.Ingest.Debounce)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// ValidProviders lists all supported reasoning providers.
var ValidProviders = []string{"gemini", "openai", "mock"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}

	if c.LLM.Provider != "mock" && c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY, GOOGLE_API_KEY, or OPENAI_API_KEY)")
	}

	if c.Store.DatabasePath == "" {
		return fmt.Errorf("store.database_path must not be empty")
	}

	return c.Confidence.validate()
}
