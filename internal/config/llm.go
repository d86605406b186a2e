package config

// LLMConfig configures the reasoning provider.
type LLMConfig struct {
	Provider        string  `yaml:"provider"` // gemini, openai, mock
	APIKey          string  `yaml:"api_key"`
	Model           string  `yaml:"model"`
	BaseURL         string  `yaml:"base_url"` // openai-compatible endpoints only
	Timeout         string  `yaml:"timeout"`
	Temperature     float32 `yaml:"temperature"` // default for analytical calls
	MaxOutputTokens int32   `yaml:"max_output_tokens"`
	MockScript      string  `yaml:"mock_script"` // replies replayed by the mock provider
}
