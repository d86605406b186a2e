package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"evidencelab/internal/logging"
)

// OpenAIProvider implements Provider for any OpenAI-compatible chat API.
type OpenAIProvider struct {
	apiKey          string
	baseURL         string
	model           string
	maxOutputTokens int32
	httpClient      *http.Client
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:          apiKey,
		BaseURL:         "https://api.openai.com/v1",
		Model:           "gpt-4o-mini",
		Timeout:         120 * time.Second,
		MaxOutputTokens: 4096,
	}
}

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(config OpenAIConfig) *OpenAIProvider {
	def := DefaultOpenAIConfig(config.APIKey)
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	return &OpenAIProvider{
		apiKey:          config.APIKey,
		baseURL:         strings.TrimRight(config.BaseURL, "/"),
		model:           config.Model,
		maxOutputTokens: config.MaxOutputTokens,
		httpClient:      &http.Client{Timeout: config.Timeout},
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai/" + p.model }

// Generate implements Provider. It makes exactly one HTTP attempt.
func (p *OpenAIProvider) Generate(ctx context.Context, req ProviderRequest) (ProviderResponse, error) {
	if p.apiKey == "" {
		logging.PerceptionError("[OpenAI] Generate: API key not configured")
		return ProviderResponse{}, fmt.Errorf("API key not configured")
	}

	system := req.System
	if strings.TrimSpace(system) == "" {
		system = defaultSystemPrompt
	}

	reqBody := OpenAIRequest{
		Model: p.model,
		Messages: []OpenAIMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens:   p.maxOutputTokens,
		Temperature: req.Temperature,
	}
	if req.Structured {
		reqBody.ResponseFormat = &OpenAIResponseFormat{Type: "json_object"}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	logging.PerceptionDebug("[OpenAI] Generate: model=%s prompt_len=%d structured=%v", p.model, len(req.Prompt), req.Structured)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return ProviderResponse{}, fmt.Errorf("rate limit exceeded (429): %s", string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return ProviderResponse{}, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var openaiResp OpenAIResponse
	if err := json.Unmarshal(body, &openaiResp); err != nil {
		return ProviderResponse{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if openaiResp.Error != nil {
		return ProviderResponse{}, fmt.Errorf("API error: %s", openaiResp.Error.Message)
	}
	if len(openaiResp.Choices) == 0 {
		logging.PerceptionError("[OpenAI] Generate: no completion returned")
		return ProviderResponse{}, fmt.Errorf("no completion returned")
	}

	text := strings.TrimSpace(openaiResp.Choices[0].Message.Content)
	logging.Perception("[OpenAI] Generate: completed in %v response_len=%d", time.Since(start), len(text))

	return ProviderResponse{
		Text: text,
		Usage: Usage{
			PromptUnits:     openaiResp.Usage.PromptTokens,
			CompletionUnits: openaiResp.Usage.CompletionTokens,
			TotalUnits:      openaiResp.Usage.TotalTokens,
		},
	}, nil
}
