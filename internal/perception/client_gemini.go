package perception

import (
	"context"
	"fmt"
	"strings"
	"time"

	"evidencelab/internal/logging"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider on the Google GenAI SDK.
type GeminiProvider struct {
	client          *genai.Client
	model           string
	timeout         time.Duration
	maxOutputTokens int32
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:          apiKey,
		Model:           "gemini-2.0-flash",
		Timeout:         120 * time.Second,
		MaxOutputTokens: 8192,
	}
}

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(ctx context.Context, config GeminiConfig) (*GeminiProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if config.Model == "" {
		config.Model = DefaultGeminiConfig("").Model
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiProvider{
		client:          client,
		model:           config.Model,
		timeout:         config.Timeout,
		maxOutputTokens: config.MaxOutputTokens,
	}, nil
}

// Name implements Provider.
func (p *GeminiProvider) Name() string { return "gemini/" + p.model }

// Generate implements Provider.
func (p *GeminiProvider) Generate(ctx context.Context, req ProviderRequest) (ProviderResponse, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	system := req.System
	if strings.TrimSpace(system) == "" {
		system = defaultSystemPrompt
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(req.Temperature),
		TopP:              genai.Ptr[float32](0.95),
		MaxOutputTokens:   p.maxOutputTokens,
	}
	if req.Structured {
		cfg.ResponseMIMEType = "application/json"
	}

	start := time.Now()
	logging.PerceptionDebug("[Gemini] Generate: model=%s system_len=%d prompt_len=%d structured=%v",
		p.model, len(system), len(req.Prompt), req.Structured)

	res, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(req.Prompt), cfg)
	if err != nil {
		logging.PerceptionError("[Gemini] Generate failed after %v: %v", time.Since(start), err)
		return ProviderResponse{}, fmt.Errorf("gemini generate: %w", err)
	}

	text := strings.TrimSpace(res.Text())
	if text == "" {
		return ProviderResponse{}, fmt.Errorf("gemini returned no text")
	}

	var usage Usage
	if md := res.UsageMetadata; md != nil {
		usage = Usage{
			PromptUnits:     int(md.PromptTokenCount),
			CompletionUnits: int(md.CandidatesTokenCount),
			TotalUnits:      int(md.TotalTokenCount),
		}
	}

	logging.Perception("[Gemini] Generate: completed in %v response_len=%d tokens=%d", time.Since(start), len(text), usage.TotalUnits)
	return ProviderResponse{Text: text, Usage: usage}, nil
}
