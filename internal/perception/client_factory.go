package perception

import (
	"context"
	"fmt"

	"evidencelab/internal/config"
)

// NewProviderFromConfig creates the configured reasoning provider.
func NewProviderFromConfig(ctx context.Context, cfg *config.Config) (Provider, error) {
	llm := cfg.LLM
	timeout := cfg.GetLLMTimeout()

	switch ProviderKind(llm.Provider) {
	case ProviderGemini:
		gc := DefaultGeminiConfig(llm.APIKey)
		if llm.Model != "" {
			gc.Model = llm.Model
		}
		if llm.MaxOutputTokens > 0 {
			gc.MaxOutputTokens = llm.MaxOutputTokens
		}
		gc.Timeout = timeout
		return NewGeminiProvider(ctx, gc)

	case ProviderOpenAI:
		oc := DefaultOpenAIConfig(llm.APIKey)
		if llm.Model != "" {
			oc.Model = llm.Model
		}
		if llm.BaseURL != "" {
			oc.BaseURL = llm.BaseURL
		}
		if llm.MaxOutputTokens > 0 {
			oc.MaxOutputTokens = llm.MaxOutputTokens
		}
		oc.Timeout = timeout
		return NewOpenAIProvider(oc), nil

	case ProviderMock:
		if llm.MockScript == "" {
			return NewMockProvider(), nil
		}
		return LoadMockScript(llm.MockScript)

	default:
		return nil, fmt.Errorf("unknown provider: %s", llm.Provider)
	}
}
