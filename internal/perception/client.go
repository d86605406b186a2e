// Package perception is the boundary to the external reasoning provider.
// It holds the provider clients, the Gateway that logs and normalizes every
// call, the structured-payload recovery parser and the IntentRouter.
package perception

import "context"

// Provider is the black-box reasoning capability: given system
// instructions, a prompt and a structured flag, return text and usage.
type Provider interface {
	Generate(ctx context.Context, req ProviderRequest) (ProviderResponse, error)
	// Name identifies the provider and model in logs and usage records.
	Name() string
}

// ProviderRequest is one call to the reasoning provider.
type ProviderRequest struct {
	System      string
	Prompt      string
	Structured  bool // ask the provider to force JSON output
	Temperature float32
}

// ProviderResponse is the raw provider reply.
type ProviderResponse struct {
	Text  string
	Usage Usage
}

// Usage counts provider units for one call.
type Usage struct {
	PromptUnits     int `json:"prompt_units"`
	CompletionUnits int `json:"completion_units"`
	TotalUnits      int `json:"total_units"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.PromptUnits += other.PromptUnits
	u.CompletionUnits += other.CompletionUnits
	u.TotalUnits += other.TotalUnits
}
