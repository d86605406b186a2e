package perception

import "time"

const defaultSystemPrompt = "You are a careful product research analyst. Ground every claim in the supplied evidence and say plainly when the evidence is thin."

// ProviderKind names a supported reasoning backend.
type ProviderKind string

const (
	ProviderGemini ProviderKind = "gemini"
	ProviderOpenAI ProviderKind = "openai"
	ProviderMock   ProviderKind = "mock"
)

// GeminiConfig holds configuration for the Gemini provider.
type GeminiConfig struct {
	APIKey          string
	Model           string
	Timeout         time.Duration
	MaxOutputTokens int32
}

// OpenAIConfig holds configuration for an OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	Timeout         time.Duration
	MaxOutputTokens int32
}

// OpenAIMessage represents a chat message.
type OpenAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIResponseFormat asks for JSON-object output.
type OpenAIResponseFormat struct {
	Type string `json:"type"`
}

// OpenAIRequest represents the chat completions request.
type OpenAIRequest struct {
	Model          string                `json:"model"`
	Messages       []OpenAIMessage       `json:"messages"`
	MaxTokens      int32                 `json:"max_tokens,omitempty"`
	Temperature    float32               `json:"temperature"`
	ResponseFormat *OpenAIResponseFormat `json:"response_format,omitempty"`
}

// OpenAIResponse represents the chat completions response.
type OpenAIResponse struct {
	Choices []struct {
		Message OpenAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}
