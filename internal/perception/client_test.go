package perception

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"evidencelab/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProviderGenerate(t *testing.T) {
	var got OpenAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "  {\"ok\": true}  "}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/", Model: "gpt-test"})
	resp, err := p.Generate(context.Background(), ProviderRequest{
		System:      "sys",
		Prompt:      "hello",
		Structured:  true,
		Temperature: 0.2,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"ok": true}`, resp.Text)
	assert.Equal(t, Usage{PromptUnits: 12, CompletionUnits: 4, TotalUnits: 16}, resp.Usage)
	assert.Equal(t, "gpt-test", got.Model)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "sys", got.Messages[0].Content)
	assert.Equal(t, "openai/gpt-test", p.Name())
}

func TestOpenAIProviderErrors(t *testing.T) {
	t.Run("rate limit is not retried", func(t *testing.T) {
		hits := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
		_, err := p.Generate(context.Background(), ProviderRequest{Prompt: "x"})
		assert.ErrorContains(t, err, "429")
		assert.Equal(t, 1, hits)
	})

	t.Run("missing key", func(t *testing.T) {
		p := NewOpenAIProvider(OpenAIConfig{})
		_, err := p.Generate(context.Background(), ProviderRequest{Prompt: "x"})
		assert.ErrorContains(t, err, "API key")
	})

	t.Run("no choices", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices": []}`))
		}))
		defer srv.Close()

		p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
		_, err := p.Generate(context.Background(), ProviderRequest{Prompt: "x"})
		assert.ErrorContains(t, err, "no completion")
	})
}

func TestLoadMockScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	script := `replies:
  - text: '{"intent": "extraction"}'
    prompt_units: 5
    output_units: 2
  - error: provider down
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0644))

	mock, err := LoadMockScript(path)
	require.NoError(t, err)
	assert.Equal(t, 2, mock.Pending())

	resp, err := mock.Generate(context.Background(), ProviderRequest{})
	require.NoError(t, err)
	assert.Equal(t, `{"intent": "extraction"}`, resp.Text)
	assert.Equal(t, 7, resp.Usage.TotalUnits)

	_, err = mock.Generate(context.Background(), ProviderRequest{})
	assert.EqualError(t, err, "provider down")

	_, err = mock.Generate(context.Background(), ProviderRequest{})
	assert.ErrorIs(t, err, ErrMockExhausted)
}

func TestNewProviderFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	cfg.LLM.Provider = "mock"
	p, err := NewProviderFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())

	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = "k"
	cfg.LLM.Model = "gpt-4o"
	p, err = NewProviderFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o", p.Name())

	cfg.LLM.Provider = "telepathy"
	_, err = NewProviderFromConfig(context.Background(), cfg)
	assert.Error(t, err)

	cfg.LLM.Provider = "gemini"
	cfg.LLM.APIKey = ""
	_, err = NewProviderFromConfig(context.Background(), cfg)
	assert.Error(t, err)
}
