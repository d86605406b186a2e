package perception

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrMockExhausted is returned when a MockProvider has no reply left.
var ErrMockExhausted = errors.New("mock provider script exhausted")

// MockReply is one scripted provider reply.
type MockReply struct {
	Text        string `yaml:"text"`
	Error       string `yaml:"error,omitempty"`
	PromptUnits int    `yaml:"prompt_units,omitempty"`
	OutputUnits int    `yaml:"output_units,omitempty"`
}

// MockProvider replays scripted replies in order. It backs tests and the
// offline "mock" provider used for demos.
type MockProvider struct {
	mu       sync.Mutex
	replies  []MockReply
	requests []ProviderRequest
}

// NewMockProvider creates a provider with the given replies queued.
func NewMockProvider(replies ...MockReply) *MockProvider {
	return &MockProvider{replies: replies}
}

// LoadMockScript reads a YAML document of the form `replies: [{text: ...}]`.
func LoadMockScript(path string) (*MockProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mock script: %w", err)
	}
	var script struct {
		Replies []MockReply `yaml:"replies"`
	}
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("failed to parse mock script: %w", err)
	}
	return NewMockProvider(script.Replies...), nil
}

// Reply queues a text reply.
func (m *MockProvider) Reply(text string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, MockReply{Text: text})
	return m
}

// Fail queues a provider failure.
func (m *MockProvider) Fail(msg string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, MockReply{Error: msg})
	return m
}

// Name implements Provider.
func (m *MockProvider) Name() string { return "mock" }

// Generate implements Provider.
func (m *MockProvider) Generate(ctx context.Context, req ProviderRequest) (ProviderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if err := ctx.Err(); err != nil {
		return ProviderResponse{}, err
	}
	if len(m.replies) == 0 {
		return ProviderResponse{}, ErrMockExhausted
	}

	next := m.replies[0]
	m.replies = m.replies[1:]
	if next.Error != "" {
		return ProviderResponse{}, errors.New(next.Error)
	}
	return ProviderResponse{
		Text: next.Text,
		Usage: Usage{
			PromptUnits:     next.PromptUnits,
			CompletionUnits: next.OutputUnits,
			TotalUnits:      next.PromptUnits + next.OutputUnits,
		},
	}, nil
}

// Requests returns every request received so far.
func (m *MockProvider) Requests() []ProviderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProviderRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Pending returns the number of unconsumed replies.
func (m *MockProvider) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.replies)
}
