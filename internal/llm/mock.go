package llm

import (
	"context"
	"fmt"
)

// MockClient implements Client without network access. It is the fallback
// provider when no API key is configured, and the default in tests.
type MockClient struct {
	model string

	// Reply overrides the canned response when set.
	Reply string
	// Err is returned from Complete when set.
	Err error

	calls []CompletionRequest
}

// NewMockClient creates a mock client.
func NewMockClient(model string) *MockClient {
	if model == "" {
		model = "mock"
	}
	return &MockClient{model: model}
}

func (m *MockClient) Model() string { return m.model }

// Complete returns the configured reply, or a canned response.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.calls = append(m.calls, req)
	if m.Err != nil {
		return nil, m.Err
	}

	content := m.Reply
	if content == "" {
		content = fmt.Sprintf("Mock reply from %s. No API call was made.", m.model)
	}
	return &CompletionResponse{
		Content:    content,
		StopReason: "stop",
		Usage:      TokenUsage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}, nil
}

// Calls returns the requests seen so far.
func (m *MockClient) Calls() []CompletionRequest { return m.calls }
