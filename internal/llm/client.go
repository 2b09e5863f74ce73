// Package llm provides the chat completion client used for agent turns.
package llm

import (
	"context"
	"errors"
)

// Message is one chat message in a completion request.
type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// CompletionRequest is a provider-agnostic chat completion request.
type CompletionRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// TokenUsage reports token accounting for one completion.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the assistant's reply to a completion request.
type CompletionResponse struct {
	Content    string
	StopReason string
	Usage      TokenUsage
}

// Client is the completion interface consumed by the executor.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Model() string
}

// ErrEmptyResponse is returned when the provider answers with no choices.
var ErrEmptyResponse = errors.New("llm: empty response")

// Config configures a provider-backed client.
type Config struct {
	Provider    string            // "openai" (compatible APIs) or "mock"
	Model       string
	APIKey      string
	BaseURL     string
	TimeoutSecs int
	MaxRetries  int
	Headers     map[string]string
}

// NewFromConfig builds the configured client. When no API key is present the
// mock provider is used so the rest of the system stays exercisable offline.
func NewFromConfig(cfg Config) Client {
	if cfg.Provider == "mock" || cfg.APIKey == "" {
		return NewMockClient(cfg.Model)
	}
	return WrapWithRetry(NewOpenAIClient(cfg), cfg.MaxRetries)
}
