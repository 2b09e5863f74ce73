package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestOpenAIClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		var req struct {
			Model    string    `json:"model"`
			Messages []Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test-model" || len(req.Messages) != 2 {
			t.Errorf("request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "hello"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7},
		})
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{Model: "test-model", APIKey: "test-key", BaseURL: srv.URL})
	resp, err := c.Complete(context.Background(), CompletionRequest{
		Messages: []Message{
			{Role: "system", Content: "you are helpful"},
			{Role: "user", Content: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "hello" || resp.StopReason != "stop" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Usage.TotalTokens != 7 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestOpenAIClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{Model: "m", APIKey: "k", BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), CompletionRequest{})

	var httpErr *HTTPStatusError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 429 {
		t.Fatalf("err = %v, want HTTPStatusError 429", err)
	}
	if !isTransient(err) {
		t.Error("429 should classify as transient")
	}
}

func TestRetryClient_RecoversFromTransientErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "ok"}, "finish_reason": "stop"},
			},
		})
	}))
	defer srv.Close()

	rc := WrapWithRetry(NewOpenAIClient(Config{Model: "m", APIKey: "k", BaseURL: srv.URL}), 3).(*retryClient)
	rc.sleep = func(context.Context, time.Duration) error { return nil }

	resp, err := rc.Complete(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q", resp.Content)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestRetryClient_PermanentErrorFailsFast(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	rc := WrapWithRetry(NewOpenAIClient(Config{Model: "m", APIKey: "k", BaseURL: srv.URL}), 3).(*retryClient)
	rc.sleep = func(context.Context, time.Duration) error { return nil }

	if _, err := rc.Complete(context.Background(), CompletionRequest{}); err == nil {
		t.Fatal("expected error")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retries on 401)", got)
	}
}

func TestNewFromConfig_MockFallbackWithoutKey(t *testing.T) {
	c := NewFromConfig(Config{Provider: "openai", Model: "gpt-x"})
	if _, ok := c.(*MockClient); !ok {
		t.Fatalf("client = %T, want *MockClient when API key is missing", c)
	}

	resp, err := c.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content == "" {
		t.Error("mock reply is empty")
	}
}
