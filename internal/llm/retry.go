package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"mira/internal/logging"
)

// retryClient wraps a Client with bounded exponential backoff on transient
// failures. Permanent failures (auth, bad request) fail fast.
type retryClient struct {
	underlying Client
	maxRetries int
	baseDelay  time.Duration
	logger     logging.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// WrapWithRetry adds retry behavior to a client. maxRetries counts the
// attempts after the first.
func WrapWithRetry(client Client, maxRetries int) Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &retryClient{
		underlying: client,
		maxRetries: maxRetries,
		baseDelay:  time.Second,
		logger:     logging.NewComponentLogger("llm-retry"),
		sleep:      sleepCtx,
	}
}

func (c *retryClient) Model() string { return c.underlying.Model() }

func (c *retryClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var lastErr error
	delay := c.baseDelay
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying llm request (attempt %d/%d) after error: %v",
				attempt, c.maxRetries, lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
		}

		resp, err := c.underlying.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// isTransient reports whether an error is worth retrying: rate limits,
// upstream 5xx, network failures, and empty responses.
func isTransient(err error) bool {
	if errors.Is(err, ErrEmptyResponse) {
		return true
	}
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout", "connection refused", "connection reset",
		"broken pipe", "temporary failure", "no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
