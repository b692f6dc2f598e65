package llm

import (
	"context"
	"fmt"
	"math"
	"time"

	"pedagogue/pkg/logx"
)

// RetryConfig defines retry behavior for transient model failures.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig provides reasonable defaults for retry behavior.
var DefaultRetryConfig = RetryConfig{ //nolint:gochecknoglobals
	MaxRetries:    2,
	InitialDelay:  200 * time.Millisecond,
	MaxDelay:      5 * time.Second,
	BackoffFactor: 2.0,
}

// RetryableClient wraps a Client with exponential-backoff retries. When all
// attempts fail the error wraps ErrAgentUnavailable.
type RetryableClient struct {
	client Client
	config RetryConfig
	logger *logx.Logger
}

// NewRetryableClient creates a retrying wrapper around client.
func NewRetryableClient(client Client, config RetryConfig) *RetryableClient {
	return &RetryableClient{
		client: client,
		config: config,
		logger: logx.NewLogger("llm-retry"),
	}
}

// Complete implements Client with retry logic. Context cancellation aborts
// immediately and is returned unchanged.
func (r *RetryableClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delayFor(attempt)
			r.logger.Debug("retrying completion, attempt %d after %v: %v", attempt+1, delay, lastErr)

			select {
			case <-ctx.Done():
				return CompletionResponse{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		resp, err := r.client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return CompletionResponse{}, fmt.Errorf("completion cancelled: %w", ctx.Err())
		}
		lastErr = err
	}

	return CompletionResponse{}, fmt.Errorf("%w: %d attempts failed: %v", ErrAgentUnavailable, r.config.MaxRetries+1, lastErr)
}

func (r *RetryableClient) delayFor(attempt int) time.Duration {
	delay := time.Duration(float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(attempt-1)))
	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}
	return delay
}
