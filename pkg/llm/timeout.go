package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeoutClient bounds every completion with a deadline.
type TimeoutClient struct {
	client  Client
	timeout time.Duration
}

// NewTimeoutClient wraps client with a per-request timeout.
func NewTimeoutClient(client Client, timeout time.Duration) *TimeoutClient {
	return &TimeoutClient{client: client, timeout: timeout}
}

// Complete implements Client. A request exceeding the deadline fails with an
// error wrapping ErrAgentUnavailable.
func (t *TimeoutClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, err := t.client.Complete(ctx, req)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return CompletionResponse{}, fmt.Errorf("%w: completion timed out after %v", ErrAgentUnavailable, t.timeout)
	}
	return resp, err
}
