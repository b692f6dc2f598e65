package llm

import (
	"context"
	"sync"
)

// MockClient is a scripted Client for tests. Responses are returned in
// order; the last one repeats once the script runs out. When Err is set
// every call fails with it.
type MockClient struct {
	mu        sync.Mutex
	responses []CompletionResponse
	calls     []CompletionRequest
	index     int

	Err error
}

// NewMockClient creates a mock that answers with the given contents in order.
func NewMockClient(contents ...string) *MockClient {
	responses := make([]CompletionResponse, len(contents))
	for i, c := range contents {
		responses[i] = CompletionResponse{Content: c}
	}
	return &MockClient{responses: responses}
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return CompletionResponse{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	if m.Err != nil {
		return CompletionResponse{}, m.Err
	}
	if len(m.responses) == 0 {
		return CompletionResponse{Content: "mock response"}, nil
	}

	resp := m.responses[m.index]
	if m.index < len(m.responses)-1 {
		m.index++
	}
	return resp, nil
}

// CallCount returns how many completions were requested.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastRequest returns the most recent request, or nil before any call.
func (m *MockClient) LastRequest() *CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	req := m.calls[len(m.calls)-1]
	return &req
}
