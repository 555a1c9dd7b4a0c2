package llm

import (
	"context"
	"sync"
)

// MockClient is a test double for Client that records every request.
type MockClient struct {
	ProviderName string
	CompleteFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	mu       sync.Mutex
	requests []CompletionRequest
}

func (m *MockClient) Name() string { return m.ProviderName }

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &CompletionResponse{Content: "mock response"}, nil
}

// Calls returns how many times Complete was invoked.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastRequest returns the most recent request, if any.
func (m *MockClient) LastRequest() (CompletionRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return CompletionRequest{}, false
	}
	return m.requests[len(m.requests)-1], true
}

// NewEchoClient returns the "mock" provider used for local runs without
// a real backend. It replies by quoting the visitor's last message.
func NewEchoClient() *MockClient {
	return &MockClient{
		ProviderName: "mock",
		CompleteFunc: func(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
			last := ""
			for i := len(req.Messages) - 1; i >= 0; i-- {
				if req.Messages[i].Role == RoleUser {
					last = req.Messages[i].Content
					break
				}
			}
			return &CompletionResponse{
				Content: "Thanks for your message: \"" + last + "\". How else can I help?",
				Model:   "echo",
			}, nil
		},
	}
}
