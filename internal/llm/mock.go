package llm

import (
	"context"
	"sync"
)

// MockClient is a test double for the LLM Client interface. Safe for
// concurrent use. Responses are consumed in order; the last one repeats.
// A non-nil Err fails every call.
type MockClient struct {
	mu        sync.Mutex
	Responses []*Response
	Err       error
	Calls     []string // records prompts sent
}

// Complete records the call and returns the next scripted response.
func (m *MockClient) Complete(ctx context.Context, prompt string) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, prompt)
	if m.Err != nil {
		return nil, m.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(m.Responses) == 0 {
		return &Response{Provider: "mock"}, nil
	}
	resp := m.Responses[0]
	if len(m.Responses) > 1 {
		m.Responses = m.Responses[1:]
	}
	return resp, nil
}

// CallCount returns how many prompts the mock has seen.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Scripted builds a mock that answers with the given contents in order.
func Scripted(contents ...string) *MockClient {
	m := &MockClient{}
	for _, c := range contents {
		m.Responses = append(m.Responses, &Response{Content: c, Provider: "mock"})
	}
	return m
}
