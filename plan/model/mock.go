package model

import (
	"context"
	"sync"
)

// MockClient is a test implementation of Client.
//
// Use MockClient in tests to verify engine behavior without making
// actual LLM API calls. It provides:
//   - Configurable responses
//   - Call history tracking
//   - Error injection
//   - Thread-safe operation
//
// Example usage:
//
//	mock := &MockClient{
//	    Responses: []Response{
//	        {Text: "First response"},
//	        {Text: "Second response"},
//	    },
//	}
//	out, err := mock.Complete(ctx, Request{Prompt: "hi"})
//	// Returns "First response", then "Second response" on subsequent calls
//
// Example with error injection:
//
//	mock := &MockClient{
//	    Err: &Error{Kind: KindRateLimited, Provider: "mock", Message: "slow down"},
//	}
type MockClient struct {
	// Responses contains the sequence of responses to return.
	// Each call to Complete() returns the next response in order.
	// If all responses are consumed, the last response repeats.
	Responses []Response

	// Errs contains errors to return before any responses. Each call
	// consumes one error until the slice is exhausted.
	Errs []error

	// Err, if set, is returned by every Complete() call.
	Err error

	// Calls tracks the history of all Complete() invocations.
	Calls []Request

	mu        sync.Mutex
	errIndex  int
	respIndex int
}

// Complete implements the Client interface.
//
// Always records the call in Calls history regardless of outcome.
func (m *MockClient) Complete(ctx context.Context, req Request) (Response, error) {
	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)

	if m.Err != nil {
		return Response{}, m.Err
	}
	if m.errIndex < len(m.Errs) {
		err := m.Errs[m.errIndex]
		m.errIndex++
		return Response{}, err
	}

	if len(m.Responses) == 0 {
		return Response{Text: "", Model: "mock"}, nil
	}
	resp := m.Responses[m.respIndex]
	if m.respIndex < len(m.Responses)-1 {
		m.respIndex++
	}
	return resp, nil
}

// CallCount returns how many times Complete() has been invoked.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
