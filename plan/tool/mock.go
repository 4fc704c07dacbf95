package tool

import (
	"context"
	"encoding/json"
	"sync"
)

// MockTool is a test implementation of Tool.
//
// Use MockTool in tests to verify engine behavior without real side
// effects. It provides:
//   - Configurable responses returned in sequence
//   - Configurable errors, also consumed in sequence
//   - Call history tracking
//   - Thread-safe operation
//
// Example usage:
//
//	mock := &MockTool{
//	    ToolName:  "write_file",
//	    Responses: []json.RawMessage{json.RawMessage(`{"ok":true}`)},
//	}
//	reg := NewRegistry()
//	reg.Register(mock)
//
// Example with error injection (fail twice, then succeed):
//
//	mock := &MockTool{
//	    ToolName: "flaky",
//	    Errs: []error{
//	        &Error{Kind: KindTransient, Tool: "flaky", Message: "timeout"},
//	        &Error{Kind: KindTransient, Tool: "flaky", Message: "timeout"},
//	    },
//	    Responses: []json.RawMessage{json.RawMessage(`{"ok":true}`)},
//	}
type MockTool struct {
	// ToolName is returned by Name().
	ToolName string

	// Errs contains errors to return before any responses. Each call
	// consumes one error until the slice is exhausted.
	Errs []error

	// Responses contains the sequence of results to return once Errs is
	// exhausted. If all responses are consumed, the last one repeats.
	// If empty, calls return an empty JSON object.
	Responses []json.RawMessage

	// Calls tracks the history of all Call() invocations.
	Calls []MockToolCall

	mu        sync.Mutex
	errIndex  int
	respIndex int
}

// MockToolCall records a single invocation of Call().
type MockToolCall struct {
	Args  json.RawMessage
	Scope Scope
}

// Name implements the Tool interface.
func (m *MockTool) Name() string { return m.ToolName }

// Call implements the Tool interface.
//
// Always records the call in Calls history regardless of outcome.
func (m *MockTool) Call(ctx context.Context, args json.RawMessage, scope Scope) (json.RawMessage, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockToolCall{Args: args, Scope: scope})

	if m.errIndex < len(m.Errs) {
		err := m.Errs[m.errIndex]
		m.errIndex++
		return nil, err
	}

	if len(m.Responses) == 0 {
		return json.RawMessage(`{}`), nil
	}
	resp := m.Responses[m.respIndex]
	if m.respIndex < len(m.Responses)-1 {
		m.respIndex++
	}
	return resp, nil
}

// CallCount returns how many times Call() has been invoked.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears call history and response/error cursors.
func (m *MockTool) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.errIndex = 0
	m.respIndex = 0
}
