package retrieval

import (
	"context"
	"sync"
)

// MockProvider is a test implementation of Provider.
//
// Results are keyed by query text; unknown queries return the Default
// slice (nil by default). Thread-safe.
type MockProvider struct {
	// Results maps query text to the snippets to return.
	Results map[string][]Snippet

	// Default is returned for queries not present in Results.
	Default []Snippet

	// Err, if set, is returned by every Query() call.
	Err error

	// Queries tracks the history of all Query() invocations.
	Queries []string

	mu sync.Mutex
}

// Query implements the Provider interface.
func (m *MockProvider) Query(ctx context.Context, text string, topK int) ([]Snippet, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Queries = append(m.Queries, text)

	if m.Err != nil {
		return nil, m.Err
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	snippets, ok := m.Results[text]
	if !ok {
		snippets = m.Default
	}
	if len(snippets) > topK {
		snippets = snippets[:topK]
	}
	out := make([]Snippet, len(snippets))
	copy(out, snippets)
	return out, nil
}
