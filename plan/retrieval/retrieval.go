// Package retrieval supplies workspace context snippets to model-call
// steps.
//
// A step can declare a context query; before the prompt is sent, the
// engine asks the configured Provider for the most relevant snippets and
// prepends them to the request.
package retrieval

import "context"

// DefaultTopK is how many snippets a query returns when the caller does
// not say otherwise.
const DefaultTopK = 5

// Snippet is one retrieved piece of workspace context.
type Snippet struct {
	// Path locates the source of the snippet (file path, doc URL).
	Path string

	// Content is the snippet text.
	Content string

	// Score is the provider's relevance score, higher is better.
	// Zero when the provider does not score.
	Score float64
}

// Provider answers context queries against an indexed workspace.
//
// Implementations may be embedding stores, ripgrep wrappers, or LSP
// symbol indexes. They must be safe for concurrent use.
type Provider interface {
	// Query returns up to topK snippets relevant to text, most relevant
	// first. A topK of zero or less means DefaultTopK. An empty result
	// is not an error.
	Query(ctx context.Context, text string, topK int) ([]Snippet, error)
}

// Render flattens snippets into the string slices a model request
// carries.
func Render(snippets []Snippet) []string {
	out := make([]string, 0, len(snippets))
	for _, s := range snippets {
		if s.Path != "" {
			out = append(out, s.Path+":\n"+s.Content)
		} else {
			out = append(out, s.Content)
		}
	}
	return out
}
