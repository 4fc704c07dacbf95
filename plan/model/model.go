// Package model provides LLM integration adapters for model-call steps.
package model

import (
	"context"
	"fmt"
)

// Client defines the interface for LLM completion providers.
//
// This interface abstracts the differences between providers (OpenAI,
// Anthropic, Google, local models), giving the executor one call shape
// for model steps.
//
// Implementations should:
//   - Handle provider-specific authentication
//   - Convert Request to the provider's native format
//   - Parse provider responses back to Response
//   - Respect context cancellation and timeouts
//   - Surface rate limits and transient faults as *Error so the engine
//     can classify them
type Client interface {
	// Complete sends a prompt to the LLM and returns the completion.
	Complete(ctx context.Context, req Request) (Response, error)
}

// Request is a single completion request.
type Request struct {
	// Model names the provider model to use. Empty uses the adapter's
	// default.
	Model string

	// System is an optional system prompt.
	System string

	// Prompt is the user prompt.
	Prompt string

	// Context holds retrieved snippets prepended to the prompt.
	Context []string

	// MaxTokens caps the completion length. Zero uses the adapter's
	// default.
	MaxTokens int

	// Temperature controls sampling randomness. Negative means
	// provider default.
	Temperature float64
}

// Response is a completion result.
type Response struct {
	// Text is the completion text.
	Text string

	// Model is the model that actually served the request.
	Model string

	// TokensIn and TokensOut report token usage for cost accounting.
	// Zero when the provider does not report usage.
	TokensIn  int
	TokensOut int
}

// ErrorKind classifies a provider failure for recovery decisions.
type ErrorKind string

const (
	// KindRateLimited means the provider throttled the request.
	// Retryable with backoff.
	KindRateLimited ErrorKind = "rate_limited"

	// KindInvalidRequest means the request itself was malformed or
	// rejected. Never retried.
	KindInvalidRequest ErrorKind = "invalid_request"

	// KindTransient means a temporary provider or network fault.
	KindTransient ErrorKind = "transient"

	// KindAuth means authentication failed. Never retried.
	KindAuth ErrorKind = "auth"
)

// Error is a classified provider failure.
type Error struct {
	Kind     ErrorKind
	Provider string
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("model %s: %s: %s", e.Provider, e.Kind, e.Message)
}

// BuildPrompt renders the request's context snippets and prompt into the
// single user message sent to providers without a structured context slot.
func BuildPrompt(req Request) string {
	if len(req.Context) == 0 {
		return req.Prompt
	}
	out := "Context:\n"
	for _, snippet := range req.Context {
		out += snippet + "\n---\n"
	}
	return out + "\n" + req.Prompt
}
