// Package tool defines the side-effecting operations a plan step can
// invoke, and the scope rules that constrain them.
//
// Tools are the engine's only channel for touching the outside world:
// filesystem edits, shell commands, network fetches. Every invocation is
// checked against a Scope before the tool runs, so a misbehaving plan
// cannot escape its sandbox.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// ErrorKind classifies a tool failure for recovery decisions.
type ErrorKind string

const (
	// KindNotFound means the named tool is not registered.
	KindNotFound ErrorKind = "not_found"

	// KindOutOfScope means the invocation violated its Scope
	// (path escape, disallowed host). Never retried.
	KindOutOfScope ErrorKind = "out_of_scope"

	// KindInvalid means the arguments could not be interpreted.
	KindInvalid ErrorKind = "invalid"

	// KindTransient means the tool hit a temporary condition
	// (network blip, lock contention) and may succeed on retry.
	KindTransient ErrorKind = "transient"

	// KindFailed means the tool ran and failed for a non-transient reason.
	KindFailed ErrorKind = "failed"
)

// Error is a classified tool failure.
type Error struct {
	Kind    ErrorKind
	Tool    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("tool %s: %s: %s", e.Tool, e.Kind, e.Message)
}

// Tool is a named side-effecting operation.
//
// Implementations must be safe for concurrent use: the engine may invoke
// the same tool from several steps in one wave.
type Tool interface {
	// Name returns the identifier steps use to select this tool.
	Name() string

	// Call runs the tool with JSON-encoded arguments under the given
	// scope. The result must be JSON; scope violations must be reported
	// as *Error with KindOutOfScope rather than silently narrowed.
	Call(ctx context.Context, args json.RawMessage, scope Scope) (json.RawMessage, error)
}

// Registry holds the tools available to an engine.
//
// Registration happens at setup time; Invoke is the hot path and only
// takes a read lock.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a name twice replaces the earlier
// tool; last registration wins.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Lookup returns the tool registered under name, or false.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke looks up and calls the named tool under scope.
//
// An unknown name returns *Error with KindNotFound. Tool errors pass
// through unchanged so callers can classify them.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage, scope Scope) (json.RawMessage, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, &Error{Kind: KindNotFound, Tool: name, Message: "tool not registered"}
	}
	return t.Call(ctx, args, scope)
}
