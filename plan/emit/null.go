package emit

// NullEmitter implements Emitter by discarding all events.
//
// This is a no-op emitter for environments where event logging is not
// desired. It implements the Emitter interface but does nothing with
// emitted events.
//
// Use cases:
//   - Production deployments where observability overhead is unwanted
//   - Testing scenarios where event capture is not needed
//   - Disabling event emission without changing code
//
// Example usage:
//
//	emitter := emit.NewNullEmitter()
//	eng := plan.New(store, plan.WithEmitter(emitter))
type NullEmitter struct{}

// NewNullEmitter returns a NullEmitter that discards all events without
// any processing. Safe for concurrent use with zero overhead.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event without any processing.
func (n *NullEmitter) Emit(event Event) {
	// No-op: discard the event
}
