package emit

// Event represents an observability event emitted during plan execution.
//
// Events provide detailed insight into engine behavior:
//   - Step dispatch, completion, and retries
//   - Plan status transitions
//   - Failures and their classification
//   - Checkpoint and compensation operations
//
// Events are emitted to an Emitter which can:
//   - Log to stdout/stderr
//   - Send to OpenTelemetry
//   - Store in time-series databases
//   - Trigger alerts
type Event struct {
	// PlanID identifies the plan execution that emitted this event.
	PlanID string

	// Seq is the outcome-log sequence number active when the event was
	// emitted. Zero for plan-level events (start, complete, abort).
	Seq int64

	// StepID identifies which step emitted this event.
	// Empty string for plan-level events.
	StepID string

	// Attempt is the retry attempt number (1-indexed).
	// Zero for plan-level events.
	Attempt int

	// Msg is a short machine-matchable description of the event,
	// e.g. "step_start", "step_end", "step_retry", "plan_complete".
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": Execution duration in milliseconds
	//   - "error": Failure details
	//   - "class": Failure classification
	//   - "strategy": Recovery strategy chosen
	//   - "cost": Cost units consumed
	//   - "checkpoint_seq": Checkpoint sequence number
	Meta map[string]interface{}
}
