package plan

import "errors"

// ErrCyclicDependency indicates the step graph is not a DAG: either a
// dependency references a step that does not precede it, or Kahn's sort
// could not visit every step. Rejected at plan creation, never retried.
var ErrCyclicDependency = errors.New("cyclic dependency in plan")

// ErrBudgetInvalid indicates a negative budget field or a dependency chain
// deeper than the declared MaxDepth. Rejected at plan creation.
var ErrBudgetInvalid = errors.New("invalid plan budget")

// ErrPlanTooLarge indicates the plan exceeds the configured maximum step
// count. Bounds validation and scheduling cost.
var ErrPlanTooLarge = errors.New("plan exceeds maximum step count")

// ErrInvalidRetryPolicy indicates a retry policy with MaxAttempts < 1 or
// MaxDelay below BaseDelay.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// ErrBudgetExceeded indicates the run consumed more wall clock or cost
// units than its budget allows. The engine aborts the plan, cancelling
// in-flight steps, when this occurs.
var ErrBudgetExceeded = errors.New("plan budget exceeded")

// ErrCheckpointWrite indicates the store rejected a checkpoint or outcome
// append even after the engine's bounded internal retries. An unpersisted
// transition would break crash-safety, so this escalates to a Fatal abort.
var ErrCheckpointWrite = errors.New("checkpoint write failed")

// ErrIncompleteLog indicates the persisted outcome log is missing a record
// required to reconstruct execution. Surfaced verbatim by the replay
// driver, never papered over.
var ErrIncompleteLog = errors.New("incomplete outcome log")

// ErrPlanNotFound indicates the registry or store has no plan with the
// requested ID.
var ErrPlanNotFound = errors.New("plan not found")

// ErrSuspended is returned by Run and Resume when the caller's context is
// cancelled mid-execution. The run is checkpointed and left resumable; it
// is not an abort. Use Engine.Cancel (or the registry) to abort with
// compensation instead.
var ErrSuspended = errors.New("run suspended")

// ErrStalled indicates the scheduler found no runnable, retrying, or
// in-flight steps while the plan was still incomplete. This should not
// happen for a validated DAG and is treated as Fatal.
var ErrStalled = errors.New("no runnable steps")

// CreationError reports a structural problem found while validating a plan.
type CreationError struct {
	Code    string
	Message string
}

func (e *CreationError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// EngineError reports a configuration or runtime problem in the engine
// itself, as opposed to a step failure.
type EngineError struct {
	Code    string
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

func (e *EngineError) Unwrap() error { return e.Cause }
