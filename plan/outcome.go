package plan

import (
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// FailureClass buckets a step failure for recovery decisions.
type FailureClass string

const (
	// ClassTransient covers network/timeout-shaped failures that may
	// succeed on retry.
	ClassTransient FailureClass = "transient"

	// ClassLogic covers precondition mismatches and other unrecoverable
	// logic signals from the step itself.
	ClassLogic FailureClass = "logic"

	// ClassPolicy covers collaborator-tagged policy violations (sandbox
	// escape, disallowed host). Never retried.
	ClassPolicy FailureClass = "policy"

	// ClassFatal covers everything left unclassified.
	ClassFatal FailureClass = "fatal"
)

// Strategy is the recovery action chosen for a classified failure.
type Strategy string

const (
	StrategyRetry     Strategy = "retry"
	StrategyBackoff   Strategy = "backoff"
	StrategyAlternate Strategy = "alternate_branch"
	StrategyAbort     Strategy = "abort"
)

// Classification records how a failure was bucketed and what the engine
// decided to do about it.
type Classification struct {
	StepID   string       `json:"step_id"`
	Attempt  int          `json:"attempt"`
	Class    FailureClass `json:"class"`
	Strategy Strategy     `json:"strategy"`
	Reason   string       `json:"reason,omitempty"`
}

// Failure codes produced by the executor. The recovery manager keys its
// classification rules off these.
const (
	FailTimeout      = "timeout"
	FailCancelled    = "cancelled"
	FailTransient    = "transient"
	FailRateLimited  = "rate_limited"
	FailPolicy       = "policy_violation"
	FailPrecondition = "precondition"
	FailLogic        = "logic"
	FailToolNotFound = "tool_not_found"
	FailInvalid      = "invalid_request"
	FailError        = "error"
)

// Failure is the typed error payload of an unsuccessful outcome.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (f *Failure) Error() string { return f.Code + ": " + f.Message }

// Outcome is the immutable record of one step execution attempt. Outcomes
// are appended to the store as soon as the attempt completes, before the
// wave it ran in joins, and are never mutated afterward; together they
// form the replay log.
type Outcome struct {
	// ID is a lexicographically sortable unique identifier for the record.
	ID string `json:"id"`

	PlanID  string `json:"plan_id"`
	StepID  string `json:"step_id"`
	Attempt int    `json:"attempt"`

	// Result is the payload of a successful attempt; nil on failure.
	Result json.RawMessage `json:"result,omitempty"`

	// Failure describes an unsuccessful attempt; nil on success.
	Failure *Failure `json:"failure,omitempty"`

	// Cost is the cost units consumed by this attempt.
	Cost float64 `json:"cost"`

	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Succeeded reports whether the attempt produced a result.
func (o Outcome) Succeeded() bool { return o.Failure == nil }

// newOutcomeID mints a ULID so outcome IDs sort in creation order even
// across process restarts.
func newOutcomeID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
