// Package plan provides a durable, recoverable execution engine for agent
// task plans: validated step graphs driven through tool calls, model calls,
// and decision points with checkpointing, failure classification, and
// deterministic replay.
package plan

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxSteps bounds plan size at creation. Plans larger than this are
// rejected to keep validation and scheduling costs predictable.
const DefaultMaxSteps = 256

// StepKind identifies what collaborator a step is dispatched to.
type StepKind string

const (
	// KindToolCall invokes a registered tool with the step's arguments.
	KindToolCall StepKind = "tool_call"

	// KindModelCall sends the step's prompt to the configured model client.
	KindModelCall StepKind = "model_call"

	// KindDecision evaluates an in-process function over prior step outputs.
	KindDecision StepKind = "decision"

	// KindCheckpoint forces a durable snapshot; the step itself does no work.
	KindCheckpoint StepKind = "checkpoint"

	// KindCompensation reverses the effect of a previously succeeded step.
	// Compensation steps are never scheduled in the forward pass; they run
	// only during an abort.
	KindCompensation StepKind = "compensation"
)

// StepStatus is the lifecycle state of a single step.
type StepStatus string

const (
	StepPending     StepStatus = "pending"
	StepReady       StepStatus = "ready"
	StepRunning     StepStatus = "running"
	StepSucceeded   StepStatus = "succeeded"
	StepFailed      StepStatus = "failed"
	StepSkipped     StepStatus = "skipped"
	StepCompensated StepStatus = "compensated"
)

// Terminal reports whether the status admits no further transitions in the
// forward pass. Failed is not terminal: a failed step may return to Ready
// on retry or move to Compensated during abort.
func (s StepStatus) Terminal() bool {
	return s == StepSucceeded || s == StepSkipped || s == StepCompensated
}

// Status is the lifecycle state of a whole plan.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether the plan can no longer make progress.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// Budget caps a plan's total resource consumption. Zero values mean
// unlimited; negative values are rejected at plan creation.
type Budget struct {
	// MaxWallClock is the total elapsed time allowed for the run.
	MaxWallClock time.Duration `json:"max_wall_clock"`

	// MaxCostUnits caps accumulated cost across all step outcomes.
	MaxCostUnits float64 `json:"max_cost_units"`

	// MaxDepth caps the longest dependency chain in the plan.
	MaxDepth int `json:"max_depth"`
}

func (b Budget) validate() error {
	if b.MaxWallClock < 0 || b.MaxCostUnits < 0 || b.MaxDepth < 0 {
		return fmt.Errorf("%w: budget fields must be >= 0", ErrBudgetInvalid)
	}
	return nil
}

// RetryPolicy configures automatic retry of Transient step failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of execution attempts, including the
	// first. Must be >= 1; 1 means no retries.
	MaxAttempts int `json:"max_attempts"`

	// BaseDelay seeds the exponential backoff: delay = BaseDelay * 2^attempt.
	BaseDelay time.Duration `json:"base_delay"`

	// MaxDelay caps the computed backoff. Zero means no cap.
	MaxDelay time.Duration `json:"max_delay"`
}

// Validate checks the policy's constraints.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return fmt.Errorf("%w: MaxAttempts must be >= 1", ErrInvalidRetryPolicy)
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return fmt.Errorf("%w: MaxDelay must be >= BaseDelay", ErrInvalidRetryPolicy)
	}
	return nil
}

// Outputs is a read-only view of prior step results, keyed by step ID.
// Only steps that have Succeeded appear.
type Outputs map[string]json.RawMessage

// Precondition gates a step on the output of an earlier step. The
// referenced step must precede the gated step in topological order; this
// is checked at plan creation. A false check surfaces as a Logic-classified
// failure, never a silent skip.
type Precondition struct {
	Step  string
	Check func(output json.RawMessage) bool
}

// DecisionFunc evaluates a Decision step over prior outputs.
type DecisionFunc func(prior Outputs) (json.RawMessage, error)

// Step is one unit of work in a plan. Topology fields (DependsOn,
// Alternates, CompensatedBy) are immutable once the plan is created.
type Step struct {
	// ID uniquely identifies the step within its plan.
	ID string

	// Kind selects the collaborator dispatch path.
	Kind StepKind

	// DependsOn lists step IDs that must reach a satisfying terminal state
	// before this step becomes Ready. May reference earlier steps only.
	DependsOn []string

	// Preconditions are predicates over earlier steps' outputs, evaluated
	// when the step is dispatched.
	Preconditions []Precondition

	// Tool names the registered tool for ToolCall and Compensation steps.
	Tool string

	// Args is the serialized argument payload passed to the tool.
	Args json.RawMessage

	// Prompt is the model prompt for ModelCall steps.
	Prompt string

	// ContextQuery, when set on a ModelCall step, retrieves memory snippets
	// and prepends them to the prompt.
	ContextQuery string

	// Decide evaluates Decision steps in-process.
	Decide DecisionFunc

	// Effect declares the externally visible effect of the step, used to
	// match compensations during abort.
	Effect string

	// CompensatedBy names a Compensation step in the same plan that
	// reverses this step's effect.
	CompensatedBy string

	// Alternates lists dormant steps activated when this step fails with a
	// Logic classification. Alternate steps stay gated until activated and
	// are marked Skipped if the plan finishes without them.
	Alternates []string

	// Timeout bounds a single execution attempt. Zero uses the engine
	// default.
	Timeout time.Duration

	// Retry governs Transient failure retries. Nil means no retries.
	Retry *RetryPolicy
}

// Plan is a validated, immutable task graph. All runtime state lives in the
// engine and the store; a Plan value never changes after NewPlan returns.
type Plan struct {
	ID        string
	Version   int
	Steps     []Step
	Budget    Budget
	CreatedAt time.Time

	index map[string]int // step ID -> position in Steps (topological)
	depth int            // longest dependency chain
	alts  map[string]bool
}

// NewPlan validates the step graph and returns an executable Plan.
//
// Validation rejects:
//   - more than DefaultMaxSteps steps (ErrPlanTooLarge)
//   - negative budget fields (ErrBudgetInvalid)
//   - duplicate or empty step IDs
//   - dependencies, preconditions, or compensation links referencing
//     unknown or non-earlier steps (ErrCyclicDependency for ordering
//     violations, since a forward reference cannot topologically sort)
//   - a dependency graph that is not a DAG (ErrCyclicDependency)
//   - a dependency chain deeper than Budget.MaxDepth (ErrBudgetInvalid)
//   - invalid retry policies
func NewPlan(steps []Step, budget Budget) (*Plan, error) {
	if len(steps) == 0 {
		return nil, &CreationError{Code: "EMPTY_PLAN", Message: "plan requires at least one step"}
	}
	if len(steps) > DefaultMaxSteps {
		return nil, fmt.Errorf("%w: %d steps exceeds limit of %d", ErrPlanTooLarge, len(steps), DefaultMaxSteps)
	}
	if err := budget.validate(); err != nil {
		return nil, err
	}

	index := make(map[string]int, len(steps))
	for i, st := range steps {
		if st.ID == "" {
			return nil, &CreationError{Code: "EMPTY_STEP_ID", Message: fmt.Sprintf("step at position %d has no ID", i)}
		}
		if _, dup := index[st.ID]; dup {
			return nil, &CreationError{Code: "DUPLICATE_STEP_ID", Message: "duplicate step ID: " + st.ID}
		}
		index[st.ID] = i
	}

	alts := make(map[string]bool)
	for i, st := range steps {
		for _, dep := range st.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, &CreationError{Code: "UNKNOWN_DEPENDENCY", Message: fmt.Sprintf("step %s depends on unknown step %s", st.ID, dep)}
			}
			if j >= i {
				return nil, fmt.Errorf("%w: step %s depends on %s which does not precede it", ErrCyclicDependency, st.ID, dep)
			}
		}
		for _, pc := range st.Preconditions {
			j, ok := index[pc.Step]
			if !ok || j >= i {
				return nil, &CreationError{Code: "INVALID_PRECONDITION", Message: fmt.Sprintf("step %s precondition references %s which is not an earlier step", st.ID, pc.Step)}
			}
			if pc.Check == nil {
				return nil, &CreationError{Code: "INVALID_PRECONDITION", Message: fmt.Sprintf("step %s precondition on %s has no check", st.ID, pc.Step)}
			}
		}
		if st.CompensatedBy != "" {
			j, ok := index[st.CompensatedBy]
			if !ok {
				return nil, &CreationError{Code: "UNKNOWN_COMPENSATION", Message: fmt.Sprintf("step %s compensated by unknown step %s", st.ID, st.CompensatedBy)}
			}
			if steps[j].Kind != KindCompensation {
				return nil, &CreationError{Code: "INVALID_COMPENSATION", Message: fmt.Sprintf("step %s compensated by %s which is not a compensation step", st.ID, st.CompensatedBy)}
			}
		}
		for _, alt := range st.Alternates {
			if _, ok := index[alt]; !ok {
				return nil, &CreationError{Code: "UNKNOWN_ALTERNATE", Message: fmt.Sprintf("step %s lists unknown alternate %s", st.ID, alt)}
			}
			alts[alt] = true
		}
		if st.Retry != nil {
			if err := st.Retry.Validate(); err != nil {
				return nil, err
			}
		}
		switch st.Kind {
		case KindToolCall, KindCompensation:
			if st.Tool == "" {
				return nil, &CreationError{Code: "MISSING_TOOL", Message: "step " + st.ID + " has no tool name"}
			}
		case KindModelCall:
			if st.Prompt == "" {
				return nil, &CreationError{Code: "MISSING_PROMPT", Message: "step " + st.ID + " has no prompt"}
			}
		case KindDecision:
			if st.Decide == nil {
				return nil, &CreationError{Code: "MISSING_DECISION", Message: "step " + st.ID + " has no decision function"}
			}
		case KindCheckpoint:
			// no payload required
		default:
			return nil, &CreationError{Code: "UNKNOWN_KIND", Message: fmt.Sprintf("step %s has unknown kind %q", st.ID, st.Kind)}
		}
	}

	depth, err := graphDepth(steps, index)
	if err != nil {
		return nil, err
	}
	if budget.MaxDepth > 0 && depth > budget.MaxDepth {
		return nil, fmt.Errorf("%w: dependency depth %d exceeds MaxDepth %d", ErrBudgetInvalid, depth, budget.MaxDepth)
	}

	return &Plan{
		ID:        uuid.NewString(),
		Version:   1,
		Steps:     steps,
		Budget:    budget,
		CreatedAt: time.Now().UTC(),
		index:     index,
		depth:     depth,
		alts:      alts,
	}, nil
}

// Amend returns a new plan version with the given steps, preserving the
// plan ID. The original plan is untouched; topology is immutable per
// version.
func (p *Plan) Amend(steps []Step, budget Budget) (*Plan, error) {
	next, err := NewPlan(steps, budget)
	if err != nil {
		return nil, err
	}
	next.ID = p.ID
	next.Version = p.Version + 1
	return next, nil
}

// StepIndex returns the topological position of a step, or -1 if unknown.
func (p *Plan) StepIndex(stepID string) int {
	if i, ok := p.index[stepID]; ok {
		return i
	}
	return -1
}

// StepByID returns the step with the given ID.
func (p *Plan) StepByID(stepID string) (Step, bool) {
	i, ok := p.index[stepID]
	if !ok {
		return Step{}, false
	}
	return p.Steps[i], true
}

// Depth is the longest dependency chain in the plan.
func (p *Plan) Depth() int { return p.depth }

// IsAlternate reports whether a step is reachable only via alternate-branch
// activation. Alternate steps stay dormant until a Logic failure activates
// them.
func (p *Plan) IsAlternate(stepID string) bool { return p.alts[stepID] }

// graphDepth runs Kahn's algorithm over the dependency graph, both to
// confirm it is acyclic and to measure the longest chain.
func graphDepth(steps []Step, index map[string]int) (int, error) {
	n := len(steps)
	indeg := make([]int, n)
	children := make([][]int, n)
	for i, st := range steps {
		for _, dep := range st.DependsOn {
			j := index[dep]
			children[j] = append(children[j], i)
			indeg[i]++
		}
	}

	level := make([]int, n)
	queue := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			level[i] = 1
			queue = append(queue, i)
		}
	}

	visited := 0
	depth := 0
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		visited++
		if level[i] > depth {
			depth = level[i]
		}
		for _, c := range children[i] {
			if level[i]+1 > level[c] {
				level[c] = level[i] + 1
			}
			indeg[c]--
			if indeg[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	if visited != n {
		return 0, fmt.Errorf("%w: dependency graph contains a cycle", ErrCyclicDependency)
	}
	return depth, nil
}

// Spec is the serializable shape of a plan, used for persistence. Function
// fields (preconditions, decision evaluators) do not survive serialization;
// a resumed run must be given the original Plan value.
type Spec struct {
	ID        string     `json:"id"`
	Version   int        `json:"version"`
	Budget    Budget     `json:"budget"`
	CreatedAt time.Time  `json:"created_at"`
	Steps     []StepSpec `json:"steps"`
}

// StepSpec is the serializable subset of a Step.
type StepSpec struct {
	ID            string          `json:"id"`
	Kind          StepKind        `json:"kind"`
	DependsOn     []string        `json:"depends_on,omitempty"`
	Tool          string          `json:"tool,omitempty"`
	Args          json.RawMessage `json:"args,omitempty"`
	Prompt        string          `json:"prompt,omitempty"`
	Effect        string          `json:"effect,omitempty"`
	CompensatedBy string          `json:"compensated_by,omitempty"`
	Alternates    []string        `json:"alternates,omitempty"`
	Timeout       time.Duration   `json:"timeout,omitempty"`
	Retry         *RetryPolicy    `json:"retry,omitempty"`
}

// SpecOf extracts the serializable form of the plan.
func SpecOf(p *Plan) Spec {
	spec := Spec{
		ID:        p.ID,
		Version:   p.Version,
		Budget:    p.Budget,
		CreatedAt: p.CreatedAt,
		Steps:     make([]StepSpec, len(p.Steps)),
	}
	for i, st := range p.Steps {
		spec.Steps[i] = StepSpec{
			ID:            st.ID,
			Kind:          st.Kind,
			DependsOn:     st.DependsOn,
			Tool:          st.Tool,
			Args:          st.Args,
			Prompt:        st.Prompt,
			Effect:        st.Effect,
			CompensatedBy: st.CompensatedBy,
			Alternates:    st.Alternates,
			Timeout:       st.Timeout,
			Retry:         st.Retry,
		}
	}
	return spec
}
