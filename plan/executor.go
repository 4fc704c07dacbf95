package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/planrun/plan/model"
	"github.com/dshills/planrun/plan/retrieval"
	"github.com/dshills/planrun/plan/tool"
)

// DefaultStepTimeout applies to steps that declare no timeout of their
// own and when the engine is not configured with one.
const DefaultStepTimeout = 60 * time.Second

// executor runs a single step attempt and shapes the result into an
// Outcome. It never mutates execution state; the engine folds outcomes
// in deterministic order afterwards.
type executor struct {
	tools          *tool.Registry
	modelClient    model.Client
	retrieval      retrieval.Provider
	scope          tool.Scope
	cost           *CostTracker
	defaultTimeout time.Duration
	clock          func() time.Time
}

type stepResult struct {
	payload json.RawMessage
	cost    float64
	err     error
}

// execute runs one attempt of a step under its timeout.
//
// The returned error is non-nil only when the caller's context ended:
// that is a run-level suspend, not a step failure. Every step-level
// problem, including timeout, is folded into the Outcome's Failure so
// it lands in the append-only log.
func (ex *executor) execute(ctx context.Context, planID string, item WorkItem, prior Outputs) (Outcome, error) {
	step := item.Step
	start := ex.clock()

	out := Outcome{
		ID:        newOutcomeID(),
		PlanID:    planID,
		StepID:    step.ID,
		Attempt:   item.Attempt,
		Timestamp: start,
	}

	if f := ex.checkPreconditions(step, prior); f != nil {
		out.Failure = f
		out.Duration = ex.clock().Sub(start)
		return out, nil
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = ex.defaultTimeout
	}
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Run the step body in its own goroutine so a hung tool or provider
	// cannot block the wave past its deadline.
	resCh := make(chan stepResult, 1)
	go func() {
		resCh <- ex.run(attemptCtx, step, prior)
	}()

	var res stepResult
	select {
	case res = <-resCh:
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			// The run itself was cancelled, not this attempt.
			return Outcome{}, ctx.Err()
		}
		out.Failure = &Failure{Code: FailTimeout,
			Message: fmt.Sprintf("step exceeded %s timeout", timeout)}
		out.Duration = ex.clock().Sub(start)
		return out, nil
	}

	out.Duration = ex.clock().Sub(start)
	out.Cost = res.cost

	if res.err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		if errors.Is(res.err, context.DeadlineExceeded) {
			out.Failure = &Failure{Code: FailTimeout,
				Message: fmt.Sprintf("step exceeded %s timeout", timeout)}
			return out, nil
		}
		out.Failure = classifyError(res.err)
		return out, nil
	}

	out.Result = res.payload
	return out, nil
}

// checkPreconditions evaluates declared preconditions against prior
// outputs. A false check is a logic failure: the plan's assumption about
// the world no longer holds.
func (ex *executor) checkPreconditions(step *Step, prior Outputs) *Failure {
	for _, pre := range step.Preconditions {
		if !pre.Check(prior[pre.Step]) {
			return &Failure{
				Code:    FailPrecondition,
				Message: fmt.Sprintf("precondition on output of %q not met", pre.Step),
			}
		}
	}
	return nil
}

func (ex *executor) run(ctx context.Context, step *Step, prior Outputs) stepResult {
	switch step.Kind {
	case KindToolCall, KindCompensation:
		return ex.runTool(ctx, step)
	case KindModelCall:
		return ex.runModel(ctx, step, prior)
	case KindDecision:
		return ex.runDecision(step, prior)
	case KindCheckpoint:
		// The engine checkpoints after every fold; an explicit
		// checkpoint step is a named barrier in the log.
		return stepResult{payload: json.RawMessage(`{"checkpoint":true}`)}
	default:
		return stepResult{err: &Failure{Code: FailError,
			Message: "unknown step kind " + string(step.Kind)}}
	}
}

func (ex *executor) runTool(ctx context.Context, step *Step) stepResult {
	if ex.tools == nil {
		return stepResult{err: &Failure{Code: FailToolNotFound,
			Message: "no tool registry configured"}}
	}
	payload, err := ex.tools.Invoke(ctx, step.Tool, step.Args, ex.scope)
	if err != nil {
		return stepResult{err: err}
	}
	var cost float64
	if ex.cost != nil {
		cost = ex.cost.RecordToolCall(step.ID)
	}
	return stepResult{payload: payload, cost: cost}
}

func (ex *executor) runModel(ctx context.Context, step *Step, prior Outputs) stepResult {
	if ex.modelClient == nil {
		return stepResult{err: &Failure{Code: FailError,
			Message: "no model client configured"}}
	}

	req := model.Request{
		Prompt:      step.Prompt,
		Temperature: -1,
	}
	if step.ContextQuery != "" && ex.retrieval != nil {
		snippets, err := ex.retrieval.Query(ctx, step.ContextQuery, 0)
		if err != nil {
			return stepResult{err: err}
		}
		req.Context = retrieval.Render(snippets)
	}

	resp, err := ex.modelClient.Complete(ctx, req)
	if err != nil {
		return stepResult{err: err}
	}

	var cost float64
	if ex.cost != nil {
		cost = ex.cost.RecordModelCall(resp.Model, resp.TokensIn, resp.TokensOut, step.ID)
	}

	payload, err := json.Marshal(struct {
		Text      string `json:"text"`
		Model     string `json:"model"`
		TokensIn  int    `json:"tokens_in"`
		TokensOut int    `json:"tokens_out"`
	}{resp.Text, resp.Model, resp.TokensIn, resp.TokensOut})
	if err != nil {
		return stepResult{err: err}
	}
	return stepResult{payload: payload, cost: cost}
}

func (ex *executor) runDecision(step *Step, prior Outputs) stepResult {
	payload, err := step.Decide(prior)
	if err != nil {
		return stepResult{err: err}
	}
	return stepResult{payload: payload}
}

// classifyError maps collaborator errors onto stable failure codes.
//
// Typed tool and model errors carry their own classification; anything
// untyped is an internal error and treated as fatal downstream.
func classifyError(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	var te *tool.Error
	if errors.As(err, &te) {
		code := FailError
		switch te.Kind {
		case tool.KindNotFound:
			code = FailToolNotFound
		case tool.KindOutOfScope:
			code = FailPolicy
		case tool.KindInvalid:
			code = FailInvalid
		case tool.KindTransient:
			code = FailTransient
		}
		return &Failure{Code: code, Message: te.Error()}
	}

	var me *model.Error
	if errors.As(err, &me) {
		code := FailError
		switch me.Kind {
		case model.KindRateLimited:
			code = FailRateLimited
		case model.KindTransient:
			code = FailTransient
		case model.KindInvalidRequest:
			code = FailInvalid
		case model.KindAuth:
			code = FailError
		}
		return &Failure{Code: code, Message: me.Error()}
	}

	return &Failure{Code: FailError, Message: err.Error()}
}
