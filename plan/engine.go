// Package plan provides a durable, recoverable execution engine for
// multi-step agent plans.
//
// A Plan is a validated DAG of steps (tool calls, model calls, decisions,
// checkpoints). The Engine executes it in deterministic waves: each wave
// dispatches every ready step concurrently, folds the results in
// topological order, appends each result to an append-only outcome log,
// and writes an atomic checkpoint. A crashed or suspended run resumes
// from its latest checkpoint without repeating completed work, and a
// finished log replays to the same trace on every read.
package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/planrun/plan/emit"
	"github.com/dshills/planrun/plan/store"
)

// DefaultMaxConcurrent bounds how many steps run in one wave unless
// configured otherwise.
const DefaultMaxConcurrent = 4

// defaultCheckpointRetries is how many times a failed store write is
// retried before the run aborts.
const defaultCheckpointRetries = 3

// errCancelRequested is the cancellation cause used by Cancel to
// distinguish an explicit abort from a caller context ending.
var errCancelRequested = errors.New("plan cancel requested")

// Engine executes plans against a durable store.
//
// One Engine can run many plans, each identified by plan ID. Engines are
// stateless apart from the set of in-flight cancellations: all durable
// state lives in the store, so a fresh Engine on a fresh process resumes
// any plan the store knows about.
type Engine struct {
	store   store.Store
	emitter emit.Emitter
	metrics *PrometheusMetrics
	exec    *executor

	maxConcurrent     int
	checkpointRetries int
	clock             func() time.Time

	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
}

// New creates an Engine backed by st.
//
// Example:
//
//	st, _ := store.NewSQLiteStore("plans.db")
//	eng := plan.New(st,
//	    plan.WithTools(registry),
//	    plan.WithModel(client),
//	    plan.WithEmitter(emit.NewLogEmitter(os.Stdout, false)),
//	)
func New(st store.Store, opts ...Option) *Engine {
	cfg := &engineConfig{
		maxConcurrent:      DefaultMaxConcurrent,
		defaultStepTimeout: DefaultStepTimeout,
		emitter:            emit.NewNullEmitter(),
		cost:               NewCostTracker(),
		checkpointRetries:  defaultCheckpointRetries,
		clock:              time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Engine{
		store:   st,
		emitter: cfg.emitter,
		metrics: cfg.metrics,
		exec: &executor{
			tools:          cfg.tools,
			modelClient:    cfg.modelClient,
			retrieval:      cfg.retrieval,
			scope:          cfg.scope,
			cost:           cfg.cost,
			defaultTimeout: cfg.defaultStepTimeout,
			clock:          cfg.clock,
		},
		maxConcurrent:     cfg.maxConcurrent,
		checkpointRetries: cfg.checkpointRetries,
		clock:             cfg.clock,
		cancels:           make(map[string]context.CancelCauseFunc),
	}
}

// Run executes a plan from the beginning.
//
// The plan record is persisted before any step runs. Run returns the
// final snapshot together with:
//   - nil on successful completion
//   - ErrSuspended (wrapped) when the caller's context ended; the plan
//     stays resumable
//   - an *EngineError describing the abort otherwise
func (e *Engine) Run(ctx context.Context, p *Plan) (Snapshot, error) {
	if e.store == nil {
		return Snapshot{}, &EngineError{Code: "MISSING_STORE", Message: "store is required"}
	}

	spec, err := json.Marshal(SpecOf(p))
	if err != nil {
		return Snapshot{}, &EngineError{Code: "SPEC_ENCODE", Message: "failed to encode plan", Cause: err}
	}
	rec := store.PlanRecord{
		ID:        p.ID,
		Version:   p.Version,
		Spec:      spec,
		Status:    string(StatusRunning),
		CreatedAt: p.CreatedAt,
	}
	if err := e.store.SavePlan(ctx, rec); err != nil {
		return Snapshot{}, &EngineError{Code: "STORE_ERROR", Message: "failed to save plan", Cause: err}
	}

	e.emitter.Emit(emit.Event{PlanID: p.ID, Msg: "plan_start"})

	return e.runLoop(ctx, p, newExecState(p), 0)
}

// Resume continues a plan from its latest checkpoint.
//
// The caller supplies the same Plan value that started the run (decision
// functions and precondition checks are not serializable). State is
// restored from the newest snapshot, then reconciled against any outcome
// log entries written after it, so an attempt that completed between the
// last checkpoint and the crash is not repeated.
//
// A plan with no checkpoint starts from the beginning. A plan already in
// a terminal state returns its final snapshot unchanged.
func (e *Engine) Resume(ctx context.Context, p *Plan) (Snapshot, error) {
	rec, err := e.store.LoadPlan(ctx, p.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrPlanNotFound, p.ID)
		}
		return Snapshot{}, &EngineError{Code: "STORE_ERROR", Message: "failed to load plan", Cause: err}
	}
	if rec.Version != p.Version {
		return Snapshot{}, &EngineError{Code: "VERSION_MISMATCH",
			Message: fmt.Sprintf("stored plan is version %d, caller has %d", rec.Version, p.Version)}
	}

	cp, err := e.store.LatestCheckpoint(ctx, p.ID)
	if errors.Is(err, store.ErrNotFound) {
		return e.runLoop(ctx, p, newExecState(p), 0)
	}
	if err != nil {
		return Snapshot{}, &EngineError{Code: "STORE_ERROR", Message: "failed to load checkpoint", Cause: err}
	}

	snap, err := decodeSnapshot(cp.Snapshot)
	if err != nil {
		return Snapshot{}, &EngineError{Code: "CHECKPOINT_CORRUPT", Message: err.Error()}
	}
	if snap.PlanStatus.Terminal() {
		return snap, nil
	}

	state, err := restoreExecState(p, snap)
	if err != nil {
		return Snapshot{}, &EngineError{Code: "CHECKPOINT_MISMATCH", Message: err.Error()}
	}

	// Reconcile the tail of the outcome log. Each trailing record is an
	// attempt whose result was durably logged but never checkpointed.
	lastSeq := snap.LastSeq
	tail, err := e.store.Outcomes(ctx, p.ID, lastSeq)
	if err != nil {
		return Snapshot{}, &EngineError{Code: "STORE_ERROR", Message: "failed to read outcome log", Cause: err}
	}
	for _, rec := range tail {
		var out Outcome
		if err := json.Unmarshal(rec.Payload, &out); err != nil {
			return Snapshot{}, &EngineError{Code: "LOG_CORRUPT",
				Message: fmt.Sprintf("outcome seq %d: %v", rec.Seq, err)}
		}
		step, ok := p.StepByID(out.StepID)
		if !ok {
			return Snapshot{}, &EngineError{Code: "LOG_CORRUPT",
				Message: "outcome references unknown step " + out.StepID}
		}
		if step.Kind == KindCompensation {
			continue
		}
		state.attempts[out.StepID] = out.Attempt
		state.costUsed += out.Cost
		if out.Succeeded() {
			state.status[out.StepID] = StepSucceeded
			state.outputs[out.StepID] = out.Result
		} else {
			// The interrupted run never applied a strategy; fold the
			// failure now the same way the live loop would have.
			c := Classify(&step, out.Attempt, out.Failure)
			switch c.Strategy {
			case StrategyRetry, StrategyBackoff:
				state.status[out.StepID] = StepPending
			case StrategyAlternate:
				state.activateAlternates(&step)
			case StrategyAbort:
				state.status[out.StepID] = StepFailed
				return e.abort(ctx, p, state, rec.Seq, c)
			}
		}
		lastSeq = rec.Seq
	}

	e.emitter.Emit(emit.Event{PlanID: p.ID, Seq: lastSeq, Msg: "plan_resume"})

	return e.runLoop(ctx, p, state, lastSeq)
}

// Cancel requests an abort of a running plan. The engine stops
// dispatching, runs compensation for completed effectful steps, and
// marks the plan Aborted. Cancelling an unknown or finished plan is a
// no-op returning false.
func (e *Engine) Cancel(planID string) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[planID]
	e.mu.Unlock()
	if ok {
		cancel(errCancelRequested)
	}
	return ok
}

func (e *Engine) track(planID string, cancel context.CancelCauseFunc) {
	e.mu.Lock()
	e.cancels[planID] = cancel
	e.mu.Unlock()
}

func (e *Engine) untrack(planID string) {
	e.mu.Lock()
	delete(e.cancels, planID)
	e.mu.Unlock()
}

// waveResult pairs a dispatched item with what happened to it.
type waveResult struct {
	item      WorkItem
	outcome   Outcome
	seq       int64 // log position of the appended outcome
	appendErr error // outcome could not be made durable
	err       error // non-nil only for run-level cancellation
}

func (e *Engine) runLoop(parent context.Context, p *Plan, state *execState, lastSeq int64) (Snapshot, error) {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	e.track(p.ID, cancel)
	defer e.untrack(p.ID)

	started := e.clock()
	baseElapsed := state.elapsed

	// Wall-clock budget counts across suspensions: elapsed time restored
	// from the checkpoint plus this session's runtime.
	var deadline time.Time
	if p.Budget.MaxWallClock > 0 {
		deadline = started.Add(p.Budget.MaxWallClock - baseElapsed)
	}

	var sleep time.Duration

	for {
		state.elapsed = baseElapsed + e.clock().Sub(started)

		// Backoff from the previous wave's transient failures.
		if sleep > 0 {
			timer := time.NewTimer(sleep)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
			sleep = 0
		}

		if err := ctx.Err(); err != nil {
			if context.Cause(ctx) == errCancelRequested {
				return e.abort(context.WithoutCancel(ctx), p, state, lastSeq, Classification{
					Class: ClassFatal, Strategy: StrategyAbort, Reason: "cancelled by request",
				})
			}
			return e.suspend(context.WithoutCancel(ctx), p, state, lastSeq)
		}

		if !deadline.IsZero() && !e.clock().Before(deadline) {
			return e.abortWithCause(ctx, p, state, lastSeq, Classification{
				Class: ClassFatal, Strategy: StrategyAbort,
				Reason: fmt.Sprintf("wall clock budget %s exceeded", p.Budget.MaxWallClock),
			}, ErrBudgetExceeded)
		}
		if p.Budget.MaxCostUnits > 0 && state.costUsed > p.Budget.MaxCostUnits {
			return e.abortWithCause(ctx, p, state, lastSeq, Classification{
				Class: ClassFatal, Strategy: StrategyAbort,
				Reason: fmt.Sprintf("cost budget %.4f exceeded (%.4f used)", p.Budget.MaxCostUnits, state.costUsed),
			}, ErrBudgetExceeded)
		}

		frontier := NewFrontier()
		for _, item := range state.ready() {
			frontier.Push(item)
		}
		e.metrics.UpdateReadyQueueDepth(frontier.Len())

		if frontier.Len() == 0 {
			// With no wave in flight, dependency statuses can no longer
			// change; the run is either complete or wedged.
			if _, ok := state.settled(); ok {
				return e.complete(ctx, p, state, lastSeq)
			}
			return e.stall(ctx, p, state, lastSeq)
		}

		results := e.dispatch(ctx, p, state, frontier.Drain(), deadline)

		var waveErr error
		foldSleep, seq, err := e.fold(ctx, p, state, results, &waveErr, lastSeq)
		if err != nil {
			return e.finishSnapshot(state), err
		}
		lastSeq = seq
		if foldSleep > sleep {
			sleep = foldSleep
		}

		state.elapsed = baseElapsed + e.clock().Sub(started)
		if _, err := e.checkpoint(ctx, state, StatusRunning, lastSeq); err != nil {
			return e.abortWithCause(context.WithoutCancel(ctx), p, state, lastSeq, Classification{
				Class: ClassFatal, Strategy: StrategyAbort,
				Reason: "checkpoint write failed: " + err.Error(),
			}, ErrCheckpointWrite)
		}

		// An abort decided during fold ends the run after the whole wave
		// was logged and checkpointed.
		if ab, ok := e.pendingAbort(state, results); ok {
			return e.abort(context.WithoutCancel(ctx), p, state, lastSeq, ab)
		}

		if waveErr != nil {
			if context.Cause(ctx) == errCancelRequested {
				lastSeq = e.logInterrupted(context.WithoutCancel(ctx), p, state, results, lastSeq)
				return e.abort(context.WithoutCancel(ctx), p, state, lastSeq, Classification{
					Class: ClassFatal, Strategy: StrategyAbort, Reason: "cancelled by request",
				})
			}
			// A wave interrupted by the wall-clock deadline rather than by
			// the caller is a budget exhaustion, not a suspension.
			if !deadline.IsZero() && !e.clock().Before(deadline) {
				lastSeq = e.logInterrupted(context.WithoutCancel(ctx), p, state, results, lastSeq)
				return e.abortWithCause(context.WithoutCancel(ctx), p, state, lastSeq, Classification{
					Class: ClassFatal, Strategy: StrategyAbort,
					Reason: "wall-clock budget exhausted mid-step",
				}, ErrBudgetExceeded)
			}
			return e.suspend(context.WithoutCancel(ctx), p, state, lastSeq)
		}
	}
}

// dispatch runs one wave: every item executes concurrently, bounded by
// maxConcurrent, and each finished attempt is appended to the log as it
// completes. The wave joins before any result is folded.
func (e *Engine) dispatch(ctx context.Context, p *Plan, state *execState, items []WorkItem, deadline time.Time) []waveResult {
	for _, item := range items {
		state.status[item.Step.ID] = StepRunning
	}
	e.metrics.UpdateInflightSteps(len(items))
	defer e.metrics.UpdateInflightSteps(0)

	results := make([]waveResult, len(items))
	sem := make(chan struct{}, e.maxConcurrent)
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(i int, item WorkItem) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			e.emitter.Emit(emit.Event{
				PlanID: p.ID, StepID: item.Step.ID, Attempt: item.Attempt,
				Msg: "step_start",
			})

			execCtx := ctx
			if !deadline.IsZero() {
				var cancel context.CancelFunc
				execCtx, cancel = context.WithDeadline(ctx, deadline)
				defer cancel()
			}

			out, err := e.exec.execute(execCtx, p.ID, item, state.outputs)
			r := waveResult{item: item, outcome: out, err: err}
			if err == nil {
				// Logged-effect attempts become durable the moment they
				// finish, not when the slowest wave sibling does. The
				// append must survive a concurrent cancellation.
				r.seq, r.appendErr = e.appendOutcome(context.WithoutCancel(ctx), p.ID, out)
			}
			results[i] = r
		}(i, item)
	}
	wg.Wait()
	return results
}

// fold applies wave results in OrderKey order: update state, classify
// failures, decide strategies. The outcomes themselves were appended by
// dispatch as they completed. Returns the backoff the next wave must
// honor and the new log position.
func (e *Engine) fold(ctx context.Context, p *Plan, state *execState, results []waveResult, waveErr *error, lastSeq int64) (time.Duration, int64, error) {
	var sleep time.Duration

	for _, r := range results {
		stepID := r.item.Step.ID

		if r.err != nil {
			// Interrupted attempt: nothing was logged, the step simply
			// returns to the pool for the resumed run.
			state.status[stepID] = StepPending
			*waveErr = r.err
			continue
		}

		if r.appendErr != nil {
			state.status[stepID] = StepPending
			return sleep, lastSeq, &EngineError{Code: "STORE_ERROR",
				Message: "failed to append outcome for " + stepID, Cause: r.appendErr}
		}
		// Seqs reflect completion order within the wave, so the highest
		// one wins rather than the last folded.
		if r.seq > lastSeq {
			lastSeq = r.seq
		}

		state.attempts[stepID] = r.item.Attempt
		state.costUsed += r.outcome.Cost

		status := "success"
		if r.outcome.Failure != nil {
			status = "error"
			if r.outcome.Failure.Code == FailTimeout {
				status = "timeout"
			}
		}
		e.metrics.RecordStepLatency(p.ID, stepID, r.outcome.Duration, status)

		if r.outcome.Succeeded() {
			state.status[stepID] = StepSucceeded
			state.outputs[stepID] = r.outcome.Result
			e.emitter.Emit(emit.Event{
				PlanID: p.ID, Seq: r.seq, StepID: stepID, Attempt: r.item.Attempt,
				Msg: "step_end",
				Meta: map[string]interface{}{
					"duration_ms": r.outcome.Duration.Milliseconds(),
					"cost":        r.outcome.Cost,
				},
			})
			continue
		}

		c := Classify(r.item.Step, r.item.Attempt, r.outcome.Failure)
		e.emitter.Emit(emit.Event{
			PlanID: p.ID, Seq: r.seq, StepID: stepID, Attempt: r.item.Attempt,
			Msg: "step_failed",
			Meta: map[string]interface{}{
				"error":    r.outcome.Failure.Message,
				"code":     r.outcome.Failure.Code,
				"class":    string(c.Class),
				"strategy": string(c.Strategy),
			},
		})

		switch c.Strategy {
		case StrategyRetry:
			state.status[stepID] = StepPending
			e.metrics.IncrementRetries(p.ID, stepID, r.outcome.Failure.Code)
		case StrategyBackoff:
			state.status[stepID] = StepPending
			e.metrics.IncrementRetries(p.ID, stepID, r.outcome.Failure.Code)
			if d := Backoff(r.item.Attempt, r.item.Step.Retry); d > sleep {
				sleep = d
			}
		case StrategyAlternate:
			state.activateAlternates(r.item.Step)
			e.emitter.Emit(emit.Event{
				PlanID: p.ID, Seq: r.seq, StepID: stepID,
				Msg:  "alternate_activated",
				Meta: map[string]interface{}{"alternates": r.item.Step.Alternates},
			})
		case StrategyAbort:
			state.status[stepID] = StepFailed
		}
	}
	return sleep, lastSeq, nil
}

// pendingAbort reports the first abort-strategy classification from the
// folded wave, in fold order.
func (e *Engine) pendingAbort(state *execState, results []waveResult) (Classification, bool) {
	for _, r := range results {
		if r.err != nil || r.outcome.Succeeded() {
			continue
		}
		c := Classify(r.item.Step, r.item.Attempt, r.outcome.Failure)
		if c.Strategy == StrategyAbort && state.status[r.item.Step.ID] == StepFailed {
			return c, true
		}
	}
	return Classification{}, false
}

// logInterrupted records a cancelled failure for every attempt the wave
// never finished, so an aborted run's log explains why those steps ended
// without a result. Suspended runs skip this: their interrupted steps stay
// pending and unlogged so a resumed run can retry them cleanly.
func (e *Engine) logInterrupted(ctx context.Context, p *Plan, state *execState, results []waveResult, lastSeq int64) int64 {
	for _, r := range results {
		if r.err == nil {
			continue
		}
		stepID := r.item.Step.ID
		out := Outcome{
			ID: newOutcomeID(), PlanID: p.ID, StepID: stepID,
			Attempt: r.item.Attempt, Timestamp: e.clock(),
			Failure: &Failure{Code: FailCancelled, Message: r.err.Error()},
		}
		state.status[stepID] = StepFailed
		state.attempts[stepID] = r.item.Attempt
		if seq, err := e.appendOutcome(ctx, p.ID, out); err == nil {
			lastSeq = seq
		}
	}
	return lastSeq
}

// appendOutcome writes one outcome record with bounded retries.
func (e *Engine) appendOutcome(ctx context.Context, planID string, out Outcome) (int64, error) {
	payload, err := json.Marshal(out)
	if err != nil {
		return 0, err
	}
	rec := store.OutcomeRecord{
		PlanID:    planID,
		OutcomeID: out.ID,
		StepID:    out.StepID,
		Attempt:   out.Attempt,
		Payload:   payload,
		CreatedAt: out.Timestamp,
	}

	var lastErr error
	for attempt := 0; attempt <= e.checkpointRetries; attempt++ {
		seq, err := e.store.AppendOutcome(ctx, rec)
		if err == nil {
			return seq, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

// checkpoint writes a snapshot with bounded retries. A persistent write
// failure is fatal for the run: without a durable frontier the engine
// cannot guarantee resumability.
func (e *Engine) checkpoint(ctx context.Context, state *execState, planStatus Status, lastSeq int64) (Snapshot, error) {
	snap := snapshotOf(state, planStatus, lastSeq, e.clock())
	payload, err := json.Marshal(snap)
	if err != nil {
		return snap, err
	}

	var lastErr error
	for attempt := 0; attempt <= e.checkpointRetries; attempt++ {
		seq, err := e.store.AppendCheckpoint(ctx, snap.PlanID, payload)
		if err == nil {
			e.metrics.IncrementCheckpointWrites(snap.PlanID, "ok")
			e.emitter.Emit(emit.Event{
				PlanID: snap.PlanID, Seq: lastSeq, Msg: "checkpoint",
				Meta: map[string]interface{}{"checkpoint_seq": seq},
			})
			return snap, nil
		}
		lastErr = err
		e.metrics.IncrementCheckpointWrites(snap.PlanID, "error")
	}
	return snap, fmt.Errorf("%w: %v", ErrCheckpointWrite, lastErr)
}

func (e *Engine) complete(ctx context.Context, p *Plan, state *execState, lastSeq int64) (Snapshot, error) {
	snap, err := e.checkpoint(ctx, state, StatusCompleted, lastSeq)
	if err != nil {
		return snap, &EngineError{Code: "CHECKPOINT_FAILED", Message: "final checkpoint failed", Cause: err}
	}
	if err := e.store.SetPlanStatus(ctx, p.ID, string(StatusCompleted)); err != nil {
		return snap, &EngineError{Code: "STORE_ERROR", Message: "failed to set plan status", Cause: err}
	}
	e.emitter.Emit(emit.Event{PlanID: p.ID, Seq: lastSeq, Msg: "plan_complete",
		Meta: map[string]interface{}{"cost": state.costUsed}})
	return snap, nil
}

func (e *Engine) suspend(ctx context.Context, p *Plan, state *execState, lastSeq int64) (Snapshot, error) {
	snap, err := e.checkpoint(ctx, state, StatusRunning, lastSeq)
	if err != nil {
		return snap, &EngineError{Code: "CHECKPOINT_FAILED", Message: "suspend checkpoint failed", Cause: err}
	}
	e.emitter.Emit(emit.Event{PlanID: p.ID, Seq: lastSeq, Msg: "plan_suspend"})
	return snap, fmt.Errorf("plan %s: %w", p.ID, ErrSuspended)
}

// stall ends a run whose remaining steps can never become ready, for
// example a dependency failed without alternates in a way the abort path
// did not cover. The plan goes to Failed without compensation; state is
// preserved for inspection.
func (e *Engine) stall(ctx context.Context, p *Plan, state *execState, lastSeq int64) (Snapshot, error) {
	snap, err := e.checkpoint(ctx, state, StatusFailed, lastSeq)
	if err != nil {
		return snap, &EngineError{Code: "CHECKPOINT_FAILED", Message: "checkpoint failed", Cause: err}
	}
	if err := e.store.SetPlanStatus(ctx, p.ID, string(StatusFailed)); err != nil {
		return snap, &EngineError{Code: "STORE_ERROR", Message: "failed to set plan status", Cause: err}
	}
	e.emitter.Emit(emit.Event{PlanID: p.ID, Seq: lastSeq, Msg: "plan_stalled"})
	return snap, fmt.Errorf("plan %s: %w", p.ID, ErrStalled)
}

// abort ends the run: compensation steps execute for every succeeded
// effectful step in reverse topological order, then the plan is marked
// Aborted.
func (e *Engine) abort(ctx context.Context, p *Plan, state *execState, lastSeq int64, cause Classification) (Snapshot, error) {
	return e.abortWithCause(ctx, p, state, lastSeq, cause, nil)
}

// abortWithCause is abort with a sentinel error callers can match with
// errors.Is, e.g. ErrBudgetExceeded.
func (e *Engine) abortWithCause(ctx context.Context, p *Plan, state *execState, lastSeq int64, cause Classification, sentinel error) (Snapshot, error) {
	e.metrics.IncrementAborts(p.ID, string(cause.Class))
	e.emitter.Emit(emit.Event{
		PlanID: p.ID, Seq: lastSeq, StepID: cause.StepID, Msg: "plan_abort",
		Meta: map[string]interface{}{
			"class":  string(cause.Class),
			"reason": cause.Reason,
		},
	})

	lastSeq = e.compensate(ctx, p, state, lastSeq)

	snap, err := e.checkpoint(ctx, state, StatusAborted, lastSeq)
	if err != nil {
		return snap, &EngineError{Code: "CHECKPOINT_FAILED", Message: "abort checkpoint failed", Cause: err}
	}
	if err := e.store.SetPlanStatus(ctx, p.ID, string(StatusAborted)); err != nil {
		return snap, &EngineError{Code: "STORE_ERROR", Message: "failed to set plan status", Cause: err}
	}

	return snap, &EngineError{
		Code:    "PLAN_ABORTED",
		Message: fmt.Sprintf("plan aborted (%s): %s", cause.Class, cause.Reason),
		Cause:   sentinel,
	}
}

// compensate runs the declared compensation step for every succeeded
// effectful step, newest first. Compensations execute sequentially so an
// undo never races the undo of something it depended on. Failures are
// logged and skipped; compensation is best effort.
func (e *Engine) compensate(ctx context.Context, p *Plan, state *execState, lastSeq int64) int64 {
	for i := len(p.Steps) - 1; i >= 0; i-- {
		step := &p.Steps[i]
		if state.status[step.ID] != StepSucceeded || step.CompensatedBy == "" {
			continue
		}
		comp, ok := p.StepByID(step.CompensatedBy)
		if !ok {
			continue
		}

		item := WorkItem{
			OrderKey: p.StepIndex(comp.ID),
			Step:     &comp,
			Attempt:  state.attempts[comp.ID] + 1,
		}
		e.emitter.Emit(emit.Event{
			PlanID: p.ID, StepID: comp.ID, Attempt: item.Attempt,
			Msg:  "compensation_start",
			Meta: map[string]interface{}{"compensates": step.ID},
		})

		out, err := e.exec.execute(ctx, p.ID, item, state.outputs)
		if err != nil {
			// The surrounding context is uncancellable here; treat this
			// as a failed compensation.
			out = Outcome{
				ID: newOutcomeID(), PlanID: p.ID, StepID: comp.ID,
				Attempt: item.Attempt, Timestamp: e.clock(),
				Failure: &Failure{Code: FailCancelled, Message: err.Error()},
			}
		}
		state.attempts[comp.ID] = item.Attempt
		state.costUsed += out.Cost

		if seq, err := e.appendOutcome(ctx, p.ID, out); err == nil {
			lastSeq = seq
		}

		if out.Succeeded() {
			state.status[comp.ID] = StepSucceeded
			state.status[step.ID] = StepCompensated
			e.metrics.IncrementCompensations(p.ID)
			e.emitter.Emit(emit.Event{
				PlanID: p.ID, Seq: lastSeq, StepID: comp.ID, Msg: "compensation_end",
				Meta: map[string]interface{}{"compensates": step.ID},
			})
		} else {
			state.status[comp.ID] = StepFailed
			e.emitter.Emit(emit.Event{
				PlanID: p.ID, Seq: lastSeq, StepID: comp.ID, Msg: "compensation_failed",
				Meta: map[string]interface{}{
					"compensates": step.ID,
					"error":       out.Failure.Message,
				},
			})
		}
	}
	return lastSeq
}

// finishSnapshot builds a snapshot for error returns that happen before
// a checkpoint could be written.
func (e *Engine) finishSnapshot(state *execState) Snapshot {
	return snapshotOf(state, StatusRunning, 0, e.clock())
}
