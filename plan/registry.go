package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/planrun/plan/store"
)

// Registry tracks the plans an Engine is running and gives callers a
// handle-based view: start a plan in the background, poll its durable
// status, read its log, cancel it, wait for it.
//
// Example:
//
//	reg := plan.NewRegistry(eng, st)
//	if err := reg.Start(ctx, p); err != nil { ... }
//	snap, err := reg.Wait(p.ID)
type Registry struct {
	eng *Engine
	st  store.Store

	mu   sync.Mutex
	runs map[string]*runHandle
}

type runHandle struct {
	done chan struct{}
	snap Snapshot
	err  error
}

// NewRegistry creates a registry over an engine and its store.
func NewRegistry(eng *Engine, st store.Store) *Registry {
	return &Registry{
		eng:  eng,
		st:   st,
		runs: make(map[string]*runHandle),
	}
}

// Start launches a plan in the background. It returns an error if the
// plan is already running in this registry.
func (r *Registry) Start(ctx context.Context, p *Plan) error {
	return r.launch(ctx, p, r.eng.Run)
}

// Resume launches a resumed plan in the background.
func (r *Registry) Resume(ctx context.Context, p *Plan) error {
	return r.launch(ctx, p, r.eng.Resume)
}

func (r *Registry) launch(ctx context.Context, p *Plan, run func(context.Context, *Plan) (Snapshot, error)) error {
	r.mu.Lock()
	if h, ok := r.runs[p.ID]; ok {
		select {
		case <-h.done:
			// Finished earlier run; replace the handle.
		default:
			r.mu.Unlock()
			return fmt.Errorf("plan %s is already running", p.ID)
		}
	}
	h := &runHandle{done: make(chan struct{})}
	r.runs[p.ID] = h
	r.mu.Unlock()

	go func() {
		h.snap, h.err = run(ctx, p)
		close(h.done)
	}()
	return nil
}

// Wait blocks until the named plan's run finishes and returns its final
// snapshot and error.
func (r *Registry) Wait(planID string) (Snapshot, error) {
	r.mu.Lock()
	h, ok := r.runs[planID]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	<-h.done
	return h.snap, h.err
}

// Status reads the plan's durable status from the store. This reflects
// what a restarted process would see, not in-memory progress.
func (r *Registry) Status(ctx context.Context, planID string) (Status, error) {
	rec, err := r.st.LoadPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
		}
		return "", err
	}
	return Status(rec.Status), nil
}

// Cancel requests an abort of a running plan.
func (r *Registry) Cancel(planID string) bool {
	return r.eng.Cancel(planID)
}

// StepLog returns the decoded append-only outcome log for a plan in
// sequence order.
func (r *Registry) StepLog(ctx context.Context, planID string) ([]Outcome, error) {
	recs, err := r.st.Outcomes(ctx, planID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Outcome, 0, len(recs))
	for _, rec := range recs {
		var o Outcome
		if err := json.Unmarshal(rec.Payload, &o); err != nil {
			return nil, fmt.Errorf("outcome seq %d undecodable: %w", rec.Seq, err)
		}
		out = append(out, o)
	}
	return out, nil
}

// Snapshot returns the latest durable checkpoint for a plan.
func (r *Registry) Snapshot(ctx context.Context, planID string) (Snapshot, error) {
	cp, err := r.st.LatestCheckpoint(ctx, planID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
		}
		return Snapshot{}, err
	}
	return decodeSnapshot(cp.Snapshot)
}

// Close cancels every running plan and waits for all of them to settle.
func (r *Registry) Close() {
	r.mu.Lock()
	handles := make(map[string]*runHandle, len(r.runs))
	for id, h := range r.runs {
		handles[id] = h
	}
	r.mu.Unlock()

	for id := range handles {
		r.eng.Cancel(id)
	}
	for _, h := range handles {
		<-h.done
	}
}
