package plan

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dshills/planrun/plan/store"
)

// Transition records one step status change derived from the outcome
// log during replay.
type Transition struct {
	Seq     int64      `json:"seq"`
	StepID  string     `json:"step_id"`
	Attempt int        `json:"attempt"`
	From    StepStatus `json:"from"`
	To      StepStatus `json:"to"`
}

// Trace is the reconstruction of a run from its append-only outcome log.
//
// Replaying the same log always yields the same trace: the fold applies
// the engine's own classification rules to each logged outcome in
// sequence order, with no re-execution of tools or models.
type Trace struct {
	PlanID string `json:"plan_id"`

	// Transitions lists every step status change in log order.
	Transitions []Transition `json:"transitions"`

	// StepStatus is each step's final status after the full log.
	StepStatus map[string]StepStatus `json:"step_status"`

	// Final is the plan status implied by the log. StatusRunning means
	// the log ends mid-run (truncated tail); the run is resumable, not
	// corrupt.
	Final Status `json:"final"`

	// Classifications records how each logged failure was classified.
	Classifications []Classification `json:"classifications,omitempty"`

	// CostUsed is the total cost units recorded in the log.
	CostUsed float64 `json:"cost_used"`
}

// Replay reconstructs a run's trace from the store without executing
// anything.
//
// The caller supplies the plan definition the log was produced against.
// Interior gaps in the sequence return ErrIncompleteLog: the log can end
// early (a crash truncates the tail) but can never skip an entry in the
// middle.
func Replay(ctx context.Context, st store.Store, p *Plan) (*Trace, error) {
	recs, err := st.Outcomes(ctx, p.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read outcome log: %w", err)
	}

	trace := &Trace{
		PlanID:     p.ID,
		StepStatus: make(map[string]StepStatus, len(p.Steps)),
	}
	state := newExecState(p)

	aborted := false
	var wantSeq int64 = 1
	for _, rec := range recs {
		if rec.Seq != wantSeq {
			return nil, fmt.Errorf("%w: expected seq %d, found %d", ErrIncompleteLog, wantSeq, rec.Seq)
		}
		wantSeq++

		var out Outcome
		if err := json.Unmarshal(rec.Payload, &out); err != nil {
			return nil, fmt.Errorf("%w: seq %d undecodable: %v", ErrIncompleteLog, rec.Seq, err)
		}
		step, ok := p.StepByID(out.StepID)
		if !ok {
			return nil, fmt.Errorf("%w: seq %d references unknown step %q", ErrIncompleteLog, rec.Seq, out.StepID)
		}

		from := state.status[out.StepID]
		state.attempts[out.StepID] = out.Attempt
		state.costUsed += out.Cost

		if out.Succeeded() {
			state.status[out.StepID] = StepSucceeded
			state.outputs[out.StepID] = out.Result
			if step.Kind == KindCompensation {
				// A successful compensation flips its target step.
				for i := range p.Steps {
					if p.Steps[i].CompensatedBy == step.ID && state.status[p.Steps[i].ID] == StepSucceeded {
						trace.Transitions = append(trace.Transitions, Transition{
							Seq: rec.Seq, StepID: p.Steps[i].ID,
							From: StepSucceeded, To: StepCompensated,
						})
						state.status[p.Steps[i].ID] = StepCompensated
					}
				}
				aborted = true
			}
		} else {
			c := Classify(&step, out.Attempt, out.Failure)
			trace.Classifications = append(trace.Classifications, c)
			switch c.Strategy {
			case StrategyRetry, StrategyBackoff:
				state.status[out.StepID] = StepPending
			case StrategyAlternate:
				state.activateAlternates(&step)
			case StrategyAbort:
				state.status[out.StepID] = StepFailed
				if step.Kind != KindCompensation {
					aborted = true
				}
			}
		}

		trace.Transitions = append(trace.Transitions, Transition{
			Seq: rec.Seq, StepID: out.StepID, Attempt: out.Attempt,
			From: from, To: state.status[out.StepID],
		})
	}

	for id, st := range state.status {
		trace.StepStatus[id] = st
	}
	trace.CostUsed = state.costUsed

	switch {
	case aborted:
		trace.Final = StatusAborted
	default:
		if done, ok := state.settled(); done && ok {
			trace.Final = StatusCompleted
		} else {
			trace.Final = StatusRunning
		}
	}
	return trace, nil
}
