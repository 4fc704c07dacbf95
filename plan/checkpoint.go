package plan

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Snapshot is the durable image of a run written after every fold.
//
// A snapshot plus the plan definition is sufficient to resume: it pins
// every step's status, attempt counts, accumulated outputs, which
// alternates are live, and the budget already consumed. Snapshots are
// written atomically with a monotone per-plan sequence, so the latest
// one is always a consistent frontier.
type Snapshot struct {
	PlanID     string                `json:"plan_id"`
	Version    int                   `json:"version"`
	PlanStatus Status                `json:"plan_status"`
	Steps      map[string]StepStatus `json:"steps"`
	Attempts   map[string]int        `json:"attempts"`
	Outputs    Outputs               `json:"outputs,omitempty"`
	Active     []string              `json:"active_alternates,omitempty"`

	// LastSeq is the outcome-log sequence folded into this snapshot.
	// Resume replays log entries after it to reconcile work that
	// completed between the snapshot and the crash.
	LastSeq   int64     `json:"last_seq"`
	CostUsed  float64   `json:"cost_used"`
	ElapsedMS int64     `json:"elapsed_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// snapshotOf captures the current execution state.
func snapshotOf(s *execState, planStatus Status, lastSeq int64, now time.Time) Snapshot {
	snap := Snapshot{
		PlanID:     s.plan.ID,
		Version:    s.plan.Version,
		PlanStatus: planStatus,
		Steps:      make(map[string]StepStatus, len(s.status)),
		Attempts:   make(map[string]int, len(s.attempts)),
		Outputs:    make(Outputs, len(s.outputs)),
		LastSeq:    lastSeq,
		CostUsed:   s.costUsed,
		ElapsedMS:  s.elapsed.Milliseconds(),
		Timestamp:  now,
	}
	for id, st := range s.status {
		snap.Steps[id] = st
	}
	for id, n := range s.attempts {
		snap.Attempts[id] = n
	}
	for id, out := range s.outputs {
		snap.Outputs[id] = append(json.RawMessage(nil), out...)
	}
	for id, on := range s.active {
		if on {
			snap.Active = append(snap.Active, id)
		}
	}
	sort.Strings(snap.Active)
	return snap
}

// restoreExecState rebuilds execution state from a snapshot.
//
// In-flight work is reconciled conservatively: a step recorded as
// Running or Ready was interrupted mid-attempt, so it returns to Pending
// and will be re-dispatched. Side effects of the interrupted attempt are
// the tool's idempotency problem; the engine guarantees the attempt
// counter still advances.
func restoreExecState(p *Plan, snap Snapshot) (*execState, error) {
	if snap.PlanID != p.ID {
		return nil, fmt.Errorf("snapshot is for plan %s, not %s", snap.PlanID, p.ID)
	}
	if snap.Version != p.Version {
		return nil, fmt.Errorf("snapshot is for plan version %d, not %d", snap.Version, p.Version)
	}

	s := newExecState(p)
	for id, st := range snap.Steps {
		if p.StepIndex(id) < 0 {
			return nil, fmt.Errorf("snapshot references unknown step %q", id)
		}
		if st == StepRunning || st == StepReady {
			st = StepPending
		}
		s.status[id] = st
	}
	for id, n := range snap.Attempts {
		s.attempts[id] = n
	}
	for id, out := range snap.Outputs {
		s.outputs[id] = append(json.RawMessage(nil), out...)
	}
	for _, id := range snap.Active {
		s.active[id] = true
	}
	s.costUsed = snap.CostUsed
	s.elapsed = time.Duration(snap.ElapsedMS) * time.Millisecond
	return s, nil
}

// decodeSnapshot parses a stored snapshot payload.
func decodeSnapshot(raw json.RawMessage) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("corrupt checkpoint snapshot: %w", err)
	}
	return snap, nil
}
