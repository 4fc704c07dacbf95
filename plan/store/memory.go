package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemStore is an in-memory Store for testing and prototyping.
//
// All records are deep-copied on write and read so callers cannot mutate
// stored state. Sequence numbers are assigned under the store mutex, so
// concurrent appends serialize exactly as the interface requires.
//
// Data is lost when the process exits; use SQLiteStore or MySQLStore for
// crash-safe persistence.
type MemStore struct {
	mu          sync.RWMutex
	plans       map[string]PlanRecord
	outcomes    map[string][]OutcomeRecord
	checkpoints map[string][]CheckpointRecord
	outcomeSeq  map[string]int64
	cpSeq       map[string]int64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		plans:       make(map[string]PlanRecord),
		outcomes:    make(map[string][]OutcomeRecord),
		checkpoints: make(map[string][]CheckpointRecord),
		outcomeSeq:  make(map[string]int64),
		cpSeq:       make(map[string]int64),
	}
}

// SavePlan inserts or replaces the plan record.
func (m *MemStore) SavePlan(_ context.Context, rec PlanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Spec = cloneRaw(rec.Spec)
	m.plans[rec.ID] = rec
	return nil
}

// LoadPlan returns the plan record, or ErrNotFound.
func (m *MemStore) LoadPlan(_ context.Context, planID string) (PlanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.plans[planID]
	if !ok {
		return PlanRecord{}, ErrNotFound
	}
	rec.Spec = cloneRaw(rec.Spec)
	return rec, nil
}

// SetPlanStatus updates the durable plan status.
func (m *MemStore) SetPlanStatus(_ context.Context, planID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.plans[planID]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	m.plans[planID] = rec
	return nil
}

// AppendOutcome appends one outcome record, assigning the next per-plan
// sequence number.
func (m *MemStore) AppendOutcome(_ context.Context, rec OutcomeRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomeSeq[rec.PlanID]++
	rec.Seq = m.outcomeSeq[rec.PlanID]
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Payload = cloneRaw(rec.Payload)
	m.outcomes[rec.PlanID] = append(m.outcomes[rec.PlanID], rec)
	return rec.Seq, nil
}

// Outcomes returns records with Seq > afterSeq in ascending order.
func (m *MemStore) Outcomes(_ context.Context, planID string, afterSeq int64) ([]OutcomeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []OutcomeRecord
	for _, rec := range m.outcomes[planID] {
		if rec.Seq <= afterSeq {
			continue
		}
		rec.Payload = cloneRaw(rec.Payload)
		out = append(out, rec)
	}
	return out, nil
}

// AppendCheckpoint records a snapshot with the next per-plan sequence
// number.
func (m *MemStore) AppendCheckpoint(_ context.Context, planID string, snapshot json.RawMessage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cpSeq[planID]++
	rec := CheckpointRecord{
		Seq:       m.cpSeq[planID],
		PlanID:    planID,
		Snapshot:  cloneRaw(snapshot),
		CreatedAt: time.Now().UTC(),
	}
	m.checkpoints[planID] = append(m.checkpoints[planID], rec)
	return rec.Seq, nil
}

// LatestCheckpoint returns the checkpoint with the maximum Seq.
func (m *MemStore) LatestCheckpoint(_ context.Context, planID string) (CheckpointRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cps := m.checkpoints[planID]
	if len(cps) == 0 {
		return CheckpointRecord{}, ErrNotFound
	}
	rec := cps[len(cps)-1]
	rec.Snapshot = cloneRaw(rec.Snapshot)
	return rec, nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error { return nil }

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}
