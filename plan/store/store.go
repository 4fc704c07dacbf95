// Package store provides persistence for plan state, the append-only step
// outcome log, and durable checkpoints.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested plan, checkpoint, or record does
// not exist.
var ErrNotFound = errors.New("not found")

// PlanRecord is the persisted form of a plan. Spec holds the serialized
// plan topology; Status is the latest durable plan status.
type PlanRecord struct {
	ID        string
	Version   int
	Spec      json.RawMessage
	Status    string
	CreatedAt time.Time
}

// OutcomeRecord is one entry in the append-only step outcome log. Seq is
// assigned by the store on append and increases monotonically per plan.
type OutcomeRecord struct {
	Seq       int64
	PlanID    string
	OutcomeID string
	StepID    string
	Attempt   int
	Payload   json.RawMessage
	CreatedAt time.Time
}

// CheckpointRecord is a durable snapshot of engine state. Snapshots for a
// plan are totally ordered by Seq; resume always starts from the maximum
// persisted Seq.
type CheckpointRecord struct {
	Seq       int64
	PlanID    string
	Snapshot  json.RawMessage
	CreatedAt time.Time
}

// Store persists plans, outcomes, and checkpoints.
//
// Implementations must make each append its own atomic transaction: after a
// crash a checkpoint or outcome is either fully present or absent, never
// partial. Concurrent appends for the same plan must serialize so sequence
// numbers never collide.
//
// Backends provided:
//   - MemStore: in-memory, for tests and prototyping
//   - SQLiteStore: single-file durable storage (modernc.org/sqlite)
//   - MySQLStore: shared-server durable storage (go-sql-driver/mysql)
type Store interface {
	// SavePlan inserts or replaces the plan record.
	SavePlan(ctx context.Context, rec PlanRecord) error

	// LoadPlan returns the plan record, or ErrNotFound.
	LoadPlan(ctx context.Context, planID string) (PlanRecord, error)

	// SetPlanStatus updates the durable plan status. Status queries read
	// this value, never engine memory.
	SetPlanStatus(ctx context.Context, planID, status string) error

	// AppendOutcome appends one outcome record and returns its assigned
	// sequence number. Outcome records are immutable once written.
	AppendOutcome(ctx context.Context, rec OutcomeRecord) (int64, error)

	// Outcomes returns the plan's outcome records with Seq > afterSeq, in
	// ascending Seq order. afterSeq = 0 scans the full log.
	Outcomes(ctx context.Context, planID string, afterSeq int64) ([]OutcomeRecord, error)

	// AppendCheckpoint durably records a snapshot and returns its per-plan
	// sequence number. The write is atomic with respect to process crash.
	AppendCheckpoint(ctx context.Context, planID string, snapshot json.RawMessage) (int64, error)

	// LatestCheckpoint returns the checkpoint with the maximum Seq for the
	// plan, or ErrNotFound if none exists.
	LatestCheckpoint(ctx context.Context, planID string) (CheckpointRecord, error)

	// Close releases backend resources.
	Close() error
}
