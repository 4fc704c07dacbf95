package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It keeps a plan's full execution history in a single-file database:
// plans, the append-only outcome log, and checkpoints, with foreign-key
// cascade from a plan to its dependent rows.
//
// Designed for single-process engines:
//   - zero-setup durable storage (one file, auto-migrated)
//   - WAL mode so status queries don't block the engine's append path
//   - each append runs in its own transaction, so a crash leaves either a
//     fully durable record or none at all
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed store at path.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT NOT NULL PRIMARY KEY,
			version INTEGER NOT NULL,
			spec TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS step_outcomes (
			plan_id TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			outcome_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			payload TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (plan_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_step ON step_outcomes(plan_id, step_id, attempt)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			plan_id TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			snapshot TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (plan_id, seq)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// SavePlan inserts or replaces the plan record.
func (s *SQLiteStore) SavePlan(ctx context.Context, rec PlanRecord) error {
	if err := s.guard(); err != nil {
		return err
	}
	query := `
		INSERT INTO plans (id, version, spec, status, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			spec = excluded.spec,
			status = excluded.status
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Version, string(rec.Spec), rec.Status,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

// LoadPlan returns the plan record, or ErrNotFound.
func (s *SQLiteStore) LoadPlan(ctx context.Context, planID string) (PlanRecord, error) {
	if err := s.guard(); err != nil {
		return PlanRecord{}, err
	}
	query := `SELECT id, version, spec, status, created_at FROM plans WHERE id = ?`
	var (
		rec       PlanRecord
		spec      string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, query, planID).Scan(&rec.ID, &rec.Version, &spec, &rec.Status, &createdAt)
	if err == sql.ErrNoRows {
		return PlanRecord{}, ErrNotFound
	}
	if err != nil {
		return PlanRecord{}, fmt.Errorf("failed to load plan: %w", err)
	}
	rec.Spec = json.RawMessage(spec)
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return PlanRecord{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return rec, nil
}

// SetPlanStatus updates the durable plan status.
func (s *SQLiteStore) SetPlanStatus(ctx context.Context, planID, status string) error {
	if err := s.guard(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE plans SET status = ? WHERE id = ?`, status, planID)
	if err != nil {
		return fmt.Errorf("failed to set plan status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendOutcome appends one outcome record in its own transaction. The
// next sequence number is computed and the row inserted atomically, so
// concurrent completions cannot interleave partial writes.
func (s *SQLiteStore) AppendOutcome(ctx context.Context, rec OutcomeRecord) (int64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var seq int64
	if err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM step_outcomes WHERE plan_id = ?`,
		rec.PlanID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to assign outcome seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO step_outcomes (plan_id, seq, outcome_id, step_id, attempt, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.PlanID, seq, rec.OutcomeID, rec.StepID, rec.Attempt, string(rec.Payload))
	if err != nil {
		return 0, fmt.Errorf("failed to append outcome: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit outcome: %w", err)
	}
	return seq, nil
}

// Outcomes returns records with Seq > afterSeq in ascending order.
func (s *SQLiteStore) Outcomes(ctx context.Context, planID string, afterSeq int64) ([]OutcomeRecord, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	query := `
		SELECT seq, outcome_id, step_id, attempt, payload
		FROM step_outcomes
		WHERE plan_id = ? AND seq > ?
		ORDER BY seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, planID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []OutcomeRecord
	for rows.Next() {
		rec := OutcomeRecord{PlanID: planID}
		var payload string
		if err := rows.Scan(&rec.Seq, &rec.OutcomeID, &rec.StepID, &rec.Attempt, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}
		rec.Payload = json.RawMessage(payload)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcome rows: %w", err)
	}
	return out, nil
}

// AppendCheckpoint durably records a snapshot. The sequence assignment and
// insert share one transaction: on restart a checkpoint is either fully
// observable or absent.
func (s *SQLiteStore) AppendCheckpoint(ctx context.Context, planID string, snapshot json.RawMessage) (int64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var seq int64
	if err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE plan_id = ?`,
		planID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to assign checkpoint seq: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoints (plan_id, seq, snapshot) VALUES (?, ?, ?)`,
		planID, seq, string(snapshot))
	if err != nil {
		return 0, fmt.Errorf("failed to append checkpoint: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return seq, nil
}

// LatestCheckpoint returns the checkpoint with the maximum Seq.
func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, planID string) (CheckpointRecord, error) {
	if err := s.guard(); err != nil {
		return CheckpointRecord{}, err
	}
	query := `
		SELECT seq, snapshot
		FROM checkpoints
		WHERE plan_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`
	rec := CheckpointRecord{PlanID: planID}
	var snapshot string
	err := s.db.QueryRowContext(ctx, query, planID).Scan(&rec.Seq, &snapshot)
	if err == sql.ErrNoRows {
		return CheckpointRecord{}, ErrNotFound
	}
	if err != nil {
		return CheckpointRecord{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	rec.Snapshot = json.RawMessage(snapshot)
	return rec, nil
}

// Close closes the database connection. Safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}
