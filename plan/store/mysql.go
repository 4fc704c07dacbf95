package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// It keeps plans, the append-only outcome log, and checkpoints in a
// relational database. Designed for:
//   - production deployments requiring persistence
//   - multiple engine processes sharing one log
//   - long-running plans that survive process restarts
//   - audit trails and compliance requirements
//
// MySQLStore uses connection pooling and wraps every append in a
// transaction with a row lock on the plan's current maximum sequence,
// so concurrent writers assign disjoint sequence numbers.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
//
// Example DSNs:
//
//	user:password@tcp(localhost:3306)/plans
//	user:password@tcp(127.0.0.1:3306)/plans?parseTime=true
//
// Security Warning:
//
//	NEVER hardcode credentials in your source code. Use environment variables:
//	    dsn := os.Getenv("MYSQL_DSN")
//	    if dsn == "" {
//	        log.Fatal("MYSQL_DSN environment variable not set")
//	    }
//	    store, err := NewMySQLStore(dsn)
//
// The store automatically:
//   - creates required tables if they don't exist
//   - configures connection pooling
//   - sets appropriate timeouts
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS plans (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			version INT NOT NULL,
			spec JSON NOT NULL,
			status VARCHAR(32) NOT NULL,
			created_at TIMESTAMP(6) NOT NULL
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS step_outcomes (
			plan_id VARCHAR(64) NOT NULL,
			seq BIGINT NOT NULL,
			outcome_id VARCHAR(64) NOT NULL,
			step_id VARCHAR(255) NOT NULL,
			attempt INT NOT NULL,
			payload JSON NOT NULL,
			created_at TIMESTAMP(6) DEFAULT CURRENT_TIMESTAMP(6),
			PRIMARY KEY (plan_id, seq),
			KEY idx_outcomes_step (plan_id, step_id, attempt),
			CONSTRAINT fk_outcomes_plan FOREIGN KEY (plan_id)
				REFERENCES plans(id) ON DELETE CASCADE
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			plan_id VARCHAR(64) NOT NULL,
			seq BIGINT NOT NULL,
			snapshot JSON NOT NULL,
			created_at TIMESTAMP(6) DEFAULT CURRENT_TIMESTAMP(6),
			PRIMARY KEY (plan_id, seq),
			CONSTRAINT fk_checkpoints_plan FOREIGN KEY (plan_id)
				REFERENCES plans(id) ON DELETE CASCADE
		) ENGINE=InnoDB`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *MySQLStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// SavePlan inserts or replaces the plan record.
func (s *MySQLStore) SavePlan(ctx context.Context, rec PlanRecord) error {
	if err := s.guard(); err != nil {
		return err
	}
	query := `
		INSERT INTO plans (id, version, spec, status, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			version = VALUES(version),
			spec = VALUES(spec),
			status = VALUES(status)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Version, string(rec.Spec), rec.Status, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

// LoadPlan returns the plan record, or ErrNotFound.
func (s *MySQLStore) LoadPlan(ctx context.Context, planID string) (PlanRecord, error) {
	if err := s.guard(); err != nil {
		return PlanRecord{}, err
	}
	query := `SELECT id, version, spec, status, created_at FROM plans WHERE id = ?`
	var (
		rec  PlanRecord
		spec string
	)
	err := s.db.QueryRowContext(ctx, query, planID).Scan(&rec.ID, &rec.Version, &spec, &rec.Status, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return PlanRecord{}, ErrNotFound
	}
	if err != nil {
		return PlanRecord{}, fmt.Errorf("failed to load plan: %w", err)
	}
	rec.Spec = json.RawMessage(spec)
	return rec, nil
}

// SetPlanStatus updates the durable plan status.
func (s *MySQLStore) SetPlanStatus(ctx context.Context, planID, status string) error {
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

// AppendOutcome appends one outcome record. The sequence assignment uses
// FOR UPDATE to serialize against other writers on the same plan.
func (s *MySQLStore) AppendOutcome(ctx context.Context, rec OutcomeRecord) (int64, error) {
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
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM step_outcomes WHERE plan_id = ? FOR UPDATE`,
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
func (s *MySQLStore) Outcomes(ctx context.Context, planID string, afterSeq int64) ([]OutcomeRecord, error) {
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

// AppendCheckpoint durably records a snapshot with the next per-plan
// sequence number.
func (s *MySQLStore) AppendCheckpoint(ctx context.Context, planID string, snapshot json.RawMessage) (int64, error) {
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
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE plan_id = ? FOR UPDATE`,
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
func (s *MySQLStore) LatestCheckpoint(ctx context.Context, planID string) (CheckpointRecord, error) {
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
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *MySQLStore) Ping(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}
