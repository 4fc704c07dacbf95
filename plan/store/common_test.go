package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

// testPlanRecord builds a minimal plan record for store tests.
func testPlanRecord(id string) PlanRecord {
	return PlanRecord{
		ID:        id,
		Version:   1,
		Spec:      json.RawMessage(`{"id":"` + id + `","steps":[]}`),
		Status:    "running",
		CreatedAt: time.Now().UTC(),
	}
}

// runStoreSuite exercises the Store contract against any backend. Both
// MemStore and SQLiteStore run it; MySQLStore runs it behind a build tag
// since it needs a live server.
func runStoreSuite(t *testing.T, st Store) {
	ctx := context.Background()

	t.Run("save and load plan", func(t *testing.T) {
		rec := testPlanRecord("plan-1")
		if err := st.SavePlan(ctx, rec); err != nil {
			t.Fatalf("SavePlan failed: %v", err)
		}

		got, err := st.LoadPlan(ctx, "plan-1")
		if err != nil {
			t.Fatalf("LoadPlan failed: %v", err)
		}
		if got.ID != "plan-1" || got.Version != 1 || got.Status != "running" {
			t.Errorf("loaded record mismatch: %+v", got)
		}
		if string(got.Spec) != string(rec.Spec) {
			t.Errorf("spec round trip changed: %s", got.Spec)
		}
	})

	t.Run("load missing plan returns ErrNotFound", func(t *testing.T) {
		_, err := st.LoadPlan(ctx, "no-such-plan")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("save plan upserts", func(t *testing.T) {
		rec := testPlanRecord("plan-1")
		rec.Version = 2
		if err := st.SavePlan(ctx, rec); err != nil {
			t.Fatalf("SavePlan (upsert) failed: %v", err)
		}
		got, err := st.LoadPlan(ctx, "plan-1")
		if err != nil {
			t.Fatalf("LoadPlan failed: %v", err)
		}
		if got.Version != 2 {
			t.Errorf("expected version 2 after upsert, got %d", got.Version)
		}
	})

	t.Run("set plan status", func(t *testing.T) {
		if err := st.SetPlanStatus(ctx, "plan-1", "completed"); err != nil {
			t.Fatalf("SetPlanStatus failed: %v", err)
		}
		got, _ := st.LoadPlan(ctx, "plan-1")
		if got.Status != "completed" {
			t.Errorf("status = %q, want completed", got.Status)
		}

		if err := st.SetPlanStatus(ctx, "no-such-plan", "completed"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown plan, got %v", err)
		}
	})

	t.Run("outcome sequence is monotonic per plan", func(t *testing.T) {
		_ = st.SavePlan(ctx, testPlanRecord("plan-seq"))
		_ = st.SavePlan(ctx, testPlanRecord("plan-other"))

		for i := 1; i <= 3; i++ {
			seq, err := st.AppendOutcome(ctx, OutcomeRecord{
				PlanID:    "plan-seq",
				OutcomeID: fmt.Sprintf("out-%d", i),
				StepID:    "step-a",
				Attempt:   i,
				Payload:   json.RawMessage(`{"ok":true}`),
			})
			if err != nil {
				t.Fatalf("AppendOutcome %d failed: %v", i, err)
			}
			if seq != int64(i) {
				t.Errorf("AppendOutcome %d assigned seq %d", i, seq)
			}
		}

		// A different plan starts its own sequence.
		seq, err := st.AppendOutcome(ctx, OutcomeRecord{
			PlanID:    "plan-other",
			OutcomeID: "out-x",
			StepID:    "step-a",
			Attempt:   1,
			Payload:   json.RawMessage(`{}`),
		})
		if err != nil {
			t.Fatalf("AppendOutcome for second plan failed: %v", err)
		}
		if seq != 1 {
			t.Errorf("second plan first seq = %d, want 1", seq)
		}
	})

	t.Run("outcomes scan from afterSeq", func(t *testing.T) {
		all, err := st.Outcomes(ctx, "plan-seq", 0)
		if err != nil {
			t.Fatalf("Outcomes failed: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 outcomes, got %d", len(all))
		}
		for i, rec := range all {
			if rec.Seq != int64(i+1) {
				t.Errorf("outcome %d has seq %d, want ascending from 1", i, rec.Seq)
			}
		}

		tail, err := st.Outcomes(ctx, "plan-seq", 2)
		if err != nil {
			t.Fatalf("Outcomes (tail) failed: %v", err)
		}
		if len(tail) != 1 || tail[0].Seq != 3 {
			t.Errorf("tail scan after seq 2 returned %+v", tail)
		}

		empty, err := st.Outcomes(ctx, "plan-with-no-log", 0)
		if err != nil {
			t.Fatalf("Outcomes (empty) failed: %v", err)
		}
		if len(empty) != 0 {
			t.Errorf("expected empty log, got %d records", len(empty))
		}
	})

	t.Run("checkpoints order by seq", func(t *testing.T) {
		_ = st.SavePlan(ctx, testPlanRecord("plan-cp"))

		_, err := st.LatestCheckpoint(ctx, "plan-cp")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound before first checkpoint, got %v", err)
		}

		for i := 1; i <= 3; i++ {
			snap := json.RawMessage(fmt.Sprintf(`{"last_seq":%d}`, i))
			seq, err := st.AppendCheckpoint(ctx, "plan-cp", snap)
			if err != nil {
				t.Fatalf("AppendCheckpoint %d failed: %v", i, err)
			}
			if seq != int64(i) {
				t.Errorf("checkpoint %d assigned seq %d", i, seq)
			}
		}

		latest, err := st.LatestCheckpoint(ctx, "plan-cp")
		if err != nil {
			t.Fatalf("LatestCheckpoint failed: %v", err)
		}
		if latest.Seq != 3 {
			t.Errorf("latest checkpoint seq = %d, want 3", latest.Seq)
		}
		if string(latest.Snapshot) != `{"last_seq":3}` {
			t.Errorf("latest snapshot = %s", latest.Snapshot)
		}
	})
}
