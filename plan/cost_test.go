package plan_test

import (
	"math"
	"sync"
	"testing"

	"github.com/dshills/planrun/plan"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCostTracker(t *testing.T) {
	t.Run("model call charges per-token pricing", func(t *testing.T) {
		tracker := plan.NewCostTracker()

		// gpt-4o: 2.50 in / 10.00 out per 1M tokens.
		cost := tracker.RecordModelCall("gpt-4o", 1_000_000, 100_000, "summarize")
		want := 2.50 + 1.00
		if !almostEqual(cost, want) {
			t.Errorf("cost = %v, want %v", cost, want)
		}
		if !almostEqual(tracker.TotalCost(), want) {
			t.Errorf("total = %v, want %v", tracker.TotalCost(), want)
		}
	})

	t.Run("unknown model records zero cost", func(t *testing.T) {
		tracker := plan.NewCostTracker()
		if cost := tracker.RecordModelCall("unlisted-model", 10_000, 10_000, "s"); cost != 0 {
			t.Errorf("cost for unknown model = %v, want 0", cost)
		}
		// The call itself is still recorded for token accounting.
		in, out := tracker.TokenTotals()
		if in != 10_000 || out != 10_000 {
			t.Errorf("token totals = %d/%d", in, out)
		}
	})

	t.Run("tool call charges flat rate", func(t *testing.T) {
		tracker := plan.NewCostTracker()
		if cost := tracker.RecordToolCall("s"); !almostEqual(cost, plan.DefaultToolCallCost) {
			t.Errorf("tool call cost = %v, want %v", cost, plan.DefaultToolCallCost)
		}
		tracker.RecordToolCall("s")
		if !almostEqual(tracker.TotalCost(), 2*plan.DefaultToolCallCost) {
			t.Errorf("total = %v", tracker.TotalCost())
		}
	})

	t.Run("per-model breakdown", func(t *testing.T) {
		tracker := plan.NewCostTracker()
		tracker.RecordModelCall("gpt-4o-mini", 1_000_000, 0, "a")
		tracker.RecordModelCall("gpt-4o-mini", 1_000_000, 0, "b")
		tracker.RecordModelCall("gemini-1.5-flash", 1_000_000, 0, "c")

		byModel := tracker.CostByModel()
		if !almostEqual(byModel["gpt-4o-mini"], 0.30) {
			t.Errorf("gpt-4o-mini cost = %v, want 0.30", byModel["gpt-4o-mini"])
		}
		if !almostEqual(byModel["gemini-1.5-flash"], 0.075) {
			t.Errorf("gemini-1.5-flash cost = %v, want 0.075", byModel["gemini-1.5-flash"])
		}
	})

	t.Run("custom pricing applies to later calls", func(t *testing.T) {
		tracker := plan.NewCostTracker()
		tracker.SetPricing("local-model", plan.ModelPricing{InputPer1M: 1.00, OutputPer1M: 2.00})
		cost := tracker.RecordModelCall("local-model", 500_000, 500_000, "s")
		if !almostEqual(cost, 0.50+1.00) {
			t.Errorf("custom pricing cost = %v, want 1.50", cost)
		}

		// The shared default table must not see the override.
		other := plan.NewCostTracker()
		if cost := other.RecordModelCall("local-model", 1_000_000, 0, "s"); cost != 0 {
			t.Errorf("pricing override leaked into a fresh tracker: %v", cost)
		}
	})

	t.Run("calls returns ordered copies", func(t *testing.T) {
		tracker := plan.NewCostTracker()
		tracker.RecordModelCall("gpt-4o", 100, 50, "first")
		tracker.RecordModelCall("gpt-4o", 200, 80, "second")

		calls := tracker.Calls()
		if len(calls) != 2 {
			t.Fatalf("expected 2 calls, got %d", len(calls))
		}
		if calls[0].StepID != "first" || calls[1].StepID != "second" {
			t.Errorf("calls out of order: %+v", calls)
		}

		calls[0].StepID = "mutated"
		if tracker.Calls()[0].StepID != "first" {
			t.Error("mutating returned slice changed tracker state")
		}
	})

	t.Run("concurrent recording is safe and complete", func(t *testing.T) {
		tracker := plan.NewCostTracker()
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					tracker.RecordModelCall("gpt-4o-mini", 1000, 500, "s")
				}
			}()
		}
		wg.Wait()

		in, out := tracker.TokenTotals()
		if in != 200_000 || out != 100_000 {
			t.Errorf("token totals = %d/%d, want 200000/100000", in, out)
		}
		if len(tracker.Calls()) != 200 {
			t.Errorf("recorded %d calls, want 200", len(tracker.Calls()))
		}
	})
}
