package emit

import (
	"sync"
	"testing"
)

// TestBufferedEmitter_History verifies event capture and retrieval.
func TestBufferedEmitter_History(t *testing.T) {
	emitter := NewBufferedEmitter()

	emitter.Emit(Event{PlanID: "plan-1", StepID: "a", Attempt: 1, Msg: "step_start"})
	emitter.Emit(Event{PlanID: "plan-1", StepID: "a", Attempt: 1, Msg: "step_end"})
	emitter.Emit(Event{PlanID: "plan-2", StepID: "x", Attempt: 1, Msg: "step_start"})

	t.Run("history is per plan and ordered", func(t *testing.T) {
		history := emitter.GetHistory("plan-1")
		if len(history) != 2 {
			t.Fatalf("expected 2 events for plan-1, got %d", len(history))
		}
		if history[0].Msg != "step_start" || history[1].Msg != "step_end" {
			t.Errorf("events out of order: %v, %v", history[0].Msg, history[1].Msg)
		}
	})

	t.Run("unknown plan yields empty slice", func(t *testing.T) {
		history := emitter.GetHistory("no-such-plan")
		if history == nil {
			t.Fatal("expected empty slice, got nil")
		}
		if len(history) != 0 {
			t.Errorf("expected 0 events, got %d", len(history))
		}
	})

	t.Run("returned slice is a copy", func(t *testing.T) {
		history := emitter.GetHistory("plan-1")
		history[0].Msg = "mutated"
		if emitter.GetHistory("plan-1")[0].Msg != "step_start" {
			t.Error("mutating returned history changed the buffer")
		}
	})
}

// TestBufferedEmitter_Filter verifies history filtering.
func TestBufferedEmitter_Filter(t *testing.T) {
	emitter := NewBufferedEmitter()

	emitter.Emit(Event{PlanID: "plan-1", StepID: "a", Attempt: 1, Msg: "step_start"})
	emitter.Emit(Event{PlanID: "plan-1", StepID: "a", Attempt: 1, Msg: "step_failed"})
	emitter.Emit(Event{PlanID: "plan-1", StepID: "a", Attempt: 2, Msg: "step_start"})
	emitter.Emit(Event{PlanID: "plan-1", StepID: "b", Attempt: 1, Msg: "step_start"})

	t.Run("filter by step", func(t *testing.T) {
		got := emitter.GetHistoryWithFilter("plan-1", HistoryFilter{StepID: "b"})
		if len(got) != 1 || got[0].StepID != "b" {
			t.Errorf("filter by step returned %+v", got)
		}
	})

	t.Run("filter by message", func(t *testing.T) {
		got := emitter.GetHistoryWithFilter("plan-1", HistoryFilter{Msg: "step_start"})
		if len(got) != 3 {
			t.Errorf("expected 3 step_start events, got %d", len(got))
		}
	})

	t.Run("filter by attempt", func(t *testing.T) {
		attempt := 2
		got := emitter.GetHistoryWithFilter("plan-1", HistoryFilter{Attempt: &attempt})
		if len(got) != 1 || got[0].Attempt != 2 {
			t.Errorf("filter by attempt returned %+v", got)
		}
	})

	t.Run("filters combine with AND", func(t *testing.T) {
		attempt := 1
		got := emitter.GetHistoryWithFilter("plan-1", HistoryFilter{
			StepID:  "a",
			Msg:     "step_start",
			Attempt: &attempt,
		})
		if len(got) != 1 {
			t.Errorf("expected 1 matching event, got %d", len(got))
		}
	})

	t.Run("no match yields empty slice", func(t *testing.T) {
		got := emitter.GetHistoryWithFilter("plan-1", HistoryFilter{StepID: "ghost"})
		if got == nil || len(got) != 0 {
			t.Errorf("expected empty slice, got %v", got)
		}
	})

	t.Run("empty filter returns everything", func(t *testing.T) {
		got := emitter.GetHistoryWithFilter("plan-1", HistoryFilter{})
		if len(got) != 4 {
			t.Errorf("expected 4 events, got %d", len(got))
		}
	})
}

// TestBufferedEmitter_Clear verifies per-plan and global clearing.
func TestBufferedEmitter_Clear(t *testing.T) {
	emitter := NewBufferedEmitter()
	emitter.Emit(Event{PlanID: "plan-1", Msg: "step_start"})
	emitter.Emit(Event{PlanID: "plan-2", Msg: "step_start"})

	emitter.Clear("plan-1")
	if len(emitter.GetHistory("plan-1")) != 0 {
		t.Error("Clear(plan-1) left events behind")
	}
	if len(emitter.GetHistory("plan-2")) != 1 {
		t.Error("Clear(plan-1) removed another plan's events")
	}

	emitter.Clear("")
	if len(emitter.GetHistory("plan-2")) != 0 {
		t.Error("Clear(\"\") did not remove all events")
	}
}

// TestBufferedEmitter_Concurrent verifies thread safety under mixed load.
func TestBufferedEmitter_Concurrent(t *testing.T) {
	emitter := NewBufferedEmitter()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				emitter.Emit(Event{PlanID: "plan-1", Msg: "step_start"})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = emitter.GetHistory("plan-1")
			}
		}()
	}
	wg.Wait()

	if got := len(emitter.GetHistory("plan-1")); got != 500 {
		t.Errorf("expected 500 events after concurrent emits, got %d", got)
	}
}
