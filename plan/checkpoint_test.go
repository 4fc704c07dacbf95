package plan

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestSnapshotRoundTrip(t *testing.T) {
	st := buildState(t, []Step{
		{ID: "primary", Kind: KindToolCall, Tool: "t", Alternates: []string{"fallback"}},
		specStep("fallback"),
		specStep("next", "primary"),
	})
	st.activateAlternates(stepPtr(t, st, "primary"))
	st.status["fallback"] = StepRunning
	st.attempts["primary"] = 1
	st.attempts["fallback"] = 2
	st.outputs["primary"] = json.RawMessage(`{"n":1}`)
	st.costUsed = 0.125
	st.elapsed = 1500 * time.Millisecond

	now := time.Now().UTC()
	snap := snapshotOf(st, StatusRunning, 7, now)

	if snap.PlanID != st.plan.ID || snap.Version != 1 {
		t.Errorf("snapshot identity = %s v%d", snap.PlanID, snap.Version)
	}
	if snap.LastSeq != 7 || snap.CostUsed != 0.125 || snap.ElapsedMS != 1500 {
		t.Errorf("snapshot counters = %+v", snap)
	}
	if len(snap.Active) != 1 || snap.Active[0] != "fallback" {
		t.Errorf("active alternates = %v", snap.Active)
	}

	// Through the wire format and back.
	payload, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err := decodeSnapshot(payload)
	if err != nil {
		t.Fatalf("decodeSnapshot: %v", err)
	}

	restored, err := restoreExecState(st.plan, decoded)
	if err != nil {
		t.Fatalf("restoreExecState: %v", err)
	}

	// The interrupted attempt goes back to the pool.
	if restored.status["fallback"] != StepPending {
		t.Errorf("fallback = %s, want %s", restored.status["fallback"], StepPending)
	}
	if restored.status["primary"] != StepFailed {
		t.Errorf("primary = %s, want %s", restored.status["primary"], StepFailed)
	}
	if restored.status["next"] != StepSkipped {
		t.Errorf("next = %s, want %s", restored.status["next"], StepSkipped)
	}
	if restored.attempts["fallback"] != 2 {
		t.Errorf("fallback attempts = %d, want 2", restored.attempts["fallback"])
	}
	if !restored.active["fallback"] {
		t.Error("fallback lost its activation")
	}
	if string(restored.outputs["primary"]) != `{"n":1}` {
		t.Errorf("primary output = %s", restored.outputs["primary"])
	}
	if restored.costUsed != 0.125 || restored.elapsed != 1500*time.Millisecond {
		t.Errorf("counters = %v cost, %v elapsed", restored.costUsed, restored.elapsed)
	}

	// The next wave resumes with the activated alternate.
	wave := restored.ready()
	if len(wave) != 1 || wave[0].Step.ID != "fallback" || wave[0].Attempt != 3 {
		t.Errorf("resumed wave = %v", wave)
	}
}

func TestSnapshotOutputIsolation(t *testing.T) {
	st := buildState(t, []Step{specStep("a")})
	out := json.RawMessage(`{"v":"original"}`)
	st.outputs["a"] = out

	snap := snapshotOf(st, StatusRunning, 1, time.Now())
	out[6] = 'X'

	if string(snap.Outputs["a"]) != `{"v":"original"}` {
		t.Errorf("snapshot output mutated: %s", snap.Outputs["a"])
	}
}

func TestRestoreExecStateMismatch(t *testing.T) {
	st := buildState(t, []Step{specStep("a")})
	snap := snapshotOf(st, StatusRunning, 0, time.Now())

	t.Run("wrong plan", func(t *testing.T) {
		other := buildState(t, []Step{specStep("a")})
		if _, err := restoreExecState(other.plan, snap); err == nil {
			t.Error("restore against a different plan succeeded")
		}
	})

	t.Run("wrong version", func(t *testing.T) {
		amended, err := st.plan.Amend([]Step{specStep("a")}, Budget{})
		if err != nil {
			t.Fatalf("Amend: %v", err)
		}
		if _, err := restoreExecState(amended, snap); err == nil {
			t.Error("restore against a newer version succeeded")
		}
	})

	t.Run("unknown step", func(t *testing.T) {
		bad := snap
		bad.Steps = map[string]StepStatus{"phantom": StepSucceeded}
		_, err := restoreExecState(st.plan, bad)
		if err == nil || !strings.Contains(err.Error(), "phantom") {
			t.Errorf("err = %v, want unknown step", err)
		}
	})
}

func TestDecodeSnapshotCorrupt(t *testing.T) {
	if _, err := decodeSnapshot(json.RawMessage(`{broken`)); err == nil {
		t.Error("corrupt snapshot decoded")
	}
}
