package plan_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dshills/planrun/plan"
	"github.com/dshills/planrun/plan/store"
	"github.com/dshills/planrun/plan/tool"
)

// blockingTool parks until its context ends and signals when the first
// call arrives, so tests can cancel or suspend a run mid-wave.
type blockingTool struct {
	name    string
	started chan struct{}
	once    sync.Once
}

func newBlockingTool(name string) *blockingTool {
	return &blockingTool{name: name, started: make(chan struct{})}
}

func (b *blockingTool) Name() string { return b.name }

func (b *blockingTool) Call(ctx context.Context, _ json.RawMessage, _ tool.Scope) (json.RawMessage, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func okTool(name string, responses ...string) *tool.MockTool {
	m := &tool.MockTool{ToolName: name}
	for _, r := range responses {
		m.Responses = append(m.Responses, json.RawMessage(r))
	}
	if len(m.Responses) == 0 {
		m.Responses = []json.RawMessage{json.RawMessage(`{"ok":true}`)}
	}
	return m
}

func mustPlan(t *testing.T, steps []plan.Step, budget plan.Budget) *plan.Plan {
	t.Helper()
	p, err := plan.NewPlan(steps, budget)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	return p
}

// stepOutcomes decodes the outcome log and returns (stepID, attempt)
// pairs in sequence order.
func stepOutcomes(t *testing.T, st store.Store, planID string) []plan.Outcome {
	t.Helper()
	recs, err := st.Outcomes(context.Background(), planID, 0)
	if err != nil {
		t.Fatalf("Outcomes: %v", err)
	}
	outs := make([]plan.Outcome, len(recs))
	for i, rec := range recs {
		if err := json.Unmarshal(rec.Payload, &outs[i]); err != nil {
			t.Fatalf("decode outcome seq %d: %v", rec.Seq, err)
		}
	}
	return outs
}

func countStep(outs []plan.Outcome, stepID string) int {
	n := 0
	for _, o := range outs {
		if o.StepID == stepID {
			n++
		}
	}
	return n
}

func TestEngineRunLinearPlan(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(okTool("read", `{"content":"abc"}`))
	reg.Register(okTool("write", `{"written":3}`))

	var decisionSaw json.RawMessage
	p := mustPlan(t, []plan.Step{
		{ID: "read", Kind: plan.KindToolCall, Tool: "read"},
		{ID: "write", Kind: plan.KindToolCall, Tool: "write", DependsOn: []string{"read"}},
		{ID: "verify", Kind: plan.KindDecision, DependsOn: []string{"write"},
			Decide: func(prior plan.Outputs) (json.RawMessage, error) {
				decisionSaw = prior["write"]
				return json.RawMessage(`{"verified":true}`), nil
			}},
	}, plan.Budget{})

	st := store.NewMemStore()
	eng := plan.New(st, plan.WithTools(reg))

	snap, err := eng.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if snap.PlanStatus != plan.StatusCompleted {
		t.Errorf("status = %s, want %s", snap.PlanStatus, plan.StatusCompleted)
	}
	for _, id := range []string{"read", "write", "verify"} {
		if snap.Steps[id] != plan.StepSucceeded {
			t.Errorf("step %s = %s, want %s", id, snap.Steps[id], plan.StepSucceeded)
		}
	}

	// Later steps see earlier outputs.
	if string(decisionSaw) != `{"written":3}` {
		t.Errorf("decision saw %s", decisionSaw)
	}

	outs := stepOutcomes(t, st, p.ID)
	if len(outs) != 3 {
		t.Fatalf("outcome log has %d records, want 3", len(outs))
	}
	if outs[0].StepID != "read" || outs[1].StepID != "write" || outs[2].StepID != "verify" {
		t.Errorf("log order = %s, %s, %s", outs[0].StepID, outs[1].StepID, outs[2].StepID)
	}

	rec, err := st.LoadPlan(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("LoadPlan: %v", err)
	}
	if rec.Status != string(plan.StatusCompleted) {
		t.Errorf("stored status = %s", rec.Status)
	}
}

func TestEngineRetriesTransientFailures(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(&tool.MockTool{
		ToolName: "flaky",
		Errs: []error{
			&tool.Error{Kind: tool.KindTransient, Tool: "flaky", Message: "conn reset"},
			&tool.Error{Kind: tool.KindTransient, Tool: "flaky", Message: "conn reset"},
		},
		Responses: []json.RawMessage{json.RawMessage(`{"ok":true}`)},
	})

	p := mustPlan(t, []plan.Step{
		{ID: "fetch", Kind: plan.KindToolCall, Tool: "flaky",
			Retry: &plan.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}},
	}, plan.Budget{})

	st := store.NewMemStore()
	eng := plan.New(st, plan.WithTools(reg))

	snap, err := eng.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if snap.PlanStatus != plan.StatusCompleted {
		t.Errorf("status = %s, want %s", snap.PlanStatus, plan.StatusCompleted)
	}

	// Every attempt lands in the log, including the failed ones.
	outs := stepOutcomes(t, st, p.ID)
	if countStep(outs, "fetch") != 3 {
		t.Errorf("fetch attempts in log = %d, want 3", countStep(outs, "fetch"))
	}
	if outs[0].Failure == nil || outs[1].Failure == nil || outs[2].Failure != nil {
		t.Error("expected failure, failure, success in the log")
	}
	if outs[2].Attempt != 3 {
		t.Errorf("final attempt = %d, want 3", outs[2].Attempt)
	}
}

func TestEngineAbortsOnPolicyViolation(t *testing.T) {
	deploy := okTool("deploy", `{"deployed":true}`)
	rollback := okTool("rollback", `{"rolled_back":true}`)
	reg := tool.NewRegistry()
	reg.Register(deploy)
	reg.Register(rollback)
	reg.Register(&tool.MockTool{
		ToolName: "restricted",
		Errs:     []error{&tool.Error{Kind: tool.KindOutOfScope, Tool: "restricted", Message: "path outside sandbox"}},
	})

	p := mustPlan(t, []plan.Step{
		{ID: "deploy", Kind: plan.KindToolCall, Tool: "deploy", Effect: "deployment", CompensatedBy: "rollback"},
		{ID: "escape", Kind: plan.KindToolCall, Tool: "restricted", DependsOn: []string{"deploy"},
			Retry: &plan.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}},
		{ID: "rollback", Kind: plan.KindCompensation, Tool: "rollback"},
	}, plan.Budget{})

	st := store.NewMemStore()
	eng := plan.New(st, plan.WithTools(reg))

	snap, err := eng.Run(context.Background(), p)
	var ee *plan.EngineError
	if !errors.As(err, &ee) || ee.Code != "PLAN_ABORTED" {
		t.Fatalf("err = %v, want PLAN_ABORTED", err)
	}
	if snap.PlanStatus != plan.StatusAborted {
		t.Errorf("status = %s, want %s", snap.PlanStatus, plan.StatusAborted)
	}

	// Policy violations never retry, even with a retry policy declared.
	outs := stepOutcomes(t, st, p.ID)
	if countStep(outs, "escape") != 1 {
		t.Errorf("escape attempts = %d, want 1", countStep(outs, "escape"))
	}

	// The completed effectful step was compensated exactly once, and the
	// compensation attempt is itself logged.
	if rollback.CallCount() != 1 {
		t.Errorf("rollback called %d times, want 1", rollback.CallCount())
	}
	if countStep(outs, "rollback") != 1 {
		t.Errorf("rollback outcomes = %d, want 1", countStep(outs, "rollback"))
	}
	if snap.Steps["deploy"] != plan.StepCompensated {
		t.Errorf("deploy = %s, want %s", snap.Steps["deploy"], plan.StepCompensated)
	}
	if snap.Steps["rollback"] != plan.StepSucceeded {
		t.Errorf("rollback = %s, want %s", snap.Steps["rollback"], plan.StepSucceeded)
	}

	rec, _ := st.LoadPlan(context.Background(), p.ID)
	if rec.Status != string(plan.StatusAborted) {
		t.Errorf("stored status = %s", rec.Status)
	}
}

func TestEngineCostBudget(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(okTool("a"))
	reg.Register(okTool("b"))

	p := mustPlan(t, []plan.Step{
		{ID: "a", Kind: plan.KindToolCall, Tool: "a"},
		{ID: "b", Kind: plan.KindToolCall, Tool: "b", DependsOn: []string{"a"}},
	}, plan.Budget{MaxCostUnits: plan.DefaultToolCallCost / 2})

	st := store.NewMemStore()
	eng := plan.New(st, plan.WithTools(reg))

	snap, err := eng.Run(context.Background(), p)
	if !errors.Is(err, plan.ErrBudgetExceeded) {
		t.Fatalf("err = %v, want ErrBudgetExceeded", err)
	}
	if snap.PlanStatus != plan.StatusAborted {
		t.Errorf("status = %s, want %s", snap.PlanStatus, plan.StatusAborted)
	}

	// The first wave's cost trips the budget before the second step runs.
	outs := stepOutcomes(t, st, p.ID)
	if countStep(outs, "b") != 0 {
		t.Errorf("step b ran despite exhausted budget")
	}
}

func TestEngineWallClockBudget(t *testing.T) {
	// A retry backoff longer than the remaining wall clock forces the
	// between-wave budget check to fire.
	reg := tool.NewRegistry()
	reg.Register(&tool.MockTool{
		ToolName: "slow",
		Errs: []error{
			&tool.Error{Kind: tool.KindTransient, Tool: "slow", Message: "busy"},
			&tool.Error{Kind: tool.KindTransient, Tool: "slow", Message: "busy"},
			&tool.Error{Kind: tool.KindTransient, Tool: "slow", Message: "busy"},
		},
	})

	p := mustPlan(t, []plan.Step{
		{ID: "poll", Kind: plan.KindToolCall, Tool: "slow",
			Retry: &plan.RetryPolicy{MaxAttempts: 5, BaseDelay: 40 * time.Millisecond, MaxDelay: time.Second}},
	}, plan.Budget{MaxWallClock: 50 * time.Millisecond})

	st := store.NewMemStore()
	eng := plan.New(st, plan.WithTools(reg))

	_, err := eng.Run(context.Background(), p)
	if !errors.Is(err, plan.ErrBudgetExceeded) {
		t.Fatalf("err = %v, want ErrBudgetExceeded", err)
	}

	rec, _ := st.LoadPlan(context.Background(), p.ID)
	if rec.Status != string(plan.StatusAborted) {
		t.Errorf("stored status = %s", rec.Status)
	}
}

func TestEngineWallClockBudgetExpiresMidStep(t *testing.T) {
	// A step still in flight when the wall clock runs out is a budget
	// exhaustion, not a suspension: the run aborts and the interrupted
	// attempt lands in the log as a cancelled failure.
	hang := newBlockingTool("hang")
	reg := tool.NewRegistry()
	reg.Register(hang)

	p := mustPlan(t, []plan.Step{
		{ID: "hang", Kind: plan.KindToolCall, Tool: "hang"},
	}, plan.Budget{MaxWallClock: 100 * time.Millisecond})

	st := store.NewMemStore()
	eng := plan.New(st, plan.WithTools(reg))

	snap, err := eng.Run(context.Background(), p)
	if !errors.Is(err, plan.ErrBudgetExceeded) {
		t.Fatalf("err = %v, want ErrBudgetExceeded", err)
	}
	if snap.PlanStatus != plan.StatusAborted {
		t.Errorf("status = %s, want %s", snap.PlanStatus, plan.StatusAborted)
	}
	if snap.Steps["hang"] != plan.StepFailed {
		t.Errorf("hang = %s, want %s", snap.Steps["hang"], plan.StepFailed)
	}

	rec, _ := st.LoadPlan(context.Background(), p.ID)
	if rec.Status != string(plan.StatusAborted) {
		t.Errorf("stored status = %s", rec.Status)
	}

	outs := stepOutcomes(t, st, p.ID)
	if n := countStep(outs, "hang"); n != 1 {
		t.Fatalf("hang logged %d outcomes, want 1", n)
	}
	last := outs[len(outs)-1]
	if last.Failure == nil || last.Failure.Code != plan.FailCancelled {
		t.Errorf("interrupted attempt failure = %+v, want code %s", last.Failure, plan.FailCancelled)
	}
}

// gateTool holds a wave slot open until released, so a test can inspect
// the store while a wave is still in flight.
type gateTool struct {
	name    string
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGateTool(name string) *gateTool {
	return &gateTool{name: name, started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateTool) Name() string { return g.name }

func (g *gateTool) Call(ctx context.Context, _ json.RawMessage, _ tool.Scope) (json.RawMessage, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return json.RawMessage(`{"held":true}`), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestEngineOutcomeDurableBeforeWaveJoins(t *testing.T) {
	// A finished step's outcome must reach the store while a slower wave
	// sibling is still running; a crash in that window must not lose it.
	gate := newGateTool("hold")
	reg := tool.NewRegistry()
	reg.Register(okTool("quick", `{"done":true}`))
	reg.Register(gate)

	p := mustPlan(t, []plan.Step{
		{ID: "quick", Kind: plan.KindToolCall, Tool: "quick"},
		{ID: "hold", Kind: plan.KindToolCall, Tool: "hold"},
	}, plan.Budget{})

	st := store.NewMemStore()
	eng := plan.New(st, plan.WithTools(reg), plan.WithMaxConcurrent(2))

	done := make(chan error, 1)
	go func() {
		_, err := eng.Run(context.Background(), p)
		done <- err
	}()

	<-gate.started
	deadline := time.Now().Add(2 * time.Second)
	var outs []plan.Outcome
	for time.Now().Before(deadline) {
		outs = stepOutcomes(t, st, p.ID)
		if len(outs) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(outs) == 0 {
		t.Fatal("no outcome durable while the wave was still in flight")
	}
	if outs[0].StepID != "quick" {
		t.Fatalf("first durable outcome = %s, want quick", outs[0].StepID)
	}

	close(gate.release)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := len(stepOutcomes(t, st, p.ID)); n != 2 {
		t.Errorf("final log has %d outcomes, want 2", n)
	}
}

func TestEngineAlternateBranch(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(&tool.MockTool{
		ToolName: "patch",
		Errs:     []error{&tool.Error{Kind: tool.KindInvalid, Tool: "patch", Message: "hunk does not apply"}},
	})
	reg.Register(okTool("rewrite", `{"rewritten":true}`))
	reg.Register(okTool("test", `{"passed":true}`))
	reg.Register(okTool("lint"))

	p := mustPlan(t, []plan.Step{
		{ID: "patch", Kind: plan.KindToolCall, Tool: "patch", Alternates: []string{"rewrite"}},
		{ID: "lint", Kind: plan.KindToolCall, Tool: "lint", DependsOn: []string{"patch"}},
		{ID: "rewrite", Kind: plan.KindToolCall, Tool: "rewrite"},
		{ID: "test", Kind: plan.KindToolCall, Tool: "test", DependsOn: []string{"rewrite"}},
	}, plan.Budget{})

	st := store.NewMemStore()
	eng := plan.New(st, plan.WithTools(reg))

	snap, err := eng.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if snap.PlanStatus != plan.StatusCompleted {
		t.Errorf("status = %s, want %s", snap.PlanStatus, plan.StatusCompleted)
	}
	if snap.Steps["patch"] != plan.StepFailed {
		t.Errorf("patch = %s, want %s", snap.Steps["patch"], plan.StepFailed)
	}
	if snap.Steps["lint"] != plan.StepSkipped {
		t.Errorf("lint = %s, want %s", snap.Steps["lint"], plan.StepSkipped)
	}
	if snap.Steps["rewrite"] != plan.StepSucceeded || snap.Steps["test"] != plan.StepSucceeded {
		t.Errorf("alternate branch = %s / %s", snap.Steps["rewrite"], snap.Steps["test"])
	}
}

func TestEngineStallsWithoutRunnableWork(t *testing.T) {
	// The declared alternate is a compensation step, which the forward
	// scheduler refuses to run: the plan wedges instead of aborting.
	reg := tool.NewRegistry()
	reg.Register(&tool.MockTool{
		ToolName: "apply",
		Errs:     []error{&tool.Error{Kind: tool.KindInvalid, Tool: "apply", Message: "bad args"}},
	})
	reg.Register(okTool("undo"))

	p := mustPlan(t, []plan.Step{
		{ID: "apply", Kind: plan.KindToolCall, Tool: "apply", Alternates: []string{"undo"}},
		{ID: "undo", Kind: plan.KindCompensation, Tool: "undo"},
	}, plan.Budget{})

	st := store.NewMemStore()
	eng := plan.New(st, plan.WithTools(reg))

	_, err := eng.Run(context.Background(), p)
	if !errors.Is(err, plan.ErrStalled) {
		t.Fatalf("err = %v, want ErrStalled", err)
	}

	rec, _ := st.LoadPlan(context.Background(), p.ID)
	if rec.Status != string(plan.StatusFailed) {
		t.Errorf("stored status = %s", rec.Status)
	}
}

func TestEngineDeterministicLog(t *testing.T) {
	// Outcomes within one wave land in completion order, so the ordering
	// guarantee is per wave boundary: a chain of single-step waves with a
	// retried step must produce the identical log every run.
	steps := func() []plan.Step {
		return []plan.Step{
			{ID: "a", Kind: plan.KindToolCall, Tool: "flaky",
				Retry: &plan.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}},
			{ID: "b", Kind: plan.KindToolCall, Tool: "t", DependsOn: []string{"a"}},
			{ID: "c", Kind: plan.KindToolCall, Tool: "t", DependsOn: []string{"b"}},
		}
	}

	run := func() []string {
		reg := tool.NewRegistry()
		reg.Register(&tool.MockTool{
			ToolName:  "flaky",
			Errs:      []error{&tool.Error{Kind: tool.KindTransient, Tool: "flaky", Message: "busy"}},
			Responses: []json.RawMessage{json.RawMessage(`{"ok":true}`)},
		})
		reg.Register(okTool("t"))
		st := store.NewMemStore()
		eng := plan.New(st, plan.WithTools(reg), plan.WithMaxConcurrent(3))

		p := mustPlan(t, steps(), plan.Budget{})
		if _, err := eng.Run(context.Background(), p); err != nil {
			t.Fatalf("Run: %v", err)
		}
		var order []string
		for _, o := range stepOutcomes(t, st, p.ID) {
			order = append(order, o.StepID)
		}
		return order
	}

	want := []string{"a", "a", "b", "c"}
	for i := 0; i < 6; i++ {
		if got := run(); !equalStrings(got, want) {
			t.Fatalf("log order = %v, want %v", got, want)
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestEngineSuspendAndResume(t *testing.T) {
	blocking := newBlockingTool("build")
	reg := tool.NewRegistry()
	reg.Register(okTool("plan_step", `{"steps":2}`))
	reg.Register(blocking)

	steps := []plan.Step{
		{ID: "outline", Kind: plan.KindToolCall, Tool: "plan_step"},
		{ID: "build", Kind: plan.KindToolCall, Tool: "build", DependsOn: []string{"outline"}},
	}
	p := mustPlan(t, steps, plan.Budget{})

	st := store.NewMemStore()
	eng := plan.New(st, plan.WithTools(reg))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-blocking.started
		cancel()
	}()

	snap, err := eng.Run(ctx, p)
	if !errors.Is(err, plan.ErrSuspended) {
		t.Fatalf("err = %v, want ErrSuspended", err)
	}
	if snap.PlanStatus != plan.StatusRunning {
		t.Errorf("suspended status = %s, want %s", snap.PlanStatus, plan.StatusRunning)
	}
	if snap.Steps["outline"] != plan.StepSucceeded {
		t.Errorf("outline = %s, want %s", snap.Steps["outline"], plan.StepSucceeded)
	}
	if snap.Steps["build"] != plan.StepPending {
		t.Errorf("build = %s, want %s", snap.Steps["build"], plan.StepPending)
	}

	// Resume with a working tool, as a fresh engine would after a crash.
	reg2 := tool.NewRegistry()
	reg2.Register(okTool("plan_step"))
	reg2.Register(okTool("build", `{"built":true}`))
	eng2 := plan.New(st, plan.WithTools(reg2))

	snap, err = eng2.Resume(context.Background(), p)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if snap.PlanStatus != plan.StatusCompleted {
		t.Errorf("resumed status = %s, want %s", snap.PlanStatus, plan.StatusCompleted)
	}

	// The completed first step was not re-executed.
	outs := stepOutcomes(t, st, p.ID)
	if countStep(outs, "outline") != 1 {
		t.Errorf("outline ran %d times across suspend/resume, want 1", countStep(outs, "outline"))
	}
	if countStep(outs, "build") != 1 {
		t.Errorf("build ran %d times, want 1", countStep(outs, "build"))
	}
}

func TestEngineCancelCompensates(t *testing.T) {
	blocking := newBlockingTool("migrate")
	release := okTool("release", `{"released":true}`)
	reg := tool.NewRegistry()
	reg.Register(okTool("acquire", `{"lock":"held"}`))
	reg.Register(release)
	reg.Register(blocking)

	p := mustPlan(t, []plan.Step{
		{ID: "acquire", Kind: plan.KindToolCall, Tool: "acquire", Effect: "lock", CompensatedBy: "release"},
		{ID: "migrate", Kind: plan.KindToolCall, Tool: "migrate", DependsOn: []string{"acquire"}},
		{ID: "release", Kind: plan.KindCompensation, Tool: "release"},
	}, plan.Budget{})

	st := store.NewMemStore()
	eng := plan.New(st, plan.WithTools(reg))

	go func() {
		<-blocking.started
		if !eng.Cancel(p.ID) {
			t.Error("Cancel reported no running plan")
		}
	}()

	snap, err := eng.Run(context.Background(), p)
	var ee *plan.EngineError
	if !errors.As(err, &ee) || ee.Code != "PLAN_ABORTED" {
		t.Fatalf("err = %v, want PLAN_ABORTED", err)
	}
	if snap.PlanStatus != plan.StatusAborted {
		t.Errorf("status = %s, want %s", snap.PlanStatus, plan.StatusAborted)
	}
	if release.CallCount() != 1 {
		t.Errorf("release called %d times, want 1", release.CallCount())
	}
	if snap.Steps["acquire"] != plan.StepCompensated {
		t.Errorf("acquire = %s, want %s", snap.Steps["acquire"], plan.StepCompensated)
	}

	// The interrupted migrate attempt lands in the log as a cancelled
	// failure instead of vanishing.
	if snap.Steps["migrate"] != plan.StepFailed {
		t.Errorf("migrate = %s, want %s", snap.Steps["migrate"], plan.StepFailed)
	}
	cancelled := false
	for _, o := range stepOutcomes(t, st, p.ID) {
		if o.StepID == "migrate" && o.Failure != nil && o.Failure.Code == plan.FailCancelled {
			cancelled = true
		}
	}
	if !cancelled {
		t.Error("no cancelled outcome logged for migrate")
	}
}

func TestEngineCancelUnknownPlan(t *testing.T) {
	eng := plan.New(store.NewMemStore())
	if eng.Cancel("no-such-plan") {
		t.Error("Cancel of unknown plan returned true")
	}
}

func TestEngineResumeErrors(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(okTool("t"))

	t.Run("unknown plan", func(t *testing.T) {
		eng := plan.New(store.NewMemStore(), plan.WithTools(reg))
		p := mustPlan(t, []plan.Step{{ID: "a", Kind: plan.KindToolCall, Tool: "t"}}, plan.Budget{})
		_, err := eng.Resume(context.Background(), p)
		if !errors.Is(err, plan.ErrPlanNotFound) {
			t.Errorf("err = %v, want ErrPlanNotFound", err)
		}
	})

	t.Run("version mismatch", func(t *testing.T) {
		st := store.NewMemStore()
		eng := plan.New(st, plan.WithTools(reg))

		p := mustPlan(t, []plan.Step{{ID: "a", Kind: plan.KindToolCall, Tool: "t"}}, plan.Budget{})
		if _, err := eng.Run(context.Background(), p); err != nil {
			t.Fatalf("Run: %v", err)
		}

		amended, err := p.Amend([]plan.Step{{ID: "a", Kind: plan.KindToolCall, Tool: "t"}}, plan.Budget{})
		if err != nil {
			t.Fatalf("Amend: %v", err)
		}
		_, err = eng.Resume(context.Background(), amended)
		var ee *plan.EngineError
		if !errors.As(err, &ee) || ee.Code != "VERSION_MISMATCH" {
			t.Errorf("err = %v, want VERSION_MISMATCH", err)
		}
	})

	t.Run("terminal plan returns final snapshot", func(t *testing.T) {
		st := store.NewMemStore()
		eng := plan.New(st, plan.WithTools(reg))

		p := mustPlan(t, []plan.Step{{ID: "a", Kind: plan.KindToolCall, Tool: "t"}}, plan.Budget{})
		if _, err := eng.Run(context.Background(), p); err != nil {
			t.Fatalf("Run: %v", err)
		}

		snap, err := eng.Resume(context.Background(), p)
		if err != nil {
			t.Fatalf("Resume: %v", err)
		}
		if snap.PlanStatus != plan.StatusCompleted {
			t.Errorf("status = %s, want %s", snap.PlanStatus, plan.StatusCompleted)
		}

		outs := stepOutcomes(t, st, p.ID)
		if len(outs) != 1 {
			t.Errorf("resume of a finished plan re-ran steps: %d outcomes", len(outs))
		}
	})
}
