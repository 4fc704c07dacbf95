package plan

import (
	"container/heap"
	"sync"
	"time"
)

// WorkItem is a schedulable unit of work: one attempt of one step.
//
// OrderKey is the step's index in the plan, which NewPlan guarantees is a
// topological position. Dispatching and folding in OrderKey order gives
// the same execution trace on every run with the same collaborator
// responses, regardless of goroutine completion order.
type WorkItem struct {
	// OrderKey is the deterministic sort key (the step's plan index).
	OrderKey int

	// Step is the step to execute.
	Step *Step

	// Attempt is the 1-indexed attempt counter for this step.
	Attempt int

	// NotBefore delays dispatch for backoff retries. Zero means
	// immediately eligible.
	NotBefore time.Time
}

// workHeap implements heap.Interface, ordering items by OrderKey.
type workHeap []WorkItem

func (h workHeap) Len() int { return len(h) }

func (h workHeap) Less(i, j int) bool {
	// Min-heap: smaller OrderKey has higher priority
	return h[i].OrderKey < h[j].OrderKey
}

func (h workHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *workHeap) Push(x interface{}) {
	*h = append(*h, x.(WorkItem))
}

func (h *workHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[0 : n-1]
	return item
}

// Frontier holds the ready set between waves, ordered deterministically.
//
// Items pushed in any order drain in ascending OrderKey. Thread-safe so
// fold logic and retry scheduling can feed it concurrently.
type Frontier struct {
	mu sync.Mutex
	h  workHeap
}

// NewFrontier returns an empty frontier.
func NewFrontier() *Frontier {
	f := &Frontier{}
	heap.Init(&f.h)
	return f
}

// Push adds a work item.
func (f *Frontier) Push(item WorkItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	heap.Push(&f.h, item)
}

// Drain removes and returns all items in ascending OrderKey.
func (f *Frontier) Drain() []WorkItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]WorkItem, 0, len(f.h))
	for len(f.h) > 0 {
		out = append(out, heap.Pop(&f.h).(WorkItem))
	}
	return out
}

// Len returns the number of queued items.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.h)
}

// execState tracks the live execution status of one plan run.
//
// Not safe for concurrent use: the engine mutates it only between waves,
// in fold order.
type execState struct {
	plan     *Plan
	status   map[string]StepStatus
	attempts map[string]int
	outputs  Outputs
	active   map[string]bool // alternates activated for execution
	costUsed float64
	elapsed  time.Duration
}

func newExecState(p *Plan) *execState {
	s := &execState{
		plan:     p,
		status:   make(map[string]StepStatus, len(p.Steps)),
		attempts: make(map[string]int, len(p.Steps)),
		outputs:  make(Outputs),
		active:   make(map[string]bool),
	}
	for i := range p.Steps {
		s.status[p.Steps[i].ID] = StepPending
	}
	return s
}

// eligible reports whether a step may ever be scheduled in the forward
// pass. Compensation steps run only during abort, and alternates stay
// dormant until a logic failure activates them.
func (s *execState) eligible(step *Step) bool {
	if step.Kind == KindCompensation {
		return false
	}
	if s.plan.IsAlternate(step.ID) && !s.active[step.ID] {
		return false
	}
	return true
}

// depsSatisfied reports whether all declared dependencies allow the step
// to run. Succeeded and Skipped both satisfy; Skipped marks branches the
// run deliberately routed around, not missing work.
func (s *execState) depsSatisfied(step *Step) bool {
	for _, dep := range step.DependsOn {
		switch s.status[dep] {
		case StepSucceeded, StepSkipped:
		default:
			return false
		}
	}
	return true
}

// ready collects the next wave: eligible pending steps whose dependencies
// are satisfied, in plan (topological) order.
func (s *execState) ready() []WorkItem {
	var items []WorkItem
	for i := range s.plan.Steps {
		step := &s.plan.Steps[i]
		if s.status[step.ID] != StepPending {
			continue
		}
		if !s.eligible(step) || !s.depsSatisfied(step) {
			continue
		}
		items = append(items, WorkItem{
			OrderKey: i,
			Step:     step,
			Attempt:  s.attempts[step.ID] + 1,
		})
	}
	return items
}

// activateAlternates handles a logic failure on step: the step goes
// terminal Failed, its declared alternates become schedulable, and every
// non-alternate step that transitively depends on the failed step is
// skipped. Skipped dependencies satisfy depsSatisfied, so the alternate
// branch can proceed past the routed-around region.
func (s *execState) activateAlternates(step *Step) {
	s.status[step.ID] = StepFailed
	for _, alt := range step.Alternates {
		if s.status[alt] == StepPending {
			s.active[alt] = true
		}
	}
	s.skipDependents(step.ID)
}

// skipDependents marks pending non-alternate transitive dependents of
// rootID as Skipped.
func (s *execState) skipDependents(rootID string) {
	skipped := map[string]bool{rootID: true}
	for i := range s.plan.Steps {
		step := &s.plan.Steps[i]
		if s.status[step.ID] != StepPending || s.plan.IsAlternate(step.ID) {
			continue
		}
		for _, dep := range step.DependsOn {
			if skipped[dep] {
				s.status[step.ID] = StepSkipped
				skipped[step.ID] = true
				break
			}
		}
	}
}

// succeededAlternates reports whether every activated alternate of the
// failed step reached Succeeded.
func (s *execState) succeededAlternates(step *Step) bool {
	any := false
	for _, alt := range step.Alternates {
		if !s.active[alt] {
			continue
		}
		any = true
		if s.status[alt] != StepSucceeded {
			return false
		}
	}
	return any
}

// settled reports whether the forward pass can stop: no step is running
// or schedulable. ok reports whether the settled state is a successful
// completion, meaning every step is either Succeeded, Skipped, dormant,
// a compensation step, or a Failed step fully covered by succeeded
// alternates.
func (s *execState) settled() (done, ok bool) {
	ok = true
	for i := range s.plan.Steps {
		step := &s.plan.Steps[i]
		switch s.status[step.ID] {
		case StepRunning, StepReady:
			return false, false
		case StepPending:
			if s.eligible(step) && s.depsSatisfied(step) {
				return false, false
			}
			// Unschedulable pending work: dormant alternates and
			// compensation steps are fine, anything else means the
			// run stalled or was routed around without a skip.
			if s.eligible(step) && !s.plan.IsAlternate(step.ID) {
				ok = false
			}
		case StepFailed:
			if !s.succeededAlternates(step) {
				ok = false
			}
		}
	}
	return true, ok
}
