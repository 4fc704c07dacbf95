package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// This emitter captures all events and provides query capabilities for
// execution history analysis. Events are organized by planID for efficient
// retrieval and filtering.
//
// Features:
//   - Thread-safe concurrent access
//   - Query by planID with optional filtering
//   - Filter by stepID, message, attempt
//   - Clear events by planID or all events
//
// Use cases:
//   - Development and debugging
//   - Testing and validation
//   - Post-execution analysis
//
// Warning: This emitter stores all events in memory. For long-running plans
// or high event volume, use a persistent backend or clear old plans.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // planID -> events
}

// HistoryFilter specifies criteria for filtering execution history.
//
// All filter fields are optional. When multiple fields are set, they are
// combined with AND logic (all conditions must match).
type HistoryFilter struct {
	StepID  string // Filter by step ID (empty = no filter)
	Msg     string // Filter by message (empty = no filter)
	Attempt *int   // Filter by attempt (nil = no filter)
}

// NewBufferedEmitter returns a BufferedEmitter that stores all events in
// memory and provides query capabilities. Safe for concurrent use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event in the buffer.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.PlanID] = append(b.events[event.PlanID], event)
}

// GetHistory retrieves all events for a specific planID.
//
// Returns events in emission order. Returns an empty slice if no events
// exist for the given planID. The returned slice is a copy.
func (b *BufferedEmitter) GetHistory(planID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[planID]
	if events == nil {
		return []Event{}
	}

	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// GetHistoryWithFilter retrieves filtered events for a specific planID.
//
// Applies the provided filter criteria to select matching events. All
// filter conditions must match for an event to be included.
func (b *BufferedEmitter) GetHistoryWithFilter(planID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[planID]
	if events == nil {
		return []Event{}
	}

	if filter.StepID == "" && filter.Msg == "" && filter.Attempt == nil {
		result := make([]Event, len(events))
		copy(result, events)
		return result
	}

	var result []Event
	for _, event := range events {
		if !matchesFilter(event, filter) {
			continue
		}
		result = append(result, event)
	}

	if result == nil {
		return []Event{}
	}
	return result
}

func matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.StepID != "" && event.StepID != filter.StepID {
		return false
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}
	if filter.Attempt != nil && event.Attempt != *filter.Attempt {
		return false
	}
	return true
}

// Clear removes stored events.
//
// If planID is non-empty, clears only events for that plan.
// If planID is empty, clears all stored events.
func (b *BufferedEmitter) Clear(planID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if planID == "" {
		b.events = make(map[string][]Event)
	} else {
		delete(b.events, planID)
	}
}
