package plan

import (
	"sync"
	"time"
)

// ModelPricing defines input and output token costs for LLM models.
// Prices are in cost units per 1M tokens.
type ModelPricing struct {
	InputPer1M  float64 // Cost per 1M input tokens
	OutputPer1M float64 // Cost per 1M output tokens
}

// Static pricing map for major LLM providers (as of 2025-01-01).
// Prices are in USD-equivalent cost units per 1M tokens.
//
// Note: Prices subject to change. Update this map as providers adjust pricing.
var defaultModelPricing = map[string]ModelPricing{
	// OpenAI
	"gpt-4o":        {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":   {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":   {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo": {InputPer1M: 0.50, OutputPer1M: 1.50},

	// Anthropic
	"claude-sonnet-4-20250514":   {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},

	// Google
	"gemini-1.5-pro":   {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash": {InputPer1M: 0.075, OutputPer1M: 0.30},
}

// DefaultToolCallCost is the flat cost charged per tool invocation when
// the tracker has no finer-grained figure.
const DefaultToolCallCost = 0.001

// ModelCall records a single LLM API invocation with token usage and cost.
type ModelCall struct {
	Model        string    // Model identifier (e.g., "gpt-4o")
	InputTokens  int       // Input tokens consumed
	OutputTokens int       // Output tokens generated
	Cost         float64   // Calculated cost units
	Timestamp    time.Time // When the call was made
	StepID       string    // Step that made the call
}

// CostTracker converts token usage and tool invocations into the cost
// units a plan budget is expressed in.
//
// Features:
//   - Per-model token counting (input/output separate)
//   - Cumulative cost tracking across calls
//   - Per-model cost breakdown for attribution
//   - Thread-safe concurrent recording
//
// Usage:
//
//	tracker := NewCostTracker()
//	cost := tracker.RecordModelCall("gpt-4o", 1000, 500, "summarize")
//	total := tracker.TotalCost()
type CostTracker struct {
	mu           sync.RWMutex
	pricing      map[string]ModelPricing
	toolCallCost float64
	calls        []ModelCall
	totalCost    float64
	modelCosts   map[string]float64
	inputTokens  int64
	outputTokens int64
}

// NewCostTracker creates a cost tracker with the default pricing table.
func NewCostTracker() *CostTracker {
	return &CostTracker{
		pricing:      defaultModelPricing,
		toolCallCost: DefaultToolCallCost,
		modelCosts:   make(map[string]float64),
	}
}

// SetPricing overrides the price for one model.
func (ct *CostTracker) SetPricing(model string, pricing ModelPricing) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	// Copy-on-write so the shared default table is never mutated.
	if _, shared := defaultModelPricing[model]; shared || len(ct.calls) == 0 {
		fresh := make(map[string]ModelPricing, len(ct.pricing)+1)
		for k, v := range ct.pricing {
			fresh[k] = v
		}
		ct.pricing = fresh
	}
	ct.pricing[model] = pricing
}

// RecordModelCall records one LLM invocation and returns the cost units
// charged. Models missing from the pricing table record zero cost.
func (ct *CostTracker) RecordModelCall(model string, inputTokens, outputTokens int, stepID string) float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	pricing := ct.pricing[model]
	inputCost := (float64(inputTokens) / 1_000_000.0) * pricing.InputPer1M
	outputCost := (float64(outputTokens) / 1_000_000.0) * pricing.OutputPer1M
	cost := inputCost + outputCost

	ct.calls = append(ct.calls, ModelCall{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         cost,
		Timestamp:    time.Now(),
		StepID:       stepID,
	})
	ct.totalCost += cost
	ct.modelCosts[model] += cost
	ct.inputTokens += int64(inputTokens)
	ct.outputTokens += int64(outputTokens)
	return cost
}

// RecordToolCall records one tool invocation and returns the flat cost
// charged for it.
func (ct *CostTracker) RecordToolCall(stepID string) float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.totalCost += ct.toolCallCost
	return ct.toolCallCost
}

// TotalCost returns the cumulative cost units recorded so far.
func (ct *CostTracker) TotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.totalCost
}

// CostByModel returns a copy of the per-model cost breakdown.
func (ct *CostTracker) CostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make(map[string]float64, len(ct.modelCosts))
	for k, v := range ct.modelCosts {
		out[k] = v
	}
	return out
}

// TokenTotals returns cumulative input and output token counts.
func (ct *CostTracker) TokenTotals() (in, out int64) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.inputTokens, ct.outputTokens
}

// Calls returns a copy of all recorded model calls in order.
func (ct *CostTracker) Calls() []ModelCall {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make([]ModelCall, len(ct.calls))
	copy(out, ct.calls)
	return out
}
