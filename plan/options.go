package plan

import (
	"time"

	"github.com/dshills/planrun/plan/emit"
	"github.com/dshills/planrun/plan/model"
	"github.com/dshills/planrun/plan/retrieval"
	"github.com/dshills/planrun/plan/tool"
)

// Option is a functional option for configuring an Engine.
//
// Functional options provide a clean, extensible API for engine
// configuration:
//   - Chainable: eng := New(store, WithMaxConcurrent(8), WithEmitter(em))
//   - Self-documenting: option names clearly describe their purpose
//   - Optional: only specify the configuration you need
//
// Example:
//
//	eng := plan.New(
//	    store,
//	    plan.WithMaxConcurrent(16),
//	    plan.WithDefaultStepTimeout(30*time.Second),
//	    plan.WithTools(registry),
//	    plan.WithModel(client),
//	)
type Option func(*engineConfig)

// engineConfig collects options before they are applied to an Engine.
type engineConfig struct {
	maxConcurrent      int
	defaultStepTimeout time.Duration
	emitter            emit.Emitter
	metrics            *PrometheusMetrics
	cost               *CostTracker
	tools              *tool.Registry
	modelClient        model.Client
	retrieval          retrieval.Provider
	scope              tool.Scope
	checkpointRetries  int
	clock              func() time.Time
}

// WithMaxConcurrent sets the maximum number of steps executing
// concurrently within one wave.
//
// Default: 4. Set to 1 for fully sequential execution.
//
// Tuning guidance:
//   - Tool-heavy plans: bound by local CPU and disk, NumCPU is a good start.
//   - Model-heavy plans: bound by provider rate limits, 4-8 is typical.
func WithMaxConcurrent(n int) Option {
	return func(cfg *engineConfig) {
		if n > 0 {
			cfg.maxConcurrent = n
		}
	}
}

// WithDefaultStepTimeout sets the per-attempt timeout applied to steps
// that do not declare their own.
//
// Default: 60 seconds. Steps exceeding the timeout produce a transient
// timeout failure and are retried per their retry policy.
func WithDefaultStepTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) {
		if d > 0 {
			cfg.defaultStepTimeout = d
		}
	}
}

// WithEmitter sets the observability emitter. Default: NullEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) {
		if e != nil {
			cfg.emitter = e
		}
	}
}

// WithMetrics enables Prometheus metrics collection.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	eng := plan.New(store, plan.WithMetrics(plan.NewPrometheusMetrics(registry)))
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) {
		cfg.metrics = m
	}
}

// WithCostTracker sets the tracker that converts token usage and tool
// invocations into budget cost units. Default: a fresh tracker with the
// built-in pricing table.
func WithCostTracker(ct *CostTracker) Option {
	return func(cfg *engineConfig) {
		if ct != nil {
			cfg.cost = ct
		}
	}
}

// WithTools sets the tool registry used by tool-call and compensation
// steps. Plans whose steps name tools fail at dispatch without one.
func WithTools(r *tool.Registry) Option {
	return func(cfg *engineConfig) {
		cfg.tools = r
	}
}

// WithModel sets the LLM client used by model-call steps.
func WithModel(c model.Client) Option {
	return func(cfg *engineConfig) {
		cfg.modelClient = c
	}
}

// WithRetrieval sets the provider that answers step context queries.
// Without one, context queries are skipped and prompts go out bare.
func WithRetrieval(p retrieval.Provider) Option {
	return func(cfg *engineConfig) {
		cfg.retrieval = p
	}
}

// WithScope sets the sandbox scope applied to every tool invocation.
// Default: the zero scope, which denies filesystem and network access.
func WithScope(s tool.Scope) Option {
	return func(cfg *engineConfig) {
		cfg.scope = s
	}
}

// WithCheckpointRetries sets how many times a failed checkpoint write is
// retried before the run aborts. Default: 3.
func WithCheckpointRetries(n int) Option {
	return func(cfg *engineConfig) {
		if n >= 0 {
			cfg.checkpointRetries = n
		}
	}
}

// withClock overrides the engine's time source. Test hook.
func withClock(now func() time.Time) Option {
	return func(cfg *engineConfig) {
		cfg.clock = now
	}
}
