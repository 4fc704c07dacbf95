package plan

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides Prometheus-compatible metrics collection
// for plan execution monitoring in production environments.
//
// Metrics exposed (all namespaced with "planrun_"):
//
//  1. inflight_steps (gauge): Steps currently executing.
//  2. ready_queue_depth (gauge): Steps ready and waiting for dispatch.
//  3. step_latency_ms (histogram): Step execution duration, labeled by
//     plan_id, step_id, status (success, error, timeout).
//  4. retries_total (counter): Retry attempts, labeled by plan_id,
//     step_id, reason.
//  5. compensations_total (counter): Compensation steps run, labeled by
//     plan_id.
//  6. aborts_total (counter): Plan aborts, labeled by plan_id, class.
//  7. checkpoint_writes_total (counter): Checkpoints written, labeled by
//     plan_id, status (ok, error).
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := NewPrometheusMetrics(registry)
//	eng := New(store, WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// Thread-safe: the underlying Prometheus collectors handle concurrency.
type PrometheusMetrics struct {
	inflightSteps   prometheus.Gauge
	readyQueueDepth prometheus.Gauge

	stepLatency *prometheus.HistogramVec

	retries          *prometheus.CounterVec
	compensations    *prometheus.CounterVec
	aborts           *prometheus.CounterVec
	checkpointWrites *prometheus.CounterVec

	registry prometheus.Registerer
	enabled  bool
}

// NewPrometheusMetrics creates and registers all plan execution metrics
// with the provided registry. A nil registry uses the global default.
//
// Histogram buckets are tuned for typical step execution times
// (1ms to 10s; model and tool calls dominate the upper buckets).
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.inflightSteps = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "planrun",
		Name:      "inflight_steps",
		Help:      "Current number of steps executing concurrently",
	})

	pm.readyQueueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "planrun",
		Name:      "ready_queue_depth",
		Help:      "Number of ready steps waiting for dispatch",
	})

	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "planrun",
		Name:      "step_latency_ms",
		Help:      "Step execution duration in milliseconds (from dispatch to completion)",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"plan_id", "step_id", "status"}) // status: success, error, timeout

	pm.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planrun",
		Name:      "retries_total",
		Help:      "Cumulative count of step retry attempts",
	}, []string{"plan_id", "step_id", "reason"})

	pm.compensations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planrun",
		Name:      "compensations_total",
		Help:      "Compensation steps executed during plan aborts",
	}, []string{"plan_id"})

	pm.aborts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planrun",
		Name:      "aborts_total",
		Help:      "Plan executions that ended in abort",
	}, []string{"plan_id", "class"}) // class: transient, logic, policy, fatal

	pm.checkpointWrites = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planrun",
		Name:      "checkpoint_writes_total",
		Help:      "Checkpoint write attempts",
	}, []string{"plan_id", "status"}) // status: ok, error

	return pm
}

// RecordStepLatency records the execution duration of one step attempt.
func (pm *PrometheusMetrics) RecordStepLatency(planID, stepID string, latency time.Duration, status string) {
	if pm == nil || !pm.enabled {
		return
	}
	pm.stepLatency.WithLabelValues(planID, stepID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries increments the retry counter for a step.
func (pm *PrometheusMetrics) IncrementRetries(planID, stepID, reason string) {
	if pm == nil || !pm.enabled {
		return
	}
	pm.retries.WithLabelValues(planID, stepID, reason).Inc()
}

// IncrementCompensations increments the compensation counter.
func (pm *PrometheusMetrics) IncrementCompensations(planID string) {
	if pm == nil || !pm.enabled {
		return
	}
	pm.compensations.WithLabelValues(planID).Inc()
}

// IncrementAborts increments the abort counter for a failure class.
func (pm *PrometheusMetrics) IncrementAborts(planID, class string) {
	if pm == nil || !pm.enabled {
		return
	}
	pm.aborts.WithLabelValues(planID, class).Inc()
}

// IncrementCheckpointWrites counts one checkpoint write attempt.
func (pm *PrometheusMetrics) IncrementCheckpointWrites(planID, status string) {
	if pm == nil || !pm.enabled {
		return
	}
	pm.checkpointWrites.WithLabelValues(planID, status).Inc()
}

// UpdateReadyQueueDepth sets the current ready-set size.
func (pm *PrometheusMetrics) UpdateReadyQueueDepth(depth int) {
	if pm == nil || !pm.enabled {
		return
	}
	pm.readyQueueDepth.Set(float64(depth))
}

// UpdateInflightSteps sets the current number of executing steps.
func (pm *PrometheusMetrics) UpdateInflightSteps(count int) {
	if pm == nil || !pm.enabled {
		return
	}
	pm.inflightSteps.Set(float64(count))
}

// SetEnabled toggles metric recording at runtime.
func (pm *PrometheusMetrics) SetEnabled(enabled bool) {
	pm.enabled = enabled
}
