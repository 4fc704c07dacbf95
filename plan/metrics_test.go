package plan_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/planrun/plan"
)

// gatherValue finds a metric family by name and sums its sample values.
func gatherValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var total float64
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return total
}

func TestPrometheusMetrics(t *testing.T) {
	t.Run("counters increment with labels", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := plan.NewPrometheusMetrics(registry)

		metrics.IncrementRetries("plan-1", "step-a", "transient")
		metrics.IncrementRetries("plan-1", "step-a", "transient")
		metrics.IncrementCompensations("plan-1")
		metrics.IncrementAborts("plan-1", "policy")
		metrics.IncrementCheckpointWrites("plan-1", "ok")

		if got := gatherValue(t, registry, "planrun_retries_total"); got != 2 {
			t.Errorf("retries_total = %v, want 2", got)
		}
		if got := gatherValue(t, registry, "planrun_compensations_total"); got != 1 {
			t.Errorf("compensations_total = %v, want 1", got)
		}
		if got := gatherValue(t, registry, "planrun_aborts_total"); got != 1 {
			t.Errorf("aborts_total = %v, want 1", got)
		}
		if got := gatherValue(t, registry, "planrun_checkpoint_writes_total"); got != 1 {
			t.Errorf("checkpoint_writes_total = %v, want 1", got)
		}
	})

	t.Run("gauges track current values", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := plan.NewPrometheusMetrics(registry)

		metrics.UpdateReadyQueueDepth(5)
		metrics.UpdateInflightSteps(3)

		if got := gatherValue(t, registry, "planrun_ready_queue_depth"); got != 5 {
			t.Errorf("ready_queue_depth = %v, want 5", got)
		}
		if got := gatherValue(t, registry, "planrun_inflight_steps"); got != 3 {
			t.Errorf("inflight_steps = %v, want 3", got)
		}

		metrics.UpdateReadyQueueDepth(0)
		if got := gatherValue(t, registry, "planrun_ready_queue_depth"); got != 0 {
			t.Errorf("ready_queue_depth after reset = %v, want 0", got)
		}
	})

	t.Run("latency histogram records observations", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := plan.NewPrometheusMetrics(registry)

		metrics.RecordStepLatency("plan-1", "step-a", 120*time.Millisecond, "success")
		metrics.RecordStepLatency("plan-1", "step-a", 40*time.Millisecond, "error")

		if got := gatherValue(t, registry, "planrun_step_latency_ms"); got != 2 {
			t.Errorf("step_latency_ms sample count = %v, want 2", got)
		}
	})

	t.Run("disabled metrics record nothing", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := plan.NewPrometheusMetrics(registry)
		metrics.SetEnabled(false)

		metrics.IncrementRetries("plan-1", "step-a", "transient")
		metrics.UpdateInflightSteps(9)

		if got := gatherValue(t, registry, "planrun_retries_total"); got != 0 {
			t.Errorf("retries_total = %v, want 0 when disabled", got)
		}
		if got := gatherValue(t, registry, "planrun_inflight_steps"); got != 0 {
			t.Errorf("inflight_steps = %v, want 0 when disabled", got)
		}
	})

	t.Run("nil receiver is safe", func(t *testing.T) {
		var metrics *plan.PrometheusMetrics
		metrics.RecordStepLatency("plan-1", "step-a", time.Millisecond, "success")
		metrics.IncrementRetries("plan-1", "step-a", "transient")
		metrics.IncrementCompensations("plan-1")
		metrics.IncrementAborts("plan-1", "fatal")
		metrics.IncrementCheckpointWrites("plan-1", "ok")
		metrics.UpdateReadyQueueDepth(1)
		metrics.UpdateInflightSteps(1)
	})
}
