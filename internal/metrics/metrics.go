// Package metrics exposes Prometheus metrics for backup runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the orchestrator's Prometheus collectors.
type Metrics struct {
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	versionsPruned prometheus.Counter
	runsInFlight   prometheus.Gauge
}

// New registers the orchestrator metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attic",
			Name:      "backup_runs_total",
			Help:      "Completed backup runs by result.",
		}, []string{"result"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "attic",
			Name:      "backup_run_duration_seconds",
			Help:      "Wall-clock duration of backup runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		versionsPruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "attic",
			Name:      "versions_pruned_total",
			Help:      "Version directories removed by retention pruning.",
		}),
		runsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "attic",
			Name:      "backup_runs_in_flight",
			Help:      "Backup runs currently executing.",
		}),
	}
}

// RunStarted records a run entering its single-flight slot.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsInFlight.Inc()
}

// RunCompleted records a finished run with its result and duration.
func (m *Metrics) RunCompleted(result string, seconds float64) {
	if m == nil {
		return
	}
	m.runsInFlight.Dec()
	m.runsTotal.WithLabelValues(result).Inc()
	m.runDuration.Observe(seconds)
}

// VersionsPruned records versions removed by retention.
func (m *Metrics) VersionsPruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.versionsPruned.Add(float64(n))
}
