package scheduler

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors reporting poller activity.
type Metrics struct {
	jobRuns      *prometheus.CounterVec
	skippedTicks prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Registration errors panic, mirroring promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	jobRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mira",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job executions by outcome.",
		},
		[]string{"outcome"},
	)
	skippedTicks := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mira",
			Subsystem: "scheduler",
			Name:      "skipped_ticks_total",
			Help:      "Poll ticks skipped because the previous tick was still running.",
		},
	)
	reg.MustRegister(jobRuns, skippedTicks)
	return &Metrics{jobRuns: jobRuns, skippedTicks: skippedTicks}
}

func (m *Metrics) recordJobRun(outcome string) {
	m.jobRuns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordSkippedTick() {
	m.skippedTicks.Inc()
}
