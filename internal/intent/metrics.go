package intent

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors reporting pipeline outcomes.
type Metrics struct {
	applied  *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. Created once to avoid duplicate
// registration panics when multiple pipelines are constructed (tests,
// per-context wiring).
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
	applied := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mira",
			Subsystem: "intent",
			Name:      "mutations_applied_total",
			Help:      "State mutations applied after validation.",
		},
		[]string{"kind"},
	)
	rejected := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mira",
			Subsystem: "intent",
			Name:      "mutations_rejected_total",
			Help:      "Tag occurrences stripped without being applied.",
		},
		[]string{"kind", "reason"},
	)
	reg.MustRegister(applied, rejected)
	return &Metrics{applied: applied, rejected: rejected}
}

func (m *Metrics) recordApplied(kind TagKind) {
	m.applied.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) recordRejected(kind TagKind, reason Reason) {
	m.rejected.WithLabelValues(string(kind), string(reason)).Inc()
}
