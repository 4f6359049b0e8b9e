package harness

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"upsertcore/internal/engine"
)

// Metrics counts operation outcomes and measures per-operation wall time.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	outcomes *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics builds the collectors and registers them when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "upsertcore",
			Subsystem: "trial",
			Name:      "operations_total",
			Help:      "Upsert operations by terminal outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "upsertcore",
			Subsystem: "trial",
			Name:      "operation_seconds",
			Help:      "Wall time of one upsert operation.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.outcomes, m.duration)
	}
	return m
}

// Observe records one terminal result.
func (m *Metrics) Observe(res engine.Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := "failed"
	if res.Committed {
		label = res.Outcome.String()
	}
	m.outcomes.WithLabelValues(label).Inc()
	m.duration.Observe(elapsed.Seconds())
}
