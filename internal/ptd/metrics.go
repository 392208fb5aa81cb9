package ptd

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records pipeline runs. A nil *Metrics records nothing.
type Metrics struct {
	runs   *prometheus.CounterVec
	stages *prometheus.HistogramVec
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ptd",
			Name:      "pipeline_runs_total",
			Help:      "PTD generation runs by output mode and result.",
		}, []string{"mode", "result"}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ptd",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"stage"}),
	}
	reg.MustRegister(m.runs, m.stages)
	return m
}

func (m *Metrics) run(mode Mode, result string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(mode), result).Inc()
}

func (m *Metrics) stage(name string, start time.Time) {
	if m == nil {
		return
	}
	m.stages.WithLabelValues(name).Observe(time.Since(start).Seconds())
}
