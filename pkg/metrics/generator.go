package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// GeneratorMetrics contains Prometheus metrics for the mock data generator.
type GeneratorMetrics struct {
	RowsGenerated      *prometheus.CounterVec
	PublishFailures    *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
}

// NewGeneratorMetrics creates and registers generator metrics.
func NewGeneratorMetrics(namespace string) *GeneratorMetrics {
	m := &GeneratorMetrics{
		RowsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "generator",
				Name:      "rows_generated_total",
				Help:      "Total number of mock rows generated",
			},
			[]string{"kind"}, // kind: ipdr, profile
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "generator",
				Name:      "publish_failures_total",
				Help:      "Total number of generated rows that could not be published",
			},
			[]string{"kind"},
		),
		GenerationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "generator",
				Name:      "generation_duration_seconds",
				Help:      "Duration of one generation run",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
	}

	MustRegister(
		m.RowsGenerated,
		m.PublishFailures,
		m.GenerationDuration,
	)

	return m
}
