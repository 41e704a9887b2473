// Package metrics exposes the worker's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline counters. A fresh registry per instance
// keeps tests independent of global state.
type Metrics struct {
	Registry *prometheus.Registry

	JobsTotal     *prometheus.CounterVec
	JobDuration   prometheus.Histogram
	StageFailures *prometheus.CounterVec
	ActiveWorkers prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conversion_jobs_total",
			Help: "Conversion jobs finished, by terminal status.",
		}, []string{"status"}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "conversion_job_duration_seconds",
			Help:    "Wall-clock time per conversion job.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conversion_stage_failures_total",
			Help: "Stage failures, by error kind.",
		}, []string{"kind"}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "conversion_active_workers",
			Help: "Workers currently processing a job.",
		}),
	}
}
