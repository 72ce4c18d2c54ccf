// Package metrics collects and exposes Prometheus metrics for pipeline
// execution.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the pipeline execution metrics. It implements the
// executor's Observer interface. Each Collector owns its own registry so
// tests can create as many as they need without duplicate-registration
// panics.
type Collector struct {
	registry *prometheus.Registry

	runsStarted   *prometheus.CounterVec
	runsFinished  *prometheus.CounterVec
	stageRuns     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	runsInFlight  prometheus.Gauge
}

// NewCollector creates a metrics collector with a dedicated registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		runsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_runs_started_total",
			Help: "Total number of pipeline runs started",
		}, []string{"mode"}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_runs_finished_total",
			Help: "Total number of pipeline runs finished",
		}, []string{"mode", "outcome"}),
		stageRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_stage_runs_total",
			Help: "Total number of stage executions",
		}, []string{"stage", "outcome"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"stage"}),
		runsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_runs_in_flight",
			Help: "Current number of executing pipeline runs",
		}),
	}
}

// RunStarted records a new pipeline run.
func (c *Collector) RunStarted(mode string) {
	c.runsStarted.WithLabelValues(mode).Inc()
	c.runsInFlight.Inc()
}

// RunFinished records a completed pipeline run.
func (c *Collector) RunFinished(mode string, fatal bool) {
	c.runsFinished.WithLabelValues(mode, outcome(!fatal)).Inc()
	c.runsInFlight.Dec()
}

// StageObserved records one stage execution.
func (c *Collector) StageObserved(stage string, elapsed time.Duration, success bool) {
	c.stageRuns.WithLabelValues(stage, outcome(success)).Inc()
	c.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// Handler exposes the collector's registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
