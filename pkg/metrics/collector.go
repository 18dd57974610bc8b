// Package metrics counts stage outcomes and durations for a run and can
// dump them in the Prometheus text format for the node exporter's textfile
// collector.
package metrics

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/edge-vision/camctl/pkg/errors"
	"github.com/edge-vision/camctl/pkg/stage"
)

const metricsNamespace = "camctl"

// Collector is a stage.Observer backed by its own registry.
type Collector struct {
	registry *prometheus.Registry

	// StageRuns counts finished stages by stage and status
	StageRuns *prometheus.CounterVec
	// StageDuration tracks stage latency
	StageDuration *prometheus.HistogramVec
}

var _ stage.Observer = (*Collector)(nil)

// NewCollector creates a collector with a private registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		StageRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stage_runs_total",
			Help:      "Total stage executions by stage and status",
		}, []string{"stage", "status"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "stage_duration_seconds",
			Help:      "Stage duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 15, 30, 60},
		}, []string{"stage"}),
	}
}

// Registry exposes the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Observe records finished stages; starting events are ignored.
func (c *Collector) Observe(_ context.Context, ev stage.Event) {
	switch ev.Kind {
	case stage.EventSucceeded, stage.EventFailed:
		c.StageRuns.WithLabelValues(ev.Stage, string(ev.Kind)).Inc()
		c.StageDuration.WithLabelValues(ev.Stage).Observe(ev.Duration.Seconds())
	}
}

// WriteTextfile writes the current values to path atomically.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return errors.Wrap(err, "failed to write metrics textfile")
	}
	slog.Debug("metrics_written", "path", path)
	return nil
}
