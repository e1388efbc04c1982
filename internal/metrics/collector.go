// Package metrics exposes bulk operation metrics through a Prometheus
// registry that can be written to a node-exporter textfile after a run.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rshade/memctl/internal/engine"
)

// Namespace prefixes every metric name.
const Namespace = "memctl"

// Collector records controller lifecycle events. It implements
// engine.Observer.
type Collector struct {
	registry *prometheus.Registry

	operationsStarted  *prometheus.CounterVec
	operationsFinished *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	operationsInFlight *prometheus.GaugeVec
	itemsProcessed     *prometheus.CounterVec
	chunksTotal        *prometheus.CounterVec
	chunkDuration      *prometheus.HistogramVec
}

// NewCollector creates a collector on its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		operationsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "operations_started_total",
				Help:      "Bulk operations started.",
			},
			[]string{"kind"},
		),
		operationsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "operations_finished_total",
				Help:      "Bulk operations finished, by terminal state.",
			},
			[]string{"kind", "state"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "operation_duration_seconds",
				Help:      "Wall time of a bulk operation.",
				Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"kind", "state"},
		),
		operationsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "operations_in_flight",
				Help:      "Bulk operations currently running.",
			},
			[]string{"kind"},
		),
		itemsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "items_processed_total",
				Help:      "Targets resolved by finished operations.",
			},
			[]string{"kind"},
		),
		chunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "chunks_total",
				Help:      "Remote calls that resolved successfully.",
			},
			[]string{"kind"},
		),
		chunkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "chunk_duration_seconds",
				Help:      "Latency of one successful remote call.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
	}
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// OperationStarted implements engine.Observer.
func (c *Collector) OperationStarted(kind engine.Kind) {
	c.operationsStarted.WithLabelValues(string(kind)).Inc()
	c.operationsInFlight.WithLabelValues(string(kind)).Inc()
}

// ChunkCompleted implements engine.Observer.
func (c *Collector) ChunkCompleted(kind engine.Kind, _ int, d time.Duration) {
	c.chunksTotal.WithLabelValues(string(kind)).Inc()
	c.chunkDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// OperationFinished implements engine.Observer.
func (c *Collector) OperationFinished(kind engine.Kind, state engine.State, processed int, d time.Duration) {
	k, s := string(kind), state.String()
	c.operationsInFlight.WithLabelValues(k).Dec()
	c.operationsFinished.WithLabelValues(k, s).Inc()
	c.operationDuration.WithLabelValues(k, s).Observe(d.Seconds())
	c.itemsProcessed.WithLabelValues(k).Add(float64(processed))
}

// WriteTextfile writes the current metrics in the text exposition format to
// path, atomically, for the node exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
