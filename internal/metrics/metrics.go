// Package metrics exposes run progress as Prometheus metrics.
//
// Each Recorder owns a private registry so concurrent replicates do not
// share counters. Metrics are written to a node-exporter textfile when the
// run ends; there is no HTTP endpoint.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lineage"

// Recorder collects generation and compaction metrics for one run. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	generations       prometheus.Counter
	compactions       *prometheus.CounterVec
	compactionSeconds prometheus.Histogram
	nodes             prometheus.Gauge
	edges             prometheus.Gauge
	individuals       prometheus.Gauge
}

// NewRecorder creates a Recorder with its own registry. constLabels are
// attached to every metric (for example a run id).
func NewRecorder(constLabels prometheus.Labels) *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		generations: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "generations_total",
			Help:        "Generations advanced.",
			ConstLabels: constLabels,
		}),
		compactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "compactions_total",
			Help:        "Compactions run, by kind (periodic or final).",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		compactionSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "compaction_seconds",
			Help:        "Wall time spent simplifying the ledger.",
			Buckets:     prometheus.ExponentialBuckets(0.0005, 4, 10),
			ConstLabels: constLabels,
		}),
		nodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "ledger_nodes",
			Help:        "Rows in the node table.",
			ConstLabels: constLabels,
		}),
		edges: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "ledger_edges",
			Help:        "Rows in the edge table.",
			ConstLabels: constLabels,
		}),
		individuals: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "ledger_individuals",
			Help:        "Rows in the individual table.",
			ConstLabels: constLabels,
		}),
	}
}

// Registry returns the underlying registry, or nil for a nil Recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Generation counts one advanced generation.
func (r *Recorder) Generation() {
	if r == nil {
		return
	}
	r.generations.Inc()
}

// Compaction records a finished compaction and its duration.
func (r *Recorder) Compaction(final bool, d time.Duration) {
	if r == nil {
		return
	}
	kind := "periodic"
	if final {
		kind = "final"
	}
	r.compactions.WithLabelValues(kind).Inc()
	r.compactionSeconds.Observe(d.Seconds())
}

// LedgerSize sets the table row gauges.
func (r *Recorder) LedgerSize(nodes, edges, individuals int) {
	if r == nil {
		return
	}
	r.nodes.Set(float64(nodes))
	r.edges.Set(float64(edges))
	r.individuals.Set(float64(individuals))
}

// WriteTextfile writes all metrics to path in the Prometheus text format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
