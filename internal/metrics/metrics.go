// Package metrics records import activity in a per-run Prometheus registry.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"statusdrift/internal/diff"
	"statusdrift/internal/lattice"
	"statusdrift/internal/store"
)

const namespace = "statusdrift"

var _ diff.Observer = (*Recorder)(nil)

type Recorder struct {
	registry      *prometheus.Registry
	rows          *prometheus.CounterVec
	rowErrors     *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	batches       *prometheus.CounterVec
	chunkDuration prometheus.Histogram
	expectedRows  prometheus.Gauge
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		rows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Snapshot rows processed, by outcome.",
		}, []string{"outcome"}),
		rowErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "row_errors_total",
			Help:      "Snapshot rows skipped, by reason.",
		}, []string{"reason"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Status transitions recorded, by classification and severity.",
		}, []string{"classification", "severity"}),
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Import batches finished, by final status.",
		}, []string{"status"}),
		chunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_duration_seconds",
			Help:      "Time to write and commit one chunk.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		expectedRows: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_rows",
			Help:      "Rows found in the snapshot being imported.",
		}),
	}
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) Started(total int) {
	r.expectedRows.Set(float64(total))
}

func (r *Recorder) ChunkCommitted(rows int, elapsed time.Duration) {
	r.chunkDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) RowClassified(outcome diff.Outcome, transition lattice.Transition) {
	r.rows.WithLabelValues(string(outcome)).Inc()
	if transition.Classification != "" {
		r.transitions.WithLabelValues(string(transition.Classification), string(transition.Severity)).Inc()
	}
}

func (r *Recorder) RowRejected(reason string) {
	r.rows.WithLabelValues(string(diff.OutcomeError)).Inc()
	r.rowErrors.WithLabelValues(reason).Inc()
}

func (r *Recorder) BatchFinished(status store.BatchStatus) {
	r.batches.WithLabelValues(string(status)).Inc()
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
