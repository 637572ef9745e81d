// Package metrics records Prometheus metrics for mask exports.
//
// Metrics:
//   - maskwriter_rows_written_total: scanlines written
//   - maskwriter_bytes_written_total: mask bytes written
//   - maskwriter_exports_total: finished exports by status
//   - maskwriter_export_failures_total: failed exports by error kind
//   - maskwriter_export_duration_seconds: export duration histogram
//   - maskwriter_stage_duration_seconds: duration of open, create and stream stages
//   - maskwriter_last_export_pixels: width*height of the last export
//
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace is the metric namespace used when none is given.
const DefaultNamespace = "maskwriter"

// Recorder records export metrics into its own registry.
type Recorder struct {
	registry *prometheus.Registry

	rowsTotal      prometheus.Counter
	bytesTotal     prometheus.Counter
	exportsTotal   *prometheus.CounterVec
	failuresTotal  *prometheus.CounterVec
	exportDuration prometheus.Histogram
	stageDuration  *prometheus.HistogramVec
	lastPixels     prometheus.Gauge
}

// NewRecorder creates a Recorder and registers its metrics with registry.
// If registry is nil, a new registry is created.
func NewRecorder(namespace string, registry *prometheus.Registry) *Recorder {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	r := &Recorder{
		registry: registry,
		rowsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Total number of mask scanlines written",
		}),
		bytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Total number of mask bytes written",
		}),
		exportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Total number of finished exports by status",
		}, []string{"status"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_failures_total",
			Help:      "Total number of failed exports by error kind",
		}, []string{"kind"}),
		exportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_duration_seconds",
			Help:      "Duration of exports in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4m
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of export stages in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		lastPixels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_export_pixels",
			Help:      "Number of pixels of the last export",
		}),
	}

	registry.MustRegister(
		r.rowsTotal,
		r.bytesTotal,
		r.exportsTotal,
		r.failuresTotal,
		r.exportDuration,
		r.stageDuration,
		r.lastPixels,
	)
	return r
}

// Registry returns the registry the metrics are registered with.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RecordRow records one written scanline of n bytes.
func (r *Recorder) RecordRow(n int) {
	if r == nil {
		return
	}
	r.rowsTotal.Inc()
	r.bytesTotal.Add(float64(n))
}

// RecordStage records the duration of an export stage.
func (r *Recorder) RecordStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordExport records a finished export.
func (r *Recorder) RecordExport(status string, width, height int, d time.Duration) {
	if r == nil {
		return
	}
	r.exportsTotal.WithLabelValues(status).Inc()
	r.exportDuration.Observe(d.Seconds())
	r.lastPixels.Set(float64(width) * float64(height))
}

// RecordFailure records a failed export by error kind.
func (r *Recorder) RecordFailure(kind string) {
	if r == nil {
		return
	}
	r.failuresTotal.WithLabelValues(kind).Inc()
}

// WriteTextfile writes all metrics in the Prometheus text format to path,
// for collection by the node exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
