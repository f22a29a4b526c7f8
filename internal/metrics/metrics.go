// Package metrics exposes capture and enrichment counters on a private Prometheus registry.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clipvault"

// Skip reasons for CaptureSkipped.
const (
	SkipDuplicate   = "duplicate"
	SkipSelfCapture = "self_capture"
	SkipEmpty       = "empty"
)

type Metrics struct {
	registry *prometheus.Registry

	captured      *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	captureErrors prometheus.Counter
	queueSize     prometheus.Gauge
	processed     *prometheus.CounterVec
	duration      prometheus.Histogram
	ocrRuns       *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		captured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "capture", Name: "snippets_total",
			Help: "Snippets created from clipboard observations.",
		}, []string{"source_type"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "capture", Name: "skipped_total",
			Help: "Polls that produced no snippet, by reason.",
		}, []string{"reason"}),
		captureErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "capture", Name: "errors_total",
			Help: "Recoverable failures swallowed by the poll loop.",
		}),
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "queue_size",
			Help: "Snippets waiting for or undergoing enrichment.",
		}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "processed_total",
			Help: "Enrichment attempts by final status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "duration_seconds",
			Help:    "Wall time of one snippet enrichment.",
			Buckets: prometheus.ExponentialBuckets(0.005, 3, 10),
		}),
		ocrRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ocr", Name: "runs_total",
			Help: "OCR invocations by outcome (text or empty).",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.captured, m.skipped, m.captureErrors, m.queueSize, m.processed, m.duration, m.ocrRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) SnippetCaptured(sourceType string) {
	if m == nil {
		return
	}
	m.captured.WithLabelValues(sourceType).Inc()
}

func (m *Metrics) CaptureSkipped(reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) CaptureError() {
	if m == nil {
		return
	}
	m.captureErrors.Inc()
}

func (m *Metrics) SetQueueSize(n int) {
	if m == nil {
		return
	}
	m.queueSize.Set(float64(n))
}

// SnippetProcessed records one finished enrichment.
func (m *Metrics) SnippetProcessed(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(status).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) OCRRun(gotText bool) {
	if m == nil {
		return
	}
	result := "empty"
	if gotText {
		result = "text"
	}
	m.ocrRuns.WithLabelValues(result).Inc()
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
