package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.SnippetCaptured("text")
	m.SnippetCaptured("text")
	m.SnippetCaptured("image")
	m.CaptureSkipped(SkipDuplicate)
	m.CaptureError()
	m.SetQueueSize(3)
	m.SnippetProcessed("done", 10*time.Millisecond)
	m.SnippetProcessed("error", time.Millisecond)
	m.OCRRun(true)
	m.OCRRun(false)

	require.Equal(t, 2.0, testutil.ToFloat64(m.captured.WithLabelValues("text")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.captured.WithLabelValues("image")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.skipped.WithLabelValues(SkipDuplicate)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.captureErrors))
	require.Equal(t, 3.0, testutil.ToFloat64(m.queueSize))
	require.Equal(t, 1.0, testutil.ToFloat64(m.processed.WithLabelValues("error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ocrRuns.WithLabelValues("empty")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.SnippetCaptured("text")
	m.CaptureSkipped(SkipEmpty)
	m.CaptureError()
	m.SetQueueSize(1)
	m.SnippetProcessed("done", time.Second)
	m.OCRRun(true)
	require.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SnippetCaptured("web")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `clipvault_capture_snippets_total{source_type="web"} 1`))
}
