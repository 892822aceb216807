// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NormalizationSkipped counts source records dropped by the normalizer.
	NormalizationSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_normalization_skipped_total",
			Help: "Source records skipped during normalization",
		},
		[]string{"source"},
	)

	// ReconcileBatchFailures counts upsert batches that failed and were skipped.
	ReconcileBatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_reconcile_batch_failures_total",
			Help: "Reconciliation batches that failed",
		},
		[]string{"group"},
	)

	// ReconciledRows counts rows written by the reconciler.
	ReconciledRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_reconciled_rows_total",
			Help: "Rows inserted or updated in users by reconciliation",
		},
		[]string{"group"},
	)

	// SourceFailures counts external sources that failed after retries.
	SourceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_source_failures_total",
			Help: "External lead source fetches that failed",
		},
		[]string{"source"},
	)

	// SourceRecords counts raw records fetched per source.
	SourceRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_source_records_total",
			Help: "Raw records fetched from each lead source",
		},
		[]string{"source"},
	)

	// SourceCache counts cache hits and misses per source.
	SourceCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_source_cache_total",
			Help: "Source cache lookups by result",
		},
		[]string{"source", "result"},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
