// Package telemetry exposes Prometheus metrics for the write and read paths.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	documentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbpipeline_documents_total",
			Help: "Documents processed, labeled by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	fetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbpipeline_fetch_bytes_total",
			Help: "Raw bytes fetched, labeled by source.",
		},
		[]string{"source"},
	)

	chunksIndexedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbpipeline_chunks_indexed_total",
			Help: "Chunks submitted to corpus backends, labeled by corpus.",
		},
		[]string{"corpus"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kbpipeline_active_workers",
			Help: "Workers currently processing a document.",
		},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kbpipeline_rate_limit_delay_seconds",
			Help:    "Histogram of politeness-interval wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	queryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kbpipeline_query_duration_seconds",
			Help:    "Histogram of per-corpus query latencies.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"corpus", "outcome"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbpipeline_http_requests_total",
			Help: "API requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)
)

// CountDocument records one processed document with its outcome
// (new, changed, unchanged, stale_recheck, failed).
func CountDocument(source, outcome string) {
	documentsTotal.WithLabelValues(source, outcome).Inc()
}

// AddFetchBytes records raw payload volume per source.
func AddFetchBytes(source string, n int) {
	fetchBytesTotal.WithLabelValues(source).Add(float64(n))
}

// AddChunksIndexed records chunks submitted to one corpus.
func AddChunksIndexed(corpus string, n int) {
	chunksIndexedTotal.WithLabelValues(corpus).Add(float64(n))
}

// WorkerStarted/WorkerFinished track pool occupancy.
func WorkerStarted()  { activeWorkers.Inc() }
func WorkerFinished() { activeWorkers.Dec() }

// ObserveRateLimitDelay records a politeness wait for one host.
func ObserveRateLimitDelay(host string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveQuery records one per-corpus search call.
func ObserveQuery(corpus, outcome string, d time.Duration) {
	queryDurationSeconds.WithLabelValues(corpus, outcome).Observe(d.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware instruments API handlers with request counts.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
