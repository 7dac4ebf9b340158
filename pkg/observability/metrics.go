package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Index build metrics
	IndexBuildsTotal   *prometheus.CounterVec
	IndexBuildDuration *prometheus.HistogramVec
	IndexRecordsTotal  *prometheus.GaugeVec

	// Query metrics
	QueriesTotal   *prometheus.CounterVec
	QueryDuration  *prometheus.HistogramVec
	QuerySources   prometheus.Histogram
	ToolCallsTotal *prometheus.CounterVec

	// Retrieval cache metrics
	EmbeddingCacheHitsTotal   prometheus.Counter
	EmbeddingCacheMissesTotal prometheus.Counter

	// Trace ring metrics
	TracesStored prometheus.Gauge

	// Readiness
	Ready prometheus.Gauge

	registry *prometheus.Registry
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kbai_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kbai_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kbai_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kbai_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		IndexBuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kbai_index_builds_total",
				Help: "Total number of index build passes",
			},
			[]string{"project", "status"},
		),
		IndexBuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kbai_index_build_duration_seconds",
				Help:    "Index build duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"project"},
		),
		IndexRecordsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kbai_index_records_total",
				Help: "Number of records in the published index",
			},
			[]string{"project"},
		),

		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kbai_queries_total",
				Help: "Total number of knowledge base queries",
			},
			[]string{"project", "status"},
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kbai_query_duration_seconds",
				Help:    "End-to-end query duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"project"},
		),
		QuerySources: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kbai_query_sources",
				Help:    "Number of sources returned per query",
				Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
			},
		),
		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kbai_tool_calls_total",
				Help: "Total number of tool executions",
			},
			[]string{"tool", "status"},
		),

		EmbeddingCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kbai_embedding_cache_hits_total",
				Help: "Total number of query embedding cache hits",
			},
		),
		EmbeddingCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kbai_embedding_cache_misses_total",
				Help: "Total number of query embedding cache misses",
			},
		),

		TracesStored: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kbai_traces_stored",
				Help: "Number of traces currently held in the ring",
			},
		),

		Ready: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kbai_ready",
				Help: "Whether the service is ready to serve requests",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.IndexBuildsTotal,
		m.IndexBuildDuration,
		m.IndexRecordsTotal,
		m.QueriesTotal,
		m.QueryDuration,
		m.QuerySources,
		m.ToolCallsTotal,
		m.EmbeddingCacheHitsTotal,
		m.EmbeddingCacheMissesTotal,
		m.TracesStored,
		m.Ready,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routePath returns the route template when the router matched one,
// keeping label cardinality bounded. Falls back to the raw path.
func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := routePath(r)
			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, path).Observe(float64(r.ContentLength))
			}

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler returns the Prometheus scrape handler for the registry.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
