package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/v1/projects/{projectID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}).Methods(http.MethodGet)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/projects/95", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Counted under the route template, not the raw path.
	count := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(
		http.MethodGet, "/v1/projects/{projectID}", "200"))
	assert.Equal(t, 1.0, count)
}

func TestHTTPMetricsMiddlewareErrorStatus(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	h := HTTPMetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	count := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(
		http.MethodGet, "/missing", "404"))
	assert.Equal(t, 1.0, count)
}

func TestMetricsHandlerScrape(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.QueriesTotal.WithLabelValues("95", "ok").Inc()
	metrics.Ready.Set(1)

	rec := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "kbai_queries_total"))
	assert.True(t, strings.Contains(body, "kbai_ready 1"))
}

func TestIndexBuildMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.IndexBuildsTotal.WithLabelValues("95", "ok").Inc()
	metrics.IndexRecordsTotal.WithLabelValues("95").Set(12)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IndexBuildsTotal.WithLabelValues("95", "ok")))
	assert.Equal(t, 12.0, testutil.ToFloat64(metrics.IndexRecordsTotal.WithLabelValues("95")))
}
