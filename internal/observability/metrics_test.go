package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/worklenz/activitylog/internal/jobs"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesJobMetrics(t *testing.T) {
	metrics := NewMetrics()
	jobs := jobmetrics.NewMetrics(metrics.Registerer())
	require.NoError(t, jobs.Track("activitylog:export").End(nil))

	assert.Contains(t, scrape(t, metrics), `activitylog_jobs_total{job="activitylog:export",status="success"} 1`)
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	assert.Contains(t, body, `activitylog_http_requests_total{code="418",route="/test"} 1`)
	assert.Contains(t, body, `activitylog_http_request_duration_seconds_bucket{route="/test"`)
}

func TestObserveExport(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveExport("pdf", "success", 20000)
	metrics.ObserveExport("pdf", "aborted", 0)

	body := scrape(t, metrics)
	assert.Contains(t, body, `activitylog_exports_total{format="pdf",outcome="success"} 1`)
	assert.Contains(t, body, `activitylog_exports_total{format="pdf",outcome="aborted"} 1`)
	assert.Contains(t, body, `activitylog_export_bytes_count{format="pdf"} 1`)

	var nilMetrics *Metrics
	nilMetrics.ObserveExport("csv", "success", 1)
}
