package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestMetrics_Usable verifies that all Prometheus metrics can be used without
// panic, ensuring label dimensions match usage across client, http, service, and cache packages.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/api/weather", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/api/weather").Observe(0.01)
	WeatherAPICallsTotal.WithLabelValues("current", "success").Inc()
	WeatherAPIDuration.WithLabelValues("forecast", "server_error").Observe(0.1)
	WeatherAPIErrorsTotal.WithLabelValues("current", "timeout").Inc()
	EntityFetchesTotal.WithLabelValues("scheduled", "degraded").Inc()
	RefreshRunsTotal.WithLabelValues("on_demand", "entity", "success").Inc()
	RefreshDurationSeconds.WithLabelValues("scheduled", "all").Observe(3)
	CacheLookupsTotal.WithLabelValues("all", "hit").Inc()
	CacheErrorsTotal.WithLabelValues("get", "connection").Inc()
	AggregateEntities.Set(3)
	AggregateWriteOverlapTotal.Inc()
	FetchPacingWaitSeconds.WithLabelValues("fixed_delay").Observe(1)
	RecordCircuitBreakerTransition("weather_api", "closed", "open", 1)
	ObserveCacheOp("set", time.Now(), errors.New("boom"))
	ObserveCacheOp("get", time.Now(), nil)
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()
	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "httpRequestsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}
