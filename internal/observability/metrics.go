package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95 growth on cache misses (sequential fetch + pacing).
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, slow drains on shutdown.
	HTTPRequestsInFlight prometheus.Gauge

	// Vendor API calls by endpoint (current, forecast) and status. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Vendor API latency. Watch for: p99 near the client timeout.
	WeatherAPIDuration *prometheus.HistogramVec

	// Vendor API errors by endpoint and category (client.CategorizeError).
	WeatherAPIErrorsTotal *prometheus.CounterVec

	// Per-entity fetch outcome (success, degraded, failed) by trigger.
	EntityFetchesTotal *prometheus.CounterVec

	// Refresh runs by trigger (on_demand, scheduled), scope (entity, all) and result.
	RefreshRunsTotal *prometheus.CounterVec

	// Wall time of a refresh run, including pacing delays.
	RefreshDurationSeconds *prometheus.HistogramVec

	// Aggregate lookups on the read path by scope and result (hit, miss).
	CacheLookupsTotal *prometheus.CounterVec

	// Cache get/set latency by status.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Cache errors by op and category. Read errors fall through to a fetch; write errors fail the operation.
	CacheErrorsTotal *prometheus.CounterVec

	// Entities in the last aggregate written by this process.
	AggregateEntities prometheus.Gauge

	// Writes to the aggregate that started while another read-modify-write was in progress.
	// These are last-write-wins; a non-zero rate means a partial refresh may have been overwritten.
	AggregateWriteOverlapTotal prometheus.Counter

	// Time spent waiting in the fetch sequencer between entities.
	FetchPacingWaitSeconds *prometheus.HistogramVec

	// Circuit breaker state per component (0 closed, 1 open, 2 half_open).
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of OpenWeatherMap API calls",
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "OpenWeatherMap API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiErrorsTotal",
			Help: "OpenWeatherMap API errors by endpoint and category",
		},
		[]string{"endpoint", "category"},
	)
	EntityFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityFetchesTotal",
			Help: "Per-entity fetch outcomes (success, degraded, failed) by trigger",
		},
		[]string{"trigger", "outcome"},
	)
	RefreshRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refreshRunsTotal",
			Help: "Aggregate refresh runs by trigger, scope and result",
		},
		[]string{"trigger", "scope", "result"},
	)
	RefreshDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refreshDurationSeconds",
			Help:    "Aggregate refresh wall time in seconds, including pacing delays",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"trigger", "scope"},
	)
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheLookupsTotal",
			Help: "Aggregate lookups by scope (entity, all) and result (hit, miss)",
		},
		[]string{"scope", "result"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache get/set latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"op", "status"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache errors by operation and category",
		},
		[]string{"op", "category"},
	)
	AggregateEntities = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aggregateEntities",
			Help: "Entities in the last aggregate document written by this process",
		},
	)
	AggregateWriteOverlapTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aggregateWriteOverlapTotal",
			Help: "Aggregate writes that overlapped another in-progress read-modify-write (last write wins)",
		},
	)
	FetchPacingWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetchPacingWaitSeconds",
			Help:    "Time waited in the fetch sequencer between entity fetches",
			Buckets: []float64{.01, .1, .5, 1, 2, 5},
		},
		[]string{"strategy"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half_open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIErrorsTotal,
		EntityFetchesTotal, RefreshRunsTotal, RefreshDurationSeconds,
		CacheLookupsTotal, CacheOperationDurationSeconds, CacheErrorsTotal,
		AggregateEntities, AggregateWriteOverlapTotal,
		FetchPacingWaitSeconds,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		RateLimitDeniedTotal,
	)
}

// RecordCircuitBreakerTransition updates the state gauge and transition counter.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// ObserveCacheOp records latency for a cache operation started at start.
func ObserveCacheOp(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	CacheOperationDurationSeconds.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
