package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-aggregate-service/internal/aggregate"
	"github.com/kjstillabower/weather-aggregate-service/internal/client"
	"github.com/kjstillabower/weather-aggregate-service/internal/models"
	"github.com/kjstillabower/weather-aggregate-service/internal/observability"
	"github.com/kjstillabower/weather-aggregate-service/internal/service"
	"github.com/kjstillabower/weather-aggregate-service/internal/traffic"
)

const serviceName = "weather-aggregate-service"

// WeatherGetter serves the aggregate. Implemented by service.WeatherService.
type WeatherGetter interface {
	Get(ctx context.Context, entityFilter string, forceRefresh bool) (service.Response, error)
}

// Refresher runs a scheduled-style full refresh. Implemented by service.WeatherService.
type Refresher interface {
	ScheduledRefresh(ctx context.Context) models.RefreshResult
}

// HealthConfig holds thresholds and dependency checks for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// Outcomes holds recent upstream fetch outcomes; nil disables the error-rate check.
	Outcomes *traffic.Tracker
	// CachePing, when set, is called to check cache reachability.
	CachePing func() error
	// LastRefresh, when set, reports the most recent scheduled run. Reported only; it does not
	// change the status since the stored aggregate outlives a failed run.
	LastRefresh func() (models.RefreshResult, bool)
	Version     string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather      WeatherGetter
	refresher    Refresher
	client       client.WeatherClient
	healthConfig *HealthConfig
	logger       *zap.Logger

	shuttingDown     atomic.Bool
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. refresher may be nil when the HTTP trigger is disabled.
func NewHandler(
	weather WeatherGetter,
	refresher Refresher,
	client client.WeatherClient,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		weather:      weather,
		refresher:    refresher,
		client:       client,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// SetShuttingDown marks the process as draining. Health returns 503 while set.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

// IsShuttingDown reports whether SetShuttingDown(true) was called.
func (h *Handler) IsShuttingDown() bool {
	return h.shuttingDown.Load()
}

// GetWeather handles GET /api/weather?entity=<name>&forceRefresh=true.
// forceRefresh is honored only for the literal value "true".
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entity := q.Get("entity")
	force := q.Get("forceRefresh") == "true"

	resp, err := h.weather.Get(r.Context(), entity, force)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	body, err := aggregate.Encode(resp.Data)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	// Nothing was stored for an empty result, so clients must not cache it either.
	if resp.Source == service.SourceNone {
		w.Header().Set("Cache-Control", "no-store")
	} else {
		w.Header().Set("Cache-Control", "max-age="+strconv.Itoa(int(resp.TTL.Seconds())))
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Cache", string(resp.Source))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// PostRefresh handles POST /internal/refresh: one full refresh with the scheduled TTL.
// Responds 200 with the RefreshResult on success and 500 with it otherwise.
func (h *Handler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "refresh trigger disabled"})
		return
	}
	result := h.refresher.ScheduledRefresh(r.Context())
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	version := "dev"
	if h.healthConfig != nil && h.healthConfig.Version != "" {
		version = h.healthConfig.Version
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   serviceName,
		"version":   version,
		"checks":    result.checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > API key rejected or missing > upstream error rate > healthy.
// The cache check is reported but does not change the status; a cache outage degrades to fetching.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	checks := map[string]string{}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}

	if h.healthConfig != nil && h.healthConfig.LastRefresh != nil {
		if last, ok := h.healthConfig.LastRefresh(); ok {
			checks["scheduledRefresh"] = "healthy"
			if !last.Success {
				checks["scheduledRefresh"] = "failed"
			}
		}
	}

	if h.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", checks}
	}

	if err := h.client.ValidateAPIKey(ctx); err != nil {
		checks["weatherApi"] = "unhealthy"
		reason := "api_unreachable"
		if client.IsConfigError(err) {
			reason = "api_key_invalid"
		}
		return healthResult{"degraded", http.StatusServiceUnavailable, reason, checks}
	}
	checks["weatherApi"] = "healthy"

	checks["upstream"] = "healthy"
	if h.healthConfig != nil && h.healthConfig.Outcomes != nil &&
		h.healthConfig.Outcomes.Breached(h.healthConfig.DegradedWindow, h.healthConfig.DegradedErrorPct) {
		checks["upstream"] = "degraded"
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach", checks}
	}
	return healthResult{"healthy", http.StatusOK, "", checks}
}

// writeJSON writes a JSON response with the specified HTTP status code.
// Sets Content-Type header to application/json and encodes the provided value.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError writes a 500 with {"error": message}. The message names the failure class;
// the underlying error is logged with the request's correlation ID.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	msg := "Unable to fetch weather data"
	switch {
	case errors.Is(err, service.ErrConfig):
		msg = "Weather service is not configured"
	case errors.Is(err, service.ErrCacheWrite):
		msg = "Unable to store weather data"
	case errors.Is(err, context.DeadlineExceeded):
		msg = "Timed out fetching weather data"
	}
	observability.LoggerFromContext(r.Context(), h.logger).Error("weather request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msg})
}
