package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-aggregate-service/internal/observability"
)

// RouterConfig controls which routes are mounted and the per-route middleware.
type RouterConfig struct {
	RequestTimeout time.Duration
	// RateLimiter guards /api; nil disables limiting.
	RateLimiter *rate.Limiter
	// RefreshTrigger mounts POST /internal/refresh.
	RefreshTrigger bool
	InFlight       *InFlightTracker
}

// NewRouter wires handler routes:
//
//	GET  /health
//	GET  /metrics
//	GET  /api/weather        (rate limited, request timeout)
//	POST /internal/refresh   (when RefreshTrigger)
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(h.logger))
	router.Use(MetricsMiddleware(cfg.InFlight))

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(cfg.RateLimiter))
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	api.HandleFunc("/weather", h.GetWeather).Methods(http.MethodGet)

	if cfg.RefreshTrigger {
		router.HandleFunc("/internal/refresh", h.PostRefresh).Methods(http.MethodPost)
	}

	h.logger.Debug("routes mounted", zap.Bool("refresh_trigger", cfg.RefreshTrigger))
	return router
}
