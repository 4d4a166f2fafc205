package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-aggregate-service/internal/cache"
	"github.com/kjstillabower/weather-aggregate-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-aggregate-service/internal/client"
	"github.com/kjstillabower/weather-aggregate-service/internal/config"
	httphandler "github.com/kjstillabower/weather-aggregate-service/internal/http"
	"github.com/kjstillabower/weather-aggregate-service/internal/observability"
	"github.com/kjstillabower/weather-aggregate-service/internal/ratelimit"
	"github.com/kjstillabower/weather-aggregate-service/internal/registry"
	"github.com/kjstillabower/weather-aggregate-service/internal/scheduler"
	"github.com/kjstillabower/weather-aggregate-service/internal/service"
	"github.com/kjstillabower/weather-aggregate-service/internal/traffic"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const inFlightCheckInterval = 50 * time.Millisecond

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	// A missing key is not fatal: the process serves /health and every fetch reports misconfiguration.
	var weatherClient client.WeatherClient
	owClient, err := client.NewOpenWeatherClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout)
	switch {
	case err == nil:
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitFailureThreshold,
			SuccessThreshold: cfg.CircuitSuccessThreshold,
			Timeout:          cfg.CircuitOpenTimeout,
			Component:        "weather_api",
			IsSuccessful:     client.BreakerIsSuccessful,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition("weather_api", from.String(), to.String(), int(to))
				logger.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		owClient.SetCircuitBreaker(cb)
		observability.CircuitBreakerState.WithLabelValues("weather_api").Set(float64(cb.State()))
		weatherClient = owClient
	case client.IsConfigError(err):
		logger.Warn("weather API key not usable; fetches will fail until configured", zap.Error(err))
		weatherClient = client.UnconfiguredClient{Err: err}
	default:
		logger.Fatal("weather client", zap.Error(err))
	}

	backend, err := cache.Open(cache.BackendConfig{
		Backend:               cfg.CacheBackend,
		KeyPrefix:             cfg.CacheKeyPrefix,
		MemcachedAddrs:        cfg.MemcachedAddrs,
		MemcachedTimeout:      cfg.MemcachedTimeout,
		MemcachedMaxIdleConns: cfg.MemcachedMaxIdleConns,
		RedisAddr:             cfg.RedisAddr,
		RedisPassword:         cfg.RedisPassword,
		RedisDB:               cfg.RedisDB,
		RedisTimeout:          cfg.RedisTimeout,
		BadgerPath:            cfg.BadgerPath,
	})
	if err != nil {
		logger.Fatal("cache backend", zap.Error(err))
	}
	if err := backend.Ping(); err != nil {
		logger.Warn("cache backend unreachable at startup; requests will fetch upstream", zap.String("backend", cfg.CacheBackend), zap.Error(err))
	}
	logger.Info("cache backend", zap.String("backend", cfg.CacheBackend), zap.String("key", cfg.CacheKeyPrefix+cfg.CacheKey))

	reg, err := registry.New(cfg.Entities)
	if err != nil {
		logger.Fatal("entities", zap.Error(err))
	}
	sequencer, err := ratelimit.New(ratelimit.Config{
		Strategy:   cfg.FetchStrategy,
		FetchDelay: cfg.FetchDelay,
		FetchRPS:   cfg.FetchRPS,
		FetchBurst: cfg.FetchBurst,
	})
	if err != nil {
		logger.Fatal("fetch pacing", zap.Error(err))
	}

	outcomes := traffic.NewTracker(cfg.DegradedWindow)
	weatherService := service.NewWeatherService(weatherClient, backend, reg, sequencer, service.Options{
		CacheKey:     cfg.CacheKey,
		OnDemandTTL:  cfg.OnDemandTTL,
		ScheduledTTL: cfg.ScheduledTTL,
		Logger:       logger,
		Outcomes:     outcomes,
	})

	var sched *scheduler.Scheduler
	if cfg.ScheduleEnabled {
		sched = scheduler.New(weatherService, scheduler.Config{
			Interval:   cfg.ScheduleInterval,
			Cron:       cfg.ScheduleCron,
			RunOnStart: cfg.ScheduleRunOnStart,
			RunTimeout: cfg.ScheduleRunTimeout,
		}, logger)
		if err := sched.Start(); err != nil {
			logger.Fatal("scheduler", zap.Error(err))
		}
	}

	var refresher httphandler.Refresher
	if cfg.ScheduleHTTPTrigger {
		refresher = weatherService
		logger.Info("refresh trigger enabled at POST /internal/refresh")
	}
	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		Outcomes:         outcomes,
		CachePing:        backend.Ping,
		Version:          version,
	}
	if sched != nil {
		healthConfig.LastRefresh = sched.LastResult
	}
	handler := httphandler.NewHandler(weatherService, refresher, weatherClient, healthConfig, logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	inFlight := httphandler.NewInFlightTracker()
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		RateLimiter:    limiter,
		RefreshTrigger: cfg.ScheduleHTTPTrigger,
		InFlight:       inFlight,
	})

	// A cold full request paces every entity, so the write timeout follows the request timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort), zap.Strings("entities", reg.Keys()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	handler.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight.Count()))
	if err := inFlight.WaitForZero(shutdownCtx, inFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}

	if sched != nil {
		sched.Stop()
	}

	if err := backend.Close(); err != nil {
		logger.Error("cache close", zap.Error(err))
	}
	if err := observability.FlushTelemetry(logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
