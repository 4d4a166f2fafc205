//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-aggregate-service/internal/cache"
	"github.com/kjstillabower/weather-aggregate-service/internal/client"
	"github.com/kjstillabower/weather-aggregate-service/internal/ratelimit"
	"github.com/kjstillabower/weather-aggregate-service/internal/registry"
	"github.com/kjstillabower/weather-aggregate-service/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	CacheBackend  string // in_memory, memcached, redis or badger
	MemcachedAddr string
	RedisAddr     string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}
	return IntegrationTestConfig{
		APIKey:        apiKey,
		APIURL:        envOr("WEATHER_API_URL", client.DefaultBaseURL),
		CacheBackend:  envOr("INTEGRATION_CACHE_BACKEND", cache.BackendInMemory),
		MemcachedAddr: envOr("MEMCACHED_ADDRS", "localhost:11211"),
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
	}
}

// SetupIntegrationCache opens the configured backend under a per-test key prefix. Falls back to
// in-memory when the backend is unreachable.
func SetupIntegrationCache(t *testing.T, cfg IntegrationTestConfig) cache.Backend {
	t.Helper()
	backend, err := cache.Open(cache.BackendConfig{
		Backend:          cfg.CacheBackend,
		KeyPrefix:        "it:" + t.Name() + ":",
		MemcachedAddrs:   cfg.MemcachedAddr,
		MemcachedTimeout: 500 * time.Millisecond,
		RedisAddr:        cfg.RedisAddr,
		RedisTimeout:     time.Second,
		BadgerPath:       t.TempDir(),
	})
	if err == nil {
		err = backend.Ping()
	}
	if err != nil {
		t.Logf("%s not available (%v), using in-memory cache", cfg.CacheBackend, err)
		backend = cache.NewInMemoryCache()
	}
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

// SetupIntegrationClient creates a live weather client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.OpenWeatherClient {
	t.Helper()
	c, err := client.NewOpenWeatherClient(cfg.APIKey, cfg.APIURL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return c
}

// SetupIntegrationService wires a live client, the configured cache and the default entities.
// Calls are paced one second apart to stay inside the free-tier limits.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.WeatherService, cache.Backend) {
	t.Helper()
	backend := SetupIntegrationCache(t, cfg)
	svc := service.NewWeatherService(
		SetupIntegrationClient(t, cfg),
		backend,
		registry.MustNew(registry.DefaultEntities),
		ratelimit.NewFixedDelay(time.Second),
		service.Options{Logger: zap.NewNop()},
	)
	return svc, backend
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
