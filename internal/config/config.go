package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/weather-aggregate-service/internal/cache"
	"github.com/kjstillabower/weather-aggregate-service/internal/models"
	"github.com/kjstillabower/weather-aggregate-service/internal/ratelimit"
	"github.com/kjstillabower/weather-aggregate-service/internal/registry"
)

const (
	BackendInMemory  = cache.BackendInMemory
	BackendMemcached = cache.BackendMemcached
	BackendRedis     = cache.BackendRedis
	BackendBadger    = cache.BackendBadger

	StrategyFixedDelay  = ratelimit.StrategyFixedDelay
	StrategyTokenBucket = ratelimit.StrategyTokenBucket
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort      string
	ShutdownTimeout time.Duration

	// WeatherAPIKey may be empty; the service then starts and every fetch fails as misconfigured.
	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	RequestTimeout time.Duration

	CacheBackend   string
	CacheKey       string
	CacheKeyPrefix string
	OnDemandTTL    time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTimeout  time.Duration

	// BadgerPath empty means an in-memory badger instance.
	BadgerPath string

	ScheduleEnabled     bool
	ScheduleInterval    time.Duration
	ScheduleCron        string
	ScheduledTTL        time.Duration
	ScheduleRunOnStart  bool
	ScheduleRunTimeout  time.Duration
	ScheduleHTTPTrigger bool

	FetchStrategy string
	FetchDelay    time.Duration
	FetchRPS      float64
	FetchBurst    int

	RateLimitRPS   int
	RateLimitBurst int

	CircuitFailureThreshold int
	CircuitSuccessThreshold int
	CircuitOpenTimeout      time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int

	Entities []models.Entity
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend     string `yaml:"backend"`
		Key         string `yaml:"key"`
		KeyPrefix   string `yaml:"key_prefix"`
		OnDemandTTL string `yaml:"on_demand_ttl"`
		Memcached   struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Timeout  string `yaml:"timeout"`
		} `yaml:"redis"`
		Badger struct {
			Path string `yaml:"path"`
		} `yaml:"badger"`
	} `yaml:"cache"`

	Schedule struct {
		Enabled      *bool  `yaml:"enabled"`
		Interval     string `yaml:"interval"`
		Cron         string `yaml:"cron"`
		ScheduledTTL string `yaml:"scheduled_ttl"`
		RunOnStart   *bool  `yaml:"run_on_start"`
		RunTimeout   string `yaml:"run_timeout"`
		HTTPTrigger  bool   `yaml:"http_trigger"`
	} `yaml:"schedule"`

	RateLimit struct {
		Strategy   string  `yaml:"strategy"`
		FetchDelay string  `yaml:"fetch_delay"`
		FetchRPS   float64 `yaml:"fetch_rps"`
		FetchBurst int     `yaml:"fetch_burst"`
		RPS        int     `yaml:"rps"`
		Burst      int     `yaml:"burst"`
	} `yaml:"rate_limit"`

	CircuitBreaker struct {
		FailureThreshold int    `yaml:"failure_threshold"`
		SuccessThreshold int    `yaml:"success_threshold"`
		OpenTimeout      string `yaml:"open_timeout"`
	} `yaml:"circuit_breaker"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Entities []models.Entity `yaml:"entities"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// A .env file in the working directory is loaded first without overriding the environment.
// API key comes from WEATHER_API_KEY env or secrets file. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.WeatherAPIKey, err = loadAPIKey(cwd)
	if err != nil {
		return nil, err
	}

	cfg.WeatherAPIURL = fc.WeatherAPI.URL
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.openweathermap.org/data/2.5"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 30*time.Second)

	cfg.CacheBackend = envOr("CACHE_BACKEND", strings.ToLower(fc.Cache.Backend), BackendInMemory)
	cfg.CacheBackend = strings.ToLower(cfg.CacheBackend)
	cfg.CacheKey = strings.TrimSpace(fc.Cache.Key)
	if cfg.CacheKey == "" {
		cfg.CacheKey = "aggregate"
	}
	cfg.CacheKeyPrefix = strings.TrimSpace(fc.Cache.KeyPrefix)
	if cfg.CacheKeyPrefix == "" {
		cfg.CacheKeyPrefix = "weather:"
	}
	cfg.OnDemandTTL = parseDurationOrZero(fc.Cache.OnDemandTTL, time.Hour)

	cfg.MemcachedAddrs = envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RedisAddr = envOr("REDIS_ADDR", fc.Cache.Redis.Addr, "localhost:6379")
	cfg.RedisPassword = fc.Cache.Redis.Password
	cfg.RedisDB = fc.Cache.Redis.DB
	cfg.RedisTimeout = parseDuration(fc.Cache.Redis.Timeout, time.Second)

	cfg.BadgerPath = envOr("BADGER_PATH", fc.Cache.Badger.Path, "")

	cfg.ScheduleEnabled = true
	if fc.Schedule.Enabled != nil {
		cfg.ScheduleEnabled = *fc.Schedule.Enabled
	}
	cfg.ScheduleInterval = parseDuration(fc.Schedule.Interval, time.Hour)
	cfg.ScheduleCron = strings.TrimSpace(fc.Schedule.Cron)
	cfg.ScheduledTTL = parseDurationOrZero(fc.Schedule.ScheduledTTL, 6*time.Hour)
	cfg.ScheduleRunOnStart = true
	if fc.Schedule.RunOnStart != nil {
		cfg.ScheduleRunOnStart = *fc.Schedule.RunOnStart
	}
	cfg.ScheduleRunTimeout = parseDuration(fc.Schedule.RunTimeout, 5*time.Minute)
	cfg.ScheduleHTTPTrigger = fc.Schedule.HTTPTrigger

	cfg.FetchStrategy = strings.ToLower(strings.TrimSpace(fc.RateLimit.Strategy))
	if cfg.FetchStrategy == "" {
		cfg.FetchStrategy = StrategyFixedDelay
	}
	cfg.FetchDelay = parseDurationOrZero(fc.RateLimit.FetchDelay, time.Second)
	cfg.FetchRPS = fc.RateLimit.FetchRPS
	if cfg.FetchRPS <= 0 {
		cfg.FetchRPS = 1
	}
	cfg.FetchBurst = fc.RateLimit.FetchBurst
	if cfg.FetchBurst <= 0 {
		cfg.FetchBurst = 1
	}
	cfg.RateLimitRPS = fc.RateLimit.RPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 10
	}
	cfg.RateLimitBurst = fc.RateLimit.Burst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 20
	}

	cfg.CircuitFailureThreshold = fc.CircuitBreaker.FailureThreshold
	if cfg.CircuitFailureThreshold <= 0 {
		cfg.CircuitFailureThreshold = 5
	}
	cfg.CircuitSuccessThreshold = fc.CircuitBreaker.SuccessThreshold
	if cfg.CircuitSuccessThreshold <= 0 {
		cfg.CircuitSuccessThreshold = 1
	}
	cfg.CircuitOpenTimeout = parseDuration(fc.CircuitBreaker.OpenTimeout, 30*time.Second)

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 5*time.Minute)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.Entities = fc.Entities
	if len(cfg.Entities) == 0 {
		cfg.Entities = append([]models.Entity(nil), registry.DefaultEntities...)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadAPIKey returns WEATHER_API_KEY or the secrets file key. A missing key is not an error.
func loadAPIKey(cwd string) (string, error) {
	if key := strings.TrimSpace(os.Getenv("WEATHER_API_KEY")); key != "" {
		return key, nil
	}
	secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
	secretsData, err := os.ReadFile(secretsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(secretsData, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.WeatherAPIKey), nil
}

func envOr(name, fileVal, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	if v := strings.TrimSpace(fileVal); v != "" {
		return v
	}
	return defaultVal
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values. RequestTimeout is raised to
// cover at least one vendor call when it is shorter than WeatherAPITimeout.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	if cfg.OnDemandTTL <= 0 {
		return fmt.Errorf("cache.on_demand_ttl must be positive")
	}
	if cfg.ScheduledTTL <= 0 {
		return fmt.Errorf("schedule.scheduled_ttl must be positive")
	}
	if cfg.FetchDelay < 0 {
		return fmt.Errorf("rate_limit.fetch_delay must not be negative")
	}
	switch cfg.CacheBackend {
	case BackendInMemory, BackendMemcached, BackendRedis, BackendBadger:
	default:
		return fmt.Errorf("cache.backend must be one of in_memory, memcached, redis, badger, got %q", cfg.CacheBackend)
	}
	switch cfg.FetchStrategy {
	case StrategyFixedDelay, StrategyTokenBucket:
	default:
		return fmt.Errorf("rate_limit.strategy must be fixed_delay or token_bucket, got %q", cfg.FetchStrategy)
	}
	if cfg.ScheduleCron != "" {
		if _, err := cron.ParseStandard(cfg.ScheduleCron); err != nil {
			return fmt.Errorf("schedule.cron: %w", err)
		}
	}
	if _, err := registry.New(cfg.Entities); err != nil {
		return fmt.Errorf("entities: %w", err)
	}
	return nil
}
