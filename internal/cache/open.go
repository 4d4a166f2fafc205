package cache

import (
	"fmt"
	"time"
)

const (
	BackendInMemory  = "in_memory"
	BackendMemcached = "memcached"
	BackendRedis     = "redis"
	BackendBadger    = "badger"
)

// Backend is a Cache that can report reachability and release its connections.
type Backend interface {
	Cache
	Pinger
	Close() error
}

// BackendConfig selects and configures one Backend.
type BackendConfig struct {
	Backend string
	// KeyPrefix namespaces keys in shared stores; ignored by in_memory.
	KeyPrefix string

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTimeout  time.Duration

	BadgerPath string
}

// Open builds the configured backend. An empty Backend means in_memory.
func Open(cfg BackendConfig) (Backend, error) {
	switch cfg.Backend {
	case "", BackendInMemory:
		return NewInMemoryCache(), nil
	case BackendMemcached:
		c, err := NewMemcachedCache(cfg.MemcachedAddrs, cfg.KeyPrefix, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, fmt.Errorf("memcached: %w", err)
		}
		return c, nil
	case BackendRedis:
		return NewRedisCache(RedisOptions{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			Prefix:       cfg.KeyPrefix,
			DialTimeout:  cfg.RedisTimeout,
			ReadTimeout:  cfg.RedisTimeout,
			WriteTimeout: cfg.RedisTimeout,
		}), nil
	case BackendBadger:
		c, err := NewBadgerCache(cfg.BadgerPath, cfg.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("badger: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
