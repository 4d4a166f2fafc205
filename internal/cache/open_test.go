package cache

import (
	"context"
	"testing"
	"time"
)

// TestOpen verifies backend selection without needing a running server.
func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		cfg     BackendConfig
		want    string
		wantErr bool
	}{
		{"default", BackendConfig{}, "*cache.InMemoryCache", false},
		{"in_memory", BackendConfig{Backend: BackendInMemory}, "*cache.InMemoryCache", false},
		{"memcached", BackendConfig{Backend: BackendMemcached, MemcachedAddrs: "localhost:11211"}, "*cache.MemcachedCache", false},
		{"redis", BackendConfig{Backend: BackendRedis, RedisAddr: "localhost:6379", KeyPrefix: "weather:"}, "*cache.RedisCache", false},
		{"badger in memory", BackendConfig{Backend: BackendBadger}, "*cache.BadgerCache", false},
		{"unknown", BackendConfig{Backend: "etcd"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Open(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			defer b.Close()
			if got := typeName(b); got != tt.want {
				t.Errorf("Open() type = %s, want %s", got, tt.want)
			}
		})
	}
}

// TestOpen_BadgerRoundTrip verifies that the opened badger backend stores values.
func TestOpen_BadgerRoundTrip(t *testing.T) {
	b, err := Open(BackendConfig{Backend: BackendBadger, BadgerPath: t.TempDir(), KeyPrefix: "weather:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	if err := b.Set(ctx, "aggregate", []byte(`{}`), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := b.Get(ctx, "aggregate")
	if err != nil || !ok || string(got) != `{}` {
		t.Errorf("Get() = %q, %v, %v", got, ok, err)
	}
	if err := b.Ping(); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func typeName(v interface{}) string {
	switch v.(type) {
	case *InMemoryCache:
		return "*cache.InMemoryCache"
	case *MemcachedCache:
		return "*cache.MemcachedCache"
	case *RedisCache:
		return "*cache.RedisCache"
	case *BadgerCache:
		return "*cache.BadgerCache"
	}
	return "unknown"
}
