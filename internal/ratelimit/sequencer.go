// Package ratelimit paces the per-entity vendor calls of a multi-entity refresh.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-aggregate-service/internal/observability"
)

const (
	StrategyFixedDelay  = "fixed_delay"
	StrategyTokenBucket = "token_bucket"
)

// Sequencer is called before each entity fetch of a multi-entity run. index is the entity's
// position in the run; index 0 never waits.
type Sequencer interface {
	Wait(ctx context.Context, index int) error
}

// Config selects and tunes a Sequencer.
type Config struct {
	Strategy   string
	FetchDelay time.Duration
	FetchRPS   float64
	FetchBurst int
}

// New builds the Sequencer named by cfg.Strategy (fixed_delay when empty).
func New(cfg Config) (Sequencer, error) {
	switch cfg.Strategy {
	case "", StrategyFixedDelay:
		return NewFixedDelay(cfg.FetchDelay), nil
	case StrategyTokenBucket:
		if cfg.FetchRPS <= 0 {
			return nil, fmt.Errorf("token_bucket requires fetch_rps > 0")
		}
		return NewTokenBucket(cfg.FetchRPS, cfg.FetchBurst), nil
	default:
		return nil, fmt.Errorf("unknown rate limit strategy %q", cfg.Strategy)
	}
}

// FixedDelay sleeps a constant delay before every call after the first. No bursts.
type FixedDelay struct {
	delay time.Duration
}

func NewFixedDelay(delay time.Duration) *FixedDelay {
	if delay < 0 {
		delay = 0
	}
	return &FixedDelay{delay: delay}
}

func (f *FixedDelay) Wait(ctx context.Context, index int) error {
	if index <= 0 || f.delay == 0 {
		return ctx.Err()
	}
	start := time.Now()
	defer observePacing(StrategyFixedDelay, start)

	timer := time.NewTimer(f.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TokenBucket allows up to burst calls immediately, then rps calls per second.
type TokenBucket struct {
	limiter *rate.Limiter
}

func NewTokenBucket(rps float64, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (t *TokenBucket) Wait(ctx context.Context, index int) error {
	if index <= 0 {
		return ctx.Err()
	}
	start := time.Now()
	defer observePacing(StrategyTokenBucket, start)
	return t.limiter.Wait(ctx)
}

func observePacing(strategy string, start time.Time) {
	observability.FetchPacingWaitSeconds.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
}
