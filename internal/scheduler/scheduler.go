// Package scheduler runs the scheduled full refresh on an interval or cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-aggregate-service/internal/models"
	"github.com/kjstillabower/weather-aggregate-service/internal/observability"
)

// DefaultInterval is used when neither an interval nor a cron expression is configured.
const DefaultInterval = time.Hour

// PeriodicJobRunner starts and stops a recurring job.
type PeriodicJobRunner interface {
	Start() error
	Stop()
}

// Refresher performs one scheduled refresh. Implemented by service.WeatherService.
type Refresher interface {
	ScheduledRefresh(ctx context.Context) models.RefreshResult
}

// Config holds scheduling parameters. Cron, when set, takes precedence over Interval.
type Config struct {
	Interval   time.Duration
	Cron       string
	RunOnStart bool
	RunTimeout time.Duration
}

// Scheduler runs Refresher.ScheduledRefresh on a gocron schedule. Runs never overlap; a run
// that is still going when the next one is due causes that tick to be skipped.
type Scheduler struct {
	scheduler *gocron.Scheduler
	refresher Refresher
	cfg       Config
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	last    *models.RefreshResult
}

var _ PeriodicJobRunner = (*Scheduler)(nil)

// New creates a Scheduler. It does not start it.
func New(refresher Refresher, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		refresher: refresher,
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the refresh job and starts the underlying scheduler. With RunOnStart the first
// run begins immediately; otherwise it waits for the first tick.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}

	var job *gocron.Scheduler
	if s.cfg.Cron != "" {
		job = s.scheduler.Cron(s.cfg.Cron)
	} else {
		job = s.scheduler.Every(s.cfg.Interval)
	}
	if _, err := job.WaitForSchedule().Do(s.run); err != nil {
		return fmt.Errorf("schedule refresh job: %w", err)
	}

	s.scheduler.StartAsync()
	s.started = true
	if s.cfg.RunOnStart {
		s.scheduler.RunAll()
	}

	fields := []zap.Field{zap.Bool("run_on_start", s.cfg.RunOnStart)}
	if s.cfg.Cron != "" {
		fields = append(fields, zap.String("cron", s.cfg.Cron))
	} else {
		fields = append(fields, zap.Duration("interval", s.cfg.Interval))
	}
	s.logger.Info("scheduler started", fields...)
	return nil
}

// Stop cancels an in-progress run and stops future runs. It waits for the running job to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	s.cancel()
	if started {
		s.scheduler.Stop()
		s.logger.Info("scheduler stopped")
	}
}

// LastResult returns the result of the most recent completed run, if any.
func (s *Scheduler) LastResult() (models.RefreshResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return models.RefreshResult{}, false
	}
	return *s.last, true
}

func (s *Scheduler) run() {
	ctx := s.ctx
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}
	runID := uuid.New().String()
	logger := s.logger.With(zap.String("correlation_id", runID), zap.String("trigger", string(models.TriggerScheduled)))
	ctx = observability.WithCorrelationID(ctx, runID)
	ctx = observability.WithLogger(ctx, logger)

	start := time.Now()
	result := s.refresher.ScheduledRefresh(ctx)
	logger.Info("scheduled run complete",
		zap.Bool("success", result.Success),
		zap.String("message", result.Message),
		zap.String("error", result.Error),
		zap.Int("fetched", result.Fetched),
		zap.Int("failed", result.Failed),
		zap.Int("degraded", result.Degraded),
		zap.Duration("duration", time.Since(start)),
	)

	s.mu.Lock()
	s.last = &result
	s.mu.Unlock()
}
