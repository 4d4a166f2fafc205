package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-aggregate-service/internal/aggregate"
	"github.com/kjstillabower/weather-aggregate-service/internal/cache"
	"github.com/kjstillabower/weather-aggregate-service/internal/client"
	"github.com/kjstillabower/weather-aggregate-service/internal/models"
	"github.com/kjstillabower/weather-aggregate-service/internal/observability"
	"github.com/kjstillabower/weather-aggregate-service/internal/ratelimit"
	"github.com/kjstillabower/weather-aggregate-service/internal/registry"
)

var (
	// ErrConfig wraps client configuration errors; no entity can be fetched until config changes.
	ErrConfig = errors.New("service misconfigured")
	// ErrCacheWrite is returned when the refreshed aggregate could not be stored.
	ErrCacheWrite = errors.New("cache write failed")
)

const (
	DefaultCacheKey     = "aggregate"
	DefaultOnDemandTTL  = time.Hour
	DefaultScheduledTTL = 6 * time.Hour

	scopeEntity = "entity"
	scopeAll    = "all"
)

// Source says where a Response's data came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceUpstream Source = "upstream"
	SourceNone     Source = "none"
)

// Response is the result of Get. TTL is the freshness hint for HTTP caching.
type Response struct {
	Data   aggregate.Document
	TTL    time.Duration
	Source Source
}

// OutcomeRecorder receives one outcome per entity fetch. Implemented by traffic.Tracker.
type OutcomeRecorder interface {
	RecordSuccess()
	RecordError()
}

// Options tunes a WeatherService. Zero values take the package defaults.
type Options struct {
	CacheKey     string
	OnDemandTTL  time.Duration
	ScheduledTTL time.Duration
	Logger       *zap.Logger
	Outcomes     OutcomeRecorder
}

// WeatherService serves the aggregate document from cache and refreshes it from the vendor.
// It holds no lock around the cache: concurrent read-merge-write sequences are
// last-write-wins on the whole document, and overlaps are counted.
type WeatherService struct {
	client       client.WeatherClient
	cache        cache.Cache
	registry     *registry.Registry
	sequencer    ratelimit.Sequencer
	cacheKey     string
	onDemandTTL  time.Duration
	scheduledTTL time.Duration
	logger       *zap.Logger
	outcomes     OutcomeRecorder
	writes       overlapTracker
	now          func() time.Time
}

// NewWeatherService creates a WeatherService. A nil sequencer fetches without pacing.
func NewWeatherService(c client.WeatherClient, store cache.Cache, reg *registry.Registry, seq ratelimit.Sequencer, opts Options) *WeatherService {
	if seq == nil {
		seq = ratelimit.NewFixedDelay(0)
	}
	if opts.CacheKey == "" {
		opts.CacheKey = DefaultCacheKey
	}
	if opts.OnDemandTTL <= 0 {
		opts.OnDemandTTL = DefaultOnDemandTTL
	}
	if opts.ScheduledTTL <= 0 {
		opts.ScheduledTTL = DefaultScheduledTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &WeatherService{
		client:       c,
		cache:        store,
		registry:     reg,
		sequencer:    seq,
		cacheKey:     opts.CacheKey,
		onDemandTTL:  opts.OnDemandTTL,
		scheduledTTL: opts.ScheduledTTL,
		logger:       opts.Logger,
		outcomes:     opts.Outcomes,
		now:          time.Now,
	}
}

// OnDemandTTL is the TTL written by on-demand refreshes and advertised to HTTP clients.
func (s *WeatherService) OnDemandTTL() time.Duration {
	return s.onDemandTTL
}

// Get serves the aggregate, or one entity of it when entityFilter is set.
//
// Without forceRefresh, a cached document (or cached entity entry) is returned as is and a miss
// triggers a fetch. With forceRefresh the cache is not read first. A refreshed entity is merged
// into the stored document; a refreshed whole set replaces it. Either write uses the on-demand TTL.
//
// An unknown entity yields an empty document. Failed entities are left out of the result.
// ErrConfig and ErrCacheWrite are the only errors returned for an otherwise valid request.
func (s *WeatherService) Get(ctx context.Context, entityFilter string, forceRefresh bool) (Response, error) {
	logger := observability.LoggerFromContext(ctx, s.logger)

	filter := strings.TrimSpace(entityFilter)
	if filter == "" {
		return s.getAll(ctx, logger, forceRefresh)
	}
	entity, ok := s.registry.Lookup(filter)
	if !ok {
		logger.Debug("unknown entity requested", zap.String("entity", filter))
		return s.emptyResponse(), nil
	}
	return s.getEntity(ctx, logger, entity, forceRefresh)
}

func (s *WeatherService) getEntity(ctx context.Context, logger *zap.Logger, entity models.Entity, forceRefresh bool) (Response, error) {
	key := entityKey(entity)
	if !forceRefresh {
		doc := s.readAggregate(ctx, logger)
		if _, ok := doc[key]; ok {
			observability.CacheLookupsTotal.WithLabelValues(scopeEntity, "hit").Inc()
			logger.Debug("cache hit", zap.String("entity", key))
			return Response{Data: aggregate.Narrow(doc, key), TTL: s.onDemandTTL, Source: SourceCache}, nil
		}
		observability.CacheLookupsTotal.WithLabelValues(scopeEntity, "miss").Inc()
		logger.Debug("cache miss, fetching upstream", zap.String("entity", key))
	}

	start := time.Now()
	s.writes.Begin()
	defer s.writes.End()

	record, _, err := s.fetchOne(ctx, logger, entity, models.TriggerOnDemand)
	if err != nil {
		if client.IsConfigError(err) {
			s.recordRun(models.TriggerOnDemand, scopeEntity, "config_error", start)
			return Response{}, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		s.recordRun(models.TriggerOnDemand, scopeEntity, "empty", start)
		return s.emptyResponse(), nil
	}

	// Once fetched, the record is merged and stored even if the caller's deadline has passed.
	persistCtx := context.WithoutCancel(ctx)

	// Re-read so the merge starts from the freshest document we can see.
	existing := s.readAggregate(persistCtx, logger)
	merged, err := aggregate.MergeEntity(existing, key, record)
	if err != nil {
		s.recordRun(models.TriggerOnDemand, scopeEntity, "error", start)
		return Response{}, fmt.Errorf("merge %s: %w", key, err)
	}
	if err := s.writeAggregate(persistCtx, logger, merged, s.onDemandTTL); err != nil {
		s.recordRun(models.TriggerOnDemand, scopeEntity, "cache_error", start)
		return Response{}, err
	}
	s.recordRun(models.TriggerOnDemand, scopeEntity, "success", start)
	return Response{Data: aggregate.Narrow(merged, key), TTL: s.onDemandTTL, Source: SourceUpstream}, nil
}

func (s *WeatherService) getAll(ctx context.Context, logger *zap.Logger, forceRefresh bool) (Response, error) {
	if !forceRefresh {
		doc := s.readAggregate(ctx, logger)
		if len(doc) > 0 {
			observability.CacheLookupsTotal.WithLabelValues(scopeAll, "hit").Inc()
			logger.Debug("cache hit", zap.Int("entities", len(doc)))
			return Response{Data: doc, TTL: s.onDemandTTL, Source: SourceCache}, nil
		}
		observability.CacheLookupsTotal.WithLabelValues(scopeAll, "miss").Inc()
		logger.Debug("cache miss, fetching all entities upstream")
	}

	doc, _, err := s.refreshAll(ctx, logger, models.TriggerOnDemand, s.onDemandTTL)
	if err != nil {
		return Response{}, err
	}
	if len(doc) == 0 {
		return s.emptyResponse(), nil
	}
	return Response{Data: doc, TTL: s.onDemandTTL, Source: SourceUpstream}, nil
}

// ScheduledRefresh fetches every entity and replaces the stored document with the scheduled TTL.
// It never returns an error; the outcome is reported in the RefreshResult.
func (s *WeatherService) ScheduledRefresh(ctx context.Context) models.RefreshResult {
	logger := observability.LoggerFromContext(ctx, s.logger)
	result := models.NewRefreshResult(s.now())

	doc, stats, err := s.refreshAll(ctx, logger, models.TriggerScheduled, s.scheduledTTL)
	result.Fetched = stats.fetched
	result.Failed = stats.failed
	result.Degraded = stats.degraded

	switch {
	case err != nil:
		result.Error = err.Error()
	case len(doc) == 0:
		result.Error = "no entities fetched; stored aggregate left unchanged"
	default:
		result.Success = true
		result.Message = fmt.Sprintf("refreshed %d of %d entities", stats.fetched, s.registry.Len())
	}

	fields := []zap.Field{
		zap.Bool("success", result.Success),
		zap.Int("fetched", result.Fetched),
		zap.Int("failed", result.Failed),
		zap.Int("degraded", result.Degraded),
	}
	if result.Success {
		logger.Info("scheduled refresh finished", fields...)
	} else {
		logger.Error("scheduled refresh failed", append(fields, zap.String("error", result.Error))...)
	}
	return result
}

type fetchStats struct {
	fetched  int
	failed   int
	degraded int
}

// refreshAll fetches the registry in order, pacing calls through the sequencer, and replaces the
// stored document with what was fetched. When nothing was fetched the stored document is left
// alone and an empty document is returned. A config error stops the run. A done ctx stops further
// fetches, but whatever was already fetched is still written.
func (s *WeatherService) refreshAll(ctx context.Context, logger *zap.Logger, trigger models.Trigger, ttl time.Duration) (aggregate.Document, fetchStats, error) {
	start := time.Now()
	s.writes.Begin()
	defer s.writes.End()

	var stats fetchStats
	entities := s.registry.List()
	records := make(map[string]models.WeatherRecord, len(entities))
	for i, entity := range entities {
		if err := s.sequencer.Wait(ctx, i); err != nil {
			// Out of time: keep what was fetched, skip the rest.
			skipped := len(entities) - i
			stats.failed += skipped
			logger.Warn("refresh stopped before all entities were fetched",
				zap.String("next_entity", entity.DisplayName),
				zap.Int("skipped", skipped),
				zap.Int("fetched", stats.fetched),
				zap.Error(err))
			break
		}
		record, degraded, err := s.fetchOne(ctx, logger, entity, trigger)
		if err != nil {
			if client.IsConfigError(err) {
				s.recordRun(trigger, scopeAll, "config_error", start)
				return nil, stats, fmt.Errorf("%w: %w", ErrConfig, err)
			}
			stats.failed++
			continue
		}
		if degraded {
			stats.degraded++
		}
		stats.fetched++
		records[entityKey(entity)] = record
	}

	if len(records) == 0 {
		logger.Warn("no entities fetched, stored aggregate left unchanged", zap.Int("failed", stats.failed))
		s.recordRun(trigger, scopeAll, "empty", start)
		return aggregate.Document{}, stats, nil
	}

	doc, err := aggregate.Replace(records)
	if err != nil {
		s.recordRun(trigger, scopeAll, "error", start)
		return nil, stats, err
	}
	if err := s.writeAggregate(context.WithoutCancel(ctx), logger, doc, ttl); err != nil {
		s.recordRun(trigger, scopeAll, "cache_error", start)
		return nil, stats, err
	}

	result := "success"
	if stats.failed > 0 {
		result = "partial"
	}
	s.recordRun(trigger, scopeAll, result, start)
	return doc, stats, nil
}

// fetchOne fetches one entity and records its outcome. degraded is true when the forecast was
// replaced by an empty list.
func (s *WeatherService) fetchOne(ctx context.Context, logger *zap.Logger, entity models.Entity, trigger models.Trigger) (models.WeatherRecord, bool, error) {
	res, err := s.client.FetchEntity(ctx, entity)
	if err != nil {
		s.recordOutcome(false)
		observability.EntityFetchesTotal.WithLabelValues(string(trigger), "failed").Inc()
		fields := []zap.Field{
			zap.String("entity", entity.DisplayName),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err),
		}
		if client.IsConfigError(err) {
			logger.Error("weather API not configured", fields...)
		} else {
			logger.Warn("entity fetch failed, excluding from aggregate", fields...)
		}
		return models.WeatherRecord{}, false, err
	}

	s.recordOutcome(true)
	if res.Degraded() {
		observability.EntityFetchesTotal.WithLabelValues(string(trigger), "degraded").Inc()
		logger.Warn("forecast unavailable, serving empty forecast",
			zap.String("entity", entity.DisplayName),
			zap.String("category", string(client.CategorizeError(res.ForecastErr))),
			zap.Error(res.ForecastErr),
		)
		return res.Record, true, nil
	}
	observability.EntityFetchesTotal.WithLabelValues(string(trigger), "success").Inc()
	return res.Record, false, nil
}

// readAggregate returns the stored document, or nil on a miss. Read errors and undecodable
// documents are logged and treated as a miss.
func (s *WeatherService) readAggregate(ctx context.Context, logger *zap.Logger) aggregate.Document {
	start := time.Now()
	raw, ok, err := s.cache.Get(ctx, s.cacheKey)
	observability.ObserveCacheOp("get", start, err)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		logger.Warn("cache read failed, treating as miss", zap.String("key", s.cacheKey), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	doc, err := aggregate.Decode(raw)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", "decode").Inc()
		logger.Warn("cached aggregate is not decodable, treating as miss", zap.String("key", s.cacheKey), zap.Error(err))
		return nil
	}
	return doc
}

func (s *WeatherService) writeAggregate(ctx context.Context, logger *zap.Logger, doc aggregate.Document, ttl time.Duration) error {
	raw, err := aggregate.Encode(doc)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCacheWrite, err)
	}
	start := time.Now()
	err = s.cache.Set(ctx, s.cacheKey, raw, ttl)
	observability.ObserveCacheOp("set", start, err)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		logger.Error("cache write failed", zap.String("key", s.cacheKey), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrCacheWrite, err)
	}
	observability.AggregateEntities.Set(float64(len(doc)))
	if n := s.writes.Active(); n > 1 {
		logger.Warn("aggregate written while another refresh is in progress, last write wins",
			zap.Int64("active_writers", n))
	}
	logger.Debug("aggregate stored", zap.Strings("entities", aggregate.Keys(doc)), zap.Duration("ttl", ttl))
	return nil
}

func (s *WeatherService) recordOutcome(ok bool) {
	if s.outcomes == nil {
		return
	}
	if ok {
		s.outcomes.RecordSuccess()
	} else {
		s.outcomes.RecordError()
	}
}

func (s *WeatherService) emptyResponse() Response {
	return Response{Data: aggregate.Document{}, TTL: s.onDemandTTL, Source: SourceNone}
}

func (s *WeatherService) recordRun(trigger models.Trigger, scope, result string, start time.Time) {
	observability.RefreshRunsTotal.WithLabelValues(string(trigger), scope, result).Inc()
	observability.RefreshDurationSeconds.WithLabelValues(string(trigger), scope).Observe(time.Since(start).Seconds())
}

func entityKey(e models.Entity) string {
	return registry.NormalizeKey(e.DisplayName)
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
