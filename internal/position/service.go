package position

import (
	"context"
	"time"

	"github.com/marketlens/marketlens/internal/cache"
	"github.com/marketlens/marketlens/internal/clock"
	"github.com/marketlens/marketlens/internal/flight"
	"github.com/marketlens/marketlens/internal/observability"
)

// ServiceConfig wires the cached, single-flighted position facade.
type ServiceConfig struct {
	Engine *Engine
	Cache  *cache.Store[CompetitivePosition]
	// MeasuredTTL overrides the cache default for fully-measured results,
	// which are the most expensive to recompute. Zero keeps the default.
	MeasuredTTL time.Duration
	Clock       clock.Clock
	Metrics     *observability.RuntimeMetrics
}

// Service answers position queries through the cache → single-flight →
// cascade pipeline described by the pipeline contract.
type Service struct {
	engine      *Engine
	cache       *cache.Store[CompetitivePosition]
	flights     *flight.Coordinator[CompetitivePosition]
	measuredTTL time.Duration
	clock       clock.Clock
}

// NewService constructs the position service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	return &Service{
		engine:      cfg.Engine,
		cache:       cfg.Cache,
		flights:     flight.NewCoordinator[CompetitivePosition](cfg.Metrics),
		measuredTTL: cfg.MeasuredTTL,
		clock:       cfg.Clock,
	}
}

// ComputePosition returns the subject's competitive position over the
// trailing window, serving the cache when possible and coalescing concurrent
// misses for the same key into a single computation.
func (s *Service) ComputePosition(ctx context.Context, subjectID string, windowDays int) (CompetitivePosition, error) {
	if err := s.engine.ValidateQuery(subjectID, windowDays); err != nil {
		return CompetitivePosition{}, err
	}
	query := s.query(subjectID, windowDays)
	key := query.CacheKey()

	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}
	return s.resolve(ctx, key, subjectID, windowDays)
}

// ForceRefresh bypasses the cache read, invalidates the query's key family,
// and recomputes. Callers use it to serve "force=true" style requests.
func (s *Service) ForceRefresh(ctx context.Context, subjectID string, windowDays int) (CompetitivePosition, error) {
	if err := s.engine.ValidateQuery(subjectID, windowDays); err != nil {
		return CompetitivePosition{}, err
	}
	query := s.query(subjectID, windowDays)
	key := query.CacheKey()

	s.cache.InvalidatePattern(query.KeyFamily())
	s.flights.Forget(key)
	return s.resolve(ctx, key, subjectID, windowDays)
}

// InvalidateDay removes every cached position keyed to the provided day,
// forcing recomputation of that whole family without enumerating keys.
func (s *Service) InvalidateDay(day time.Time) int {
	return s.cache.InvalidatePattern("day=" + day.UTC().Format("2006-01-02"))
}

// Cache exposes the underlying store for collaborators that manage
// invalidation directly.
func (s *Service) Cache() *cache.Store[CompetitivePosition] {
	return s.cache
}

func (s *Service) resolve(ctx context.Context, key, subjectID string, windowDays int) (CompetitivePosition, error) {
	position, _, err := s.flights.Do(ctx, key, func() (CompetitivePosition, error) {
		// The computation outlives any single waiter; late joiners must not
		// inherit the first caller's cancellation.
		return s.engine.ComputePosition(context.WithoutCancel(ctx), subjectID, windowDays)
	})
	if err != nil {
		// Failures are never stored; the next caller recomputes.
		return CompetitivePosition{}, err
	}
	if position.Degraded {
		// Availability-degraded baselines are served but never stored, so a
		// transient outage cannot pin a stale negative for a whole TTL.
		return position, nil
	}

	if position.Tier == TierMeasured && s.measuredTTL > 0 {
		s.cache.SetTTL(key, position, s.measuredTTL)
	} else {
		s.cache.Set(key, position)
	}
	return position, nil
}

func (s *Service) query(subjectID string, windowDays int) MetricQuery {
	return MetricQuery{
		SubjectID:  subjectID,
		WindowDays: windowDays,
		AsOf:       s.clock.Now(),
	}
}
