package position

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketlens/marketlens/config"
	"github.com/marketlens/marketlens/errs"
	"github.com/marketlens/marketlens/internal/cache"
	"github.com/marketlens/marketlens/internal/clock"
	"github.com/marketlens/marketlens/internal/observability"
)

func newTestService(t *testing.T, pricing, capacity ObservationSource, opts ...func(*EngineConfig)) (*Service, *clock.Virtual) {
	t.Helper()
	virtual := clock.NewVirtual(time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	cfg := EngineConfig{
		Pricing:        pricing,
		Capacity:       capacity,
		Clock:          virtual,
		QueryTimeout:   time.Second,
		OverallTimeout: 2 * time.Second,
		MaxWindowDays:  365,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	engine := NewEngine(cfg)

	store := cache.New[CompetitivePosition](cache.Config{
		DefaultTTL:    30 * time.Minute,
		SweepInterval: time.Hour,
		Clock:         virtual,
	})
	t.Cleanup(store.Close)

	service := NewService(ServiceConfig{
		Engine:      engine,
		Cache:       store,
		MeasuredTTL: 60 * time.Minute,
		Clock:       virtual,
		Metrics:     observability.NewRuntimeMetrics(),
	})
	return service, virtual
}

func marketRecords(now time.Time) ([]ObservationRecord, []ObservationRecord) {
	inWindow := now.AddDate(0, 0, -2)
	pricing := []ObservationRecord{
		obs("pricing", "bravo", "100", inWindow),
		obs("pricing", "alpha", "90", inWindow),
	}
	capacity := []ObservationRecord{
		obs("capacity", "bravo", "300", inWindow),
		obs("capacity", "alpha", "900", inWindow),
	}
	return pricing, capacity
}

func TestServiceCachesComputedPositions(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	pricingRecords, capacityRecords := marketRecords(now)
	pricing := &stubSource{records: pricingRecords}
	capacity := &stubSource{records: capacityRecords}
	service, _ := newTestService(t, pricing, capacity)

	first, err := service.ComputePosition(context.Background(), "bravo", 30)
	require.NoError(t, err)
	second, err := service.ComputePosition(context.Background(), "bravo", 30)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, int32(1), pricing.calls.Load(), "second call must be served from cache")
	require.Equal(t, int32(1), capacity.calls.Load())
}

func TestServiceMeasuredResultsOutliveDefaultTTL(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	pricingRecords, capacityRecords := marketRecords(now)
	pricing := &stubSource{records: pricingRecords}
	capacity := &stubSource{records: capacityRecords}
	service, virtual := newTestService(t, pricing, capacity)

	pos, err := service.ComputePosition(context.Background(), "bravo", 30)
	require.NoError(t, err)
	require.Equal(t, TierMeasured, pos.Tier)

	// Past the 30m default but inside the 60m measured TTL; same day, so the
	// derived key is unchanged and the entry must still be served.
	virtual.Advance(45 * time.Minute)
	_, err = service.ComputePosition(context.Background(), "bravo", 30)
	require.NoError(t, err)
	require.Equal(t, int32(1), pricing.calls.Load())
}

func TestServiceSingleFlightUnderBurst(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	pricingRecords, capacityRecords := marketRecords(now)
	pricing := &stubSource{records: pricingRecords, delay: 50 * time.Millisecond}
	capacity := &stubSource{records: capacityRecords, delay: 50 * time.Millisecond}
	service, _ := newTestService(t, pricing, capacity)

	const callers = 50
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.ComputePosition(context.Background(), "bravo", 30)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), pricing.calls.Load(), "burst must coalesce into one upstream query")
	require.Equal(t, int32(1), capacity.calls.Load())
}

func TestServiceForceRefreshRecomputes(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	pricingRecords, capacityRecords := marketRecords(now)
	pricing := &stubSource{records: pricingRecords}
	capacity := &stubSource{records: capacityRecords}
	service, _ := newTestService(t, pricing, capacity)

	_, err := service.ComputePosition(context.Background(), "bravo", 30)
	require.NoError(t, err)

	_, err = service.ForceRefresh(context.Background(), "bravo", 30)
	require.NoError(t, err)
	require.Equal(t, int32(2), pricing.calls.Load(), "force refresh bypasses the cache")
}

func TestServiceNeverCachesErrors(t *testing.T) {
	pricing := &stubSource{}
	capacity := &stubSource{}
	service, _ := newTestService(t, pricing, capacity)

	_, err := service.ComputePosition(context.Background(), "ghost", 30)
	require.True(t, errs.IsNotFound(err))
	require.Zero(t, service.Cache().Len(), "a failed computation must not poison the cache")

	// A later call recomputes instead of replaying a cached failure.
	_, err = service.ComputePosition(context.Background(), "ghost", 30)
	require.True(t, errs.IsNotFound(err))
	require.Equal(t, int32(2), pricing.calls.Load())
}

func TestServiceValidationBeforeCache(t *testing.T) {
	service, _ := newTestService(t, &stubSource{}, &stubSource{})

	_, err := service.ComputePosition(context.Background(), "bravo", -5)
	require.True(t, errs.IsInvalid(err))
	require.Zero(t, service.Cache().Len())
}

func TestServiceInvalidateDay(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	pricingRecords, capacityRecords := marketRecords(now)
	pricing := &stubSource{records: pricingRecords}
	capacity := &stubSource{records: capacityRecords}
	service, _ := newTestService(t, pricing, capacity)

	_, err := service.ComputePosition(context.Background(), "bravo", 30)
	require.NoError(t, err)
	_, err = service.ComputePosition(context.Background(), "bravo", 7)
	require.NoError(t, err)

	removed := service.InvalidateDay(now)
	require.Equal(t, 2, removed)
	require.Zero(t, service.Cache().Len())
}

// recoveringSource fails a fixed number of queries, then serves its records.
type recoveringSource struct {
	records  []ObservationRecord
	failures atomic.Int32
	calls    atomic.Int32
}

func (s *recoveringSource) Query(context.Context, string, time.Time, time.Time) ([]ObservationRecord, error) {
	s.calls.Add(1)
	if s.failures.Add(-1) >= 0 {
		return nil, errors.New("provider offline")
	}
	return s.records, nil
}

func TestServiceOutageBaselineNotCached(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	pricingRecords, capacityRecords := marketRecords(now)
	pricing := &recoveringSource{records: pricingRecords}
	pricing.failures.Store(1)
	capacity := &recoveringSource{records: capacityRecords}
	capacity.failures.Store(1)
	service, _ := newTestService(t, pricing, capacity)

	during, err := service.ComputePosition(context.Background(), "bravo", 30)
	require.NoError(t, err)
	require.Equal(t, TierBaseline, during.Tier)
	require.True(t, during.Degraded)
	require.Zero(t, service.Cache().Len(), "an outage baseline must not pin the cache")

	// Providers are back; the next call must recompute instead of replaying
	// the degraded value for the rest of the TTL.
	after, err := service.ComputePosition(context.Background(), "bravo", 30)
	require.NoError(t, err)
	require.Equal(t, TierMeasured, after.Tier)
	require.False(t, after.Degraded)
	require.Equal(t, int32(2), pricing.calls.Load())
}

func TestServiceBaselineServedAndCached(t *testing.T) {
	pricing := &stubSource{}
	capacity := &stubSource{}
	service, _ := newTestService(t, pricing, capacity, func(cfg *EngineConfig) {
		cfg.Baselines = testBaselines(t, map[string]config.BaselineEntry{
			"bravo": {ReferencePrice: "129.90", SharePercent: "12.5"},
		})
	})

	pos, err := service.ComputePosition(context.Background(), "bravo", 30)
	require.NoError(t, err)
	require.Equal(t, TierBaseline, pos.Tier)

	_, err = service.ComputePosition(context.Background(), "bravo", 30)
	require.NoError(t, err)
	require.Equal(t, int32(1), pricing.calls.Load(), "baseline results cache like any other value")
}
