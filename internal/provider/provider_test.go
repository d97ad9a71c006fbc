package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/marketlens/marketlens/errs"
	"github.com/marketlens/marketlens/internal/position"
)

func record(subject, value string, at time.Time) position.ObservationRecord {
	return position.ObservationRecord{
		ProviderID: "test",
		SubjectID:  subject,
		Value:      decimal.RequireFromString(value),
		ObservedAt: at,
	}
}

func TestMemorySourceFiltersWindow(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	source := NewMemorySource()
	source.Add(
		record("bravo", "100", now.AddDate(0, 0, -2)),
		record("bravo", "900", now.AddDate(0, 0, -40)),
		record("alpha", "90", now.AddDate(0, 0, -1)),
	)

	got, err := source.Query(context.Background(), "bravo", now.AddDate(0, 0, -30), now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 3, source.Len())
}

func TestMemorySourceRespectsContext(t *testing.T) {
	source := NewMemorySource()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := source.Query(ctx, "bravo", time.Time{}, time.Now())
	require.ErrorIs(t, err, context.Canceled)
}

type flakySource struct {
	failures int32
	attempts atomic.Int32
	records  []position.ObservationRecord
}

func (s *flakySource) Query(context.Context, string, time.Time, time.Time) ([]position.ObservationRecord, error) {
	n := s.attempts.Add(1)
	if n <= s.failures {
		return nil, errors.New("transient upstream failure")
	}
	return s.records, nil
}

type slowSource struct{ delay time.Duration }

func (s slowSource) Query(ctx context.Context, _ string, _, _ time.Time) ([]position.ObservationRecord, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
		return nil, nil
	}
}

func TestResilientRetriesTransientFailures(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	upstream := &flakySource{failures: 2, records: []position.ObservationRecord{
		record("bravo", "100", now.AddDate(0, 0, -1)),
	}}
	source := NewResilient(upstream, ResilientConfig{
		Name:        "pricing",
		MaxRetries:  3,
		MaxInterval: time.Millisecond,
	})

	got, err := source.Query(context.Background(), "bravo", now.AddDate(0, 0, -30), now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int32(3), upstream.attempts.Load())
}

func TestResilientExhaustedRetriesAreUnavailable(t *testing.T) {
	upstream := &flakySource{failures: 10}
	source := NewResilient(upstream, ResilientConfig{
		Name:        "pricing",
		MaxRetries:  1,
		MaxInterval: time.Millisecond,
	})

	_, err := source.Query(context.Background(), "bravo", time.Time{}, time.Now())
	require.Error(t, err)
	require.True(t, errs.IsUnavailable(err))
	require.Equal(t, int32(2), upstream.attempts.Load(), "first attempt plus one retry")
}

func TestResilientPerAttemptTimeout(t *testing.T) {
	source := NewResilient(slowSource{delay: time.Second}, ResilientConfig{
		Name:         "capacity",
		QueryTimeout: 10 * time.Millisecond,
		MaxRetries:   0,
	})

	start := time.Now()
	_, err := source.Query(context.Background(), "bravo", time.Time{}, time.Now())
	require.Error(t, err)
	require.True(t, errs.IsUnavailable(err))
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestResilientStopsRetryingOnCallerCancellation(t *testing.T) {
	upstream := &flakySource{failures: 100}
	source := NewResilient(upstream, ResilientConfig{
		Name:        "pricing",
		MaxRetries:  100,
		MaxInterval: 50 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := source.Query(ctx, "bravo", time.Time{}, time.Now())
	require.Error(t, err)
	require.Less(t, upstream.attempts.Load(), int32(100))
}

func TestResilientRateLimiterThrottles(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	upstream := &flakySource{records: nil}
	source := NewResilient(upstream, ResilientConfig{
		Name:          "pricing",
		RatePerSecond: 20,
		RateBurst:     1,
	})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := source.Query(context.Background(), "bravo", now.AddDate(0, 0, -1), now)
		require.NoError(t, err)
	}
	// Burst 1 at 20 rps forces roughly 50ms of pacing per extra call.
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
