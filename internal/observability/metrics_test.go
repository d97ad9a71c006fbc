package observability

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRuntimeMetricsSnapshotIsACopy(t *testing.T) {
	metrics := NewRuntimeMetrics()
	metrics.RecordCacheHit()
	metrics.RecordCacheMiss()
	metrics.RecordTier("measured")

	snap := metrics.Snapshot()
	require.Equal(t, uint64(1), snap.CacheHits)
	require.Equal(t, uint64(1), snap.CacheMisses)
	require.Equal(t, uint64(1), snap.TierCounts["measured"])

	snap.TierCounts["measured"] = 99
	require.Equal(t, uint64(1), metrics.Snapshot().TierCounts["measured"])
}

func TestRuntimeMetricsIgnoresNonPositiveCounts(t *testing.T) {
	metrics := NewRuntimeMetrics()
	metrics.RecordCacheExpiration(0)
	metrics.RecordCacheExpiration(-3)
	metrics.RecordCacheInvalidation(-1)

	snap := metrics.Snapshot()
	require.Zero(t, snap.CacheExpirations)
	require.Zero(t, snap.CacheInvalidations)
}

func TestRuntimeMetricsProviderFailures(t *testing.T) {
	metrics := NewRuntimeMetrics()
	metrics.RecordProviderFailure("pricing")
	metrics.RecordProviderFailure("pricing")
	metrics.RecordProviderFailure("capacity")

	snap := metrics.Snapshot()
	require.Equal(t, uint64(2), snap.ProviderFailures["pricing"])
	require.Equal(t, uint64(1), snap.ProviderFailures["capacity"])
}

func TestSetLoggerNilResetsToNoop(t *testing.T) {
	SetLogger(nil)
	require.NotNil(t, Log())
	Log().Info("noop logger accepts writes")
}

func TestSetMetricsNilResetsToNoop(t *testing.T) {
	SetMetrics(nil)
	require.NotNil(t, Telemetry())
	Telemetry().IncCounter("noop", 1, nil)
}
