package observability

import "sync"

// Metrics provides counters, gauges, and histogram recording primitives.
type Metrics interface {
	IncCounter(name string, value float64, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

var defaultMetrics Metrics = noopMetrics{}

// SetMetrics overrides the global metrics implementation used by the pipeline.
func SetMetrics(metrics Metrics) {
	if metrics == nil {
		defaultMetrics = noopMetrics{}
		return
	}
	defaultMetrics = metrics
}

// Telemetry returns the current global metrics collector.
func Telemetry() Metrics {
	return defaultMetrics
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, float64, map[string]string)       {}
func (noopMetrics) ObserveHistogram(string, float64, map[string]string) {}
func (noopMetrics) SetGauge(string, float64, map[string]string)         {}

// PipelineMetricsSnapshot captures aggregation-pipeline runtime counters.
type PipelineMetricsSnapshot struct {
	CacheHits          uint64            `json:"cache_hits"`
	CacheMisses        uint64            `json:"cache_misses"`
	CacheExpirations   uint64            `json:"cache_expirations"`
	CacheInvalidations uint64            `json:"cache_invalidations"`
	FlightsShared      uint64            `json:"flights_shared"`
	TierCounts         map[string]uint64 `json:"tier_counts"`
	ProviderFailures   map[string]uint64 `json:"provider_failures"`
}

// RuntimeMetrics accumulates pipeline metrics in-memory for periodic export.
type RuntimeMetrics struct {
	mu       sync.Mutex
	pipeline PipelineMetricsSnapshot
}

// NewRuntimeMetrics constructs a metrics accumulator with empty maps.
func NewRuntimeMetrics() *RuntimeMetrics {
	metrics := new(RuntimeMetrics)
	metrics.pipeline = PipelineMetricsSnapshot{
		TierCounts:       make(map[string]uint64),
		ProviderFailures: make(map[string]uint64),
	}
	return metrics
}

// RecordCacheHit increments the cache hit counter.
func (m *RuntimeMetrics) RecordCacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipeline.CacheHits++
}

// RecordCacheMiss increments the cache miss counter.
func (m *RuntimeMetrics) RecordCacheMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipeline.CacheMisses++
}

// RecordCacheExpiration accumulates entries dropped by lazy expiry or sweeps.
func (m *RuntimeMetrics) RecordCacheExpiration(count int) {
	if count <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipeline.CacheExpirations += uint64(count)
}

// RecordCacheInvalidation accumulates entries removed by pattern invalidation.
func (m *RuntimeMetrics) RecordCacheInvalidation(count int) {
	if count <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipeline.CacheInvalidations += uint64(count)
}

// RecordFlightShared increments the coalesced single-flight counter.
func (m *RuntimeMetrics) RecordFlightShared() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipeline.FlightsShared++
}

// RecordTier tracks how often each confidence tier is served.
func (m *RuntimeMetrics) RecordTier(tier string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipeline.TierCounts[tier]++
}

// RecordProviderFailure tracks upstream query failures per provider.
func (m *RuntimeMetrics) RecordProviderFailure(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipeline.ProviderFailures[provider]++
}

// Snapshot copies the current pipeline metrics state for reporting.
func (m *RuntimeMetrics) Snapshot() PipelineMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.pipeline
	out.TierCounts = make(map[string]uint64, len(m.pipeline.TierCounts))
	for k, v := range m.pipeline.TierCounts {
		out.TierCounts[k] = v
	}
	out.ProviderFailures = make(map[string]uint64, len(m.pipeline.ProviderFailures))
	for k, v := range m.pipeline.ProviderFailures {
		out.ProviderFailures[k] = v
	}
	return out
}
