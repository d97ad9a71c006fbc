// Package cache provides in-memory TTL storage for aggregation results.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/marketlens/marketlens/internal/clock"
	"github.com/marketlens/marketlens/internal/observability"
)

const (
	defaultTTL           = 30 * time.Minute
	defaultSweepInterval = 5 * time.Minute
)

// Config sizes a Store and wires its collaborators.
type Config struct {
	// DefaultTTL applies to entries stored via Set. Zero selects 30 minutes.
	DefaultTTL time.Duration
	// SweepInterval paces the background expiry sweep. Zero selects 5 minutes.
	SweepInterval time.Duration
	// Clock supplies expiry time. Nil selects the system clock.
	Clock clock.Clock
	// Metrics optionally accumulates hit/miss/expiry counters.
	Metrics *observability.RuntimeMetrics
}

type entry[T any] struct {
	payload  T
	storedAt time.Time
	ttl      time.Duration
}

func (e entry[T]) expired(now time.Time) bool {
	return now.After(e.storedAt.Add(e.ttl))
}

// Store is an in-memory key/value store with per-entry expiry, lazy
// expiry-on-read, periodic sweeping, and substring invalidation.
type Store[T any] struct {
	mu         sync.RWMutex
	entries    map[string]entry[T]
	defaultTTL time.Duration
	clock      clock.Clock
	metrics    *observability.RuntimeMetrics
	shutdown   chan struct{}
	closeOnce  sync.Once
}

// New creates a memory-backed TTL store and starts its sweep goroutine.
func New[T any](cfg Config) *Store[T] {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	store := new(Store[T])
	store.entries = make(map[string]entry[T])
	store.defaultTTL = cfg.DefaultTTL
	store.clock = cfg.Clock
	store.metrics = cfg.Metrics
	store.shutdown = make(chan struct{})
	go store.sweepExpired(cfg.SweepInterval)
	return store
}

// Get returns the payload stored under key. An expired entry is treated as
// absent and removed as a side effect of the read.
func (s *Store[T]) Get(key string) (T, bool) {
	var zero T
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		s.recordMiss()
		return zero, false
	}
	if e.expired(s.clock.Now()) {
		s.mu.Lock()
		// Re-check under the write lock in case a concurrent Set replaced it.
		if current, exists := s.entries[key]; exists && current.expired(s.clock.Now()) {
			delete(s.entries, key)
			if s.metrics != nil {
				s.metrics.RecordCacheExpiration(1)
			}
		}
		s.mu.Unlock()
		s.recordMiss()
		return zero, false
	}
	if s.metrics != nil {
		s.metrics.RecordCacheHit()
	}
	observability.Telemetry().IncCounter("cache_get_total", 1, map[string]string{"outcome": "hit"})
	return e.payload, true
}

// Set stores payload under key with the configured default TTL, overwriting
// any existing entry.
func (s *Store[T]) Set(key string, payload T) {
	s.SetTTL(key, payload, s.defaultTTL)
}

// SetTTL stores payload under key with an explicit TTL. Non-positive TTLs
// fall back to the store default.
func (s *Store[T]) SetTTL(key string, payload T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	s.mu.Lock()
	s.entries[key] = entry[T]{payload: payload, storedAt: s.clock.Now(), ttl: ttl}
	s.mu.Unlock()
}

// InvalidatePattern removes every key containing the provided substring and
// returns the number of entries removed. An empty pattern removes nothing.
func (s *Store[T]) InvalidatePattern(substring string) int {
	if substring == "" {
		return 0
	}
	s.mu.Lock()
	removed := 0
	for key := range s.entries {
		if strings.Contains(key, substring) {
			delete(s.entries, key)
			removed++
		}
	}
	s.mu.Unlock()
	if removed > 0 {
		if s.metrics != nil {
			s.metrics.RecordCacheInvalidation(removed)
		}
		observability.Log().Debug("cache pattern invalidated",
			observability.Field{Key: "pattern", Value: substring},
			observability.Field{Key: "removed", Value: removed},
		)
	}
	return removed
}

// Len reports the number of physically present entries, expired or not.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the background sweep goroutine.
func (s *Store[T]) Close() {
	s.closeOnce.Do(func() {
		close(s.shutdown)
	})
}

func (s *Store[T]) recordMiss() {
	if s.metrics != nil {
		s.metrics.RecordCacheMiss()
	}
	observability.Telemetry().IncCounter("cache_get_total", 1, map[string]string{"outcome": "miss"})
}

func (s *Store[T]) sweepExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.pruneExpired()
		}
	}
}

func (s *Store[T]) pruneExpired() {
	now := s.clock.Now()
	s.mu.Lock()
	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	s.mu.Unlock()
	if removed > 0 && s.metrics != nil {
		s.metrics.RecordCacheExpiration(removed)
	}
}
