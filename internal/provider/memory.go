// Package provider supplies observation source implementations for the
// aggregation cascade: an in-memory source for tests and seeding, and a
// resilience decorator for production sources.
package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marketlens/marketlens/internal/position"
)

// MemorySource is a mutex-guarded in-memory observation source. It backs
// tests, local development, and seed tooling.
type MemorySource struct {
	mu      sync.RWMutex
	records []position.ObservationRecord
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

// Add appends observation records. Records are append-only; nothing mutates
// or removes them afterwards.
func (s *MemorySource) Add(records ...position.ObservationRecord) {
	s.mu.Lock()
	s.records = append(s.records, records...)
	s.mu.Unlock()
}

// Query returns all records observed inside [from, to]. The subject id is
// accepted for interface compatibility; the in-memory source holds a single
// market, so every stored record is a candidate.
func (s *MemorySource) Query(ctx context.Context, _ string, from, to time.Time) ([]position.ObservationRecord, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("memory source query context: %w", ctx.Err())
		default:
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]position.ObservationRecord, 0, len(s.records))
	for _, record := range s.records {
		if record.ObservedAt.Before(from) || record.ObservedAt.After(to) {
			continue
		}
		matched = append(matched, record)
	}
	return matched, nil
}

// Len reports the number of stored records.
func (s *MemorySource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
