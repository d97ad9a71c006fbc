// Package ingest loads observation batches into an observation sink through a
// bounded worker pool.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/marketlens/marketlens/errs"
	"github.com/marketlens/marketlens/internal/observability"
	"github.com/marketlens/marketlens/internal/position"
)

// Kind selects which observation series a record belongs to.
type Kind string

const (
	KindPricing  Kind = "pricing"
	KindCapacity Kind = "capacity"
)

// Observation is one record queued for ingestion.
type Observation struct {
	Kind     Kind
	Record   position.ObservationRecord
	Metadata map[string]string
}

// Sink persists observation records. The postgres ObservationStore satisfies
// it; tests use an in-memory implementation.
type Sink interface {
	InsertPricing(ctx context.Context, record position.ObservationRecord, metadata map[string]string) error
	InsertCapacity(ctx context.Context, record position.ObservationRecord, metadata map[string]string) error
}

// Config sizes the ingester's worker pool and queue.
type Config struct {
	Workers int
	Queue   int
}

// Stats reports ingestion progress.
type Stats struct {
	Written int64
	Failed  int64
}

// Ingester writes observations to a sink with bounded concurrency. Submit
// sheds load instead of blocking when the queue is full; Shutdown drains
// whatever was accepted.
type Ingester struct {
	sink    Sink
	mu      sync.RWMutex
	closed  bool
	jobs    chan Observation
	workers sync.WaitGroup
	written atomic.Int64
	failed  atomic.Int64
}

// New creates an ingester and starts its workers.
func New(sink Sink, cfg Config) (*Ingester, error) {
	if sink == nil {
		return nil, errs.New("ingest", errs.CodeInvalid, errs.WithMessage("sink must not be nil"))
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Queue < 0 {
		cfg.Queue = 0
	}
	in := new(Ingester)
	in.sink = sink
	in.jobs = make(chan Observation, cfg.Queue)
	for i := 0; i < cfg.Workers; i++ {
		in.workers.Add(1)
		go in.worker()
	}
	return in, nil
}

// Submit queues one observation for writing. It returns CodeUnavailable when
// the ingester is closed or the queue is at capacity.
func (in *Ingester) Submit(ctx context.Context, obs Observation) error {
	switch obs.Kind {
	case KindPricing, KindCapacity:
	default:
		return errs.New("ingest", errs.CodeInvalid, errs.WithMessage(fmt.Sprintf("unknown observation kind %q", obs.Kind)))
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("submit context: %w", err)
	}

	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.closed {
		return errs.New("ingest", errs.CodeUnavailable, errs.WithMessage("ingester closed"))
	}
	select {
	case in.jobs <- obs:
		return nil
	default:
		return errs.New("ingest", errs.CodeUnavailable, errs.WithMessage("ingest queue at capacity"))
	}
}

// Close stops accepting new observations. Queued observations are still
// drained by the workers.
func (in *Ingester) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return
	}
	in.closed = true
	close(in.jobs)
}

// Shutdown closes the ingester and waits for the queue to drain or the
// context to expire.
func (in *Ingester) Shutdown(ctx context.Context) error {
	in.Close()
	done := make(chan struct{})
	go func() {
		in.workers.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown context: %w", ctx.Err())
	case <-done:
		return nil
	}
}

// Stats returns the written/failed counts so far.
func (in *Ingester) Stats() Stats {
	return Stats{Written: in.written.Load(), Failed: in.failed.Load()}
}

func (in *Ingester) worker() {
	defer in.workers.Done()
	for obs := range in.jobs {
		in.write(obs)
	}
}

func (in *Ingester) write(obs Observation) {
	var err error
	switch obs.Kind {
	case KindPricing:
		err = in.sink.InsertPricing(context.Background(), obs.Record, obs.Metadata)
	case KindCapacity:
		err = in.sink.InsertCapacity(context.Background(), obs.Record, obs.Metadata)
	}
	if err != nil {
		in.failed.Add(1)
		observability.Log().Error("observation write failed",
			observability.Field{Key: "kind", Value: string(obs.Kind)},
			observability.Field{Key: "subject", Value: obs.Record.SubjectID},
			observability.Field{Key: "error", Value: err.Error()})
		return
	}
	in.written.Add(1)
}
