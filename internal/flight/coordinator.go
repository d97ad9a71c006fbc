// Package flight coalesces duplicate concurrent computations per cache key.
package flight

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/marketlens/marketlens/internal/observability"
)

// Coordinator ensures at most one in-flight computation per key. Concurrent
// callers for the same key await the single execution and share its settled
// value or error; the in-flight marker is cleared once it settles.
type Coordinator[T any] struct {
	group   singleflight.Group
	metrics *observability.RuntimeMetrics
}

// NewCoordinator constructs a coordinator. A nil metrics accumulator disables
// coalescing counters.
func NewCoordinator[T any](metrics *observability.RuntimeMetrics) *Coordinator[T] {
	return &Coordinator[T]{metrics: metrics}
}

// Do executes compute under the key's flight, or joins an existing flight.
// The boolean reports whether the result was shared with other callers.
//
// Cancellation of one waiter's context abandons only that waiter; the
// computation keeps running for the remaining callers.
func (c *Coordinator[T]) Do(ctx context.Context, key string, compute func() (T, error)) (T, bool, error) {
	var zero T
	if compute == nil {
		return zero, false, fmt.Errorf("flight %q: nil compute", key)
	}

	ch := c.group.DoChan(key, func() (any, error) {
		return compute()
	})

	select {
	case <-ctx.Done():
		return zero, false, fmt.Errorf("flight %q: %w", key, ctx.Err())
	case res := <-ch:
		if res.Shared && c.metrics != nil {
			c.metrics.RecordFlightShared()
		}
		if res.Err != nil {
			return zero, res.Shared, res.Err
		}
		value, ok := res.Val.(T)
		if !ok {
			return zero, res.Shared, fmt.Errorf("flight %q: unexpected payload type %T", key, res.Val)
		}
		return value, res.Shared, nil
	}
}

// Forget removes any in-flight marker for key so the next caller recomputes.
func (c *Coordinator[T]) Forget(key string) {
	c.group.Forget(key)
}
