package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/marketlens/marketlens/errs"
	"github.com/marketlens/marketlens/internal/observability"
	"github.com/marketlens/marketlens/internal/position"
)

// ResilientConfig bounds a decorated observation source.
type ResilientConfig struct {
	// Name labels the source in errors, logs, and metrics.
	Name string
	// QueryTimeout caps each attempt. Zero disables the per-attempt cap.
	QueryTimeout time.Duration
	// MaxRetries bounds retry attempts after the first failure.
	MaxRetries uint
	// RatePerSecond throttles queries; zero disables throttling.
	RatePerSecond float64
	// RateBurst is the throttle burst allowance.
	RateBurst int
	// MaxInterval caps the exponential backoff sleep between attempts.
	MaxInterval time.Duration
}

// Resilient decorates an observation source with retry, rate limiting, and
// per-attempt timeouts. Exhausted retries surface as CodeUnavailable so the
// cascade downgrades instead of failing.
type Resilient struct {
	next        position.ObservationSource
	name        string
	timeout     time.Duration
	maxRetries  uint
	maxInterval time.Duration
	limiter     *rate.Limiter
}

// NewResilient wraps next with the configured resilience policy.
func NewResilient(next position.ObservationSource, cfg ResilientConfig) *Resilient {
	name := cfg.Name
	if name == "" {
		name = "observation"
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	maxInterval := cfg.MaxInterval
	if maxInterval <= 0 {
		maxInterval = 2 * time.Second
	}
	return &Resilient{
		next:        next,
		name:        name,
		timeout:     cfg.QueryTimeout,
		maxRetries:  cfg.MaxRetries,
		maxInterval: maxInterval,
		limiter:     limiter,
	}
}

// Query performs a throttled, retried query against the wrapped source.
func (r *Resilient) Query(ctx context.Context, subjectID string, from, to time.Time) ([]position.ObservationRecord, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, errs.New("provider/"+r.name, errs.CodeTimeout,
				errs.WithMessage("rate limit wait aborted"), errs.WithCause(err))
		}
	}

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = r.maxInterval

	var lastErr error
	for attempt := uint(0); attempt <= r.maxRetries; attempt++ {
		records, err := r.attempt(ctx, subjectID, from, to)
		if err == nil {
			return records, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		observability.Log().Debug("observation source attempt failed",
			observability.Field{Key: "provider", Value: r.name},
			observability.Field{Key: "attempt", Value: attempt + 1},
			observability.Field{Key: "error", Value: err.Error()},
		)
		if attempt == r.maxRetries {
			break
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = r.maxInterval
		}
		select {
		case <-ctx.Done():
			return nil, errs.New("provider/"+r.name, errs.CodeTimeout, errs.WithCause(ctx.Err()))
		case <-time.After(sleep):
		}
	}

	return nil, errs.New("provider/"+r.name, errs.CodeUnavailable,
		errs.WithMessage("retries exhausted"), errs.WithCause(lastErr))
}

func (r *Resilient) attempt(ctx context.Context, subjectID string, from, to time.Time) ([]position.ObservationRecord, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.next.Query(ctx, subjectID, from, to)
}
