// Package reference wraps a reference provider with bounded retries.
package reference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"go.ngs.io/forecast-verify/internal/adapter/store"
	"go.ngs.io/forecast-verify/internal/domain"
	"go.ngs.io/forecast-verify/internal/observability"
)

// RetryConfig bounds the retry loop.
type RetryConfig struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns three attempts with backoff starting at 200ms, capped at 5s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, Backoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second}
}

// Retrying retries transient reference fetch failures. A
// *domain.NoReferenceDataError from the wrapped provider is final; any other
// error is retried, and exhausting the attempts reports NoReferenceDataError.
type Retrying struct {
	next    store.ReferenceProvider
	cfg     RetryConfig
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewRetrying wraps next. A nil clock uses the real clock; nil metrics are
// collected unregistered.
func NewRetrying(next store.ReferenceProvider, cfg RetryConfig, clock clockwork.Clock, logger *zap.Logger, metrics *observability.Metrics) *Retrying {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = cfg.Backoff
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	return &Retrying{next: next, cfg: cfg, clock: clock, logger: logger, metrics: metrics}
}

// Fetch implements store.ReferenceProvider.
func (r *Retrying) Fetch(ctx context.Context, t time.Time, region domain.Region) (*domain.Field2D, error) {
	backoff := r.cfg.Backoff
	var lastErr error

	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		start := r.clock.Now()
		field, err := r.next.Fetch(ctx, t, region)
		r.metrics.ReferenceFetchDuration.Observe(r.clock.Since(start).Seconds())

		if err == nil {
			r.metrics.ReferenceFetches.WithLabelValues("success").Inc()
			return field, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var noData *domain.NoReferenceDataError
		if errors.As(err, &noData) {
			r.metrics.ReferenceFetches.WithLabelValues("missing").Inc()
			return nil, err
		}

		r.metrics.ReferenceFetches.WithLabelValues("error").Inc()
		lastErr = err
		if attempt == r.cfg.Attempts {
			break
		}

		r.logger.Warn("Reference fetch failed, retrying",
			zap.Time("time", t),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if !sleepWithContext(ctx, r.clock, backoff) {
			return nil, ctx.Err()
		}
		backoff = nextBackoff(backoff, r.cfg.MaxBackoff)
	}

	return nil, &domain.NoReferenceDataError{
		Time:  t,
		Cause: fmt.Errorf("giving up after %d attempts: %w", r.cfg.Attempts, lastErr),
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
