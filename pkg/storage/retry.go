package storage

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/pixels/pkg/config"
	"github.com/ajitpratap0/pixels/pkg/errors"
	"github.com/ajitpratap0/pixels/pkg/metrics"
)

// RetryPolicy retries retryable storage failures with exponential backoff and jitter.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// NewRetryPolicy creates a policy from configuration.
func NewRetryPolicy(cfg config.RetryConfig) *RetryPolicy {
	rp := &RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialDelay:    cfg.InitialDelay,
		MaxDelay:        cfg.MaxDelay,
		Multiplier:      cfg.Multiplier,
		RandomizeFactor: 0.25,
	}
	if rp.MaxAttempts < 1 {
		rp.MaxAttempts = 1
	}
	if rp.Multiplier < 1 {
		rp.Multiplier = 1
	}
	return rp
}

// NoRetry runs every operation once.
func NoRetry() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 1, Multiplier: 1}
}

// Execute runs fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. Only io_failure errors are retried; the context is
// checked between attempts, never during one.
func (rp *RetryPolicy) Execute(ctx context.Context, scheme, op string, logger *zap.Logger, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.IsRetryable(err) || attempt == rp.MaxAttempts-1 {
			break
		}

		delay := rp.calculateDelay(attempt)
		metrics.StorageRetries.WithLabelValues(scheme).Inc()
		logger.Debug("retrying storage operation",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), errors.ErrorTypeIOFailure, op+" cancelled").
				WithDetail("last_error", lastErr.Error())
		case <-timer.C:
		}
	}
	if errors.IsRetryable(lastErr) && rp.MaxAttempts > 1 {
		return errors.Wrap(lastErr, errors.ErrorTypeIOFailure, op+" failed").
			WithDetail("attempts", rp.MaxAttempts)
	}
	return lastErr
}

// calculateDelay calculates the delay for a given attempt
func (rp *RetryPolicy) calculateDelay(attempt int) time.Duration {
	delay := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt))
	if rp.MaxDelay > 0 && delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}
	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		delay = delay - delta + rand.Float64()*2*delta
	}
	return time.Duration(delay)
}
