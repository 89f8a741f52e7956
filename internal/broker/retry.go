package broker

import (
	"context"
	"errors"
	"time"

	apperrors "fundx/internal/errors"
)

// RetryConfig holds retry settings for read-only broker calls. Orders are
// never retried.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the retry settings used for live brokers.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  250 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// retryable reports whether another attempt could succeed.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, apperrors.ErrCircuitOpen) && !errors.Is(err, apperrors.ErrUnsupportedCapability)
}

// withRetry runs fn with exponential backoff until it succeeds, the attempts
// run out, or ctx is done.
func withRetry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := cfg.InitialDelay

	var (
		value T
		err   error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		value, err = fn()
		if err == nil || !retryable(ctx, err) || attempt == attempts-1 {
			return value, err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return value, apperrors.FromContext(ctx, ctx.Err())
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return value, err
}
