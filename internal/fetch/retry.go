package fetch

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/iconidentify/fetchd/internal/domain"
)

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns sensible defaults for retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryStats records what happened across the attempts of one task.
type RetryStats struct {
	Attempts        int
	Failures        int
	CumulativeDelay time.Duration
	LastError       string
}

// backoffDelay computes the pre-jitter delay before attempt+1.
// attempt is zero-based, so the first retry waits BaseDelay.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	d := time.Duration(float64(cfg.BaseDelay) * math.Pow(cfg.BackoffFactor, float64(attempt)))
	if d > cfg.MaxDelay || d < 0 {
		d = cfg.MaxDelay
	}
	return d
}

// Retry executes fn with bounded retries and exponential backoff. Only
// failures domain.Retryable approves are retried; terminal failures and
// the final failure propagate unwrapped. Jitter scales each delay by a
// uniform factor in [0.5, 1.0) so many concurrent downloads sharing a
// worker cap do not retry in lockstep.
func Retry[T any](ctx context.Context, cfg RetryConfig, stats *RetryStats, fn func() (T, error)) (T, error) {
	var lastErr error
	var zero T

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := fn()
		stats.Attempts++
		if err == nil {
			return result, nil
		}

		lastErr = err
		stats.Failures++
		stats.LastError = err.Error()

		if !domain.Retryable(err) {
			break
		}

		// Don't wait after the last attempt
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := time.Duration(float64(backoffDelay(cfg, attempt)) * (0.5 + rand.Float64()*0.5))
		stats.CumulativeDelay += delay

		select {
		case <-ctx.Done():
			return zero, domain.NewCancelledError(ctx.Err())
		case <-time.After(delay):
		}
	}

	return zero, lastErr
}
