// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	townerr "github.com/ishan-parihar/ai-town-sub000/pkg/errors"
)

// maxJitter bounds the random component added to each backoff delay.
const maxJitter = time.Second

// RetryConfig controls retry with exponential backoff. Each attempt n
// (zero-based) that fails waits BaseDelay × 2^n plus a random jitter of
// at most one second before the next attempt.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Defaults to 3.
	MaxRetries int

	// BaseDelay is the backoff base. Defaults to 100ms.
	BaseDelay time.Duration

	// Jitter caps the random delay component. Defaults to maxJitter;
	// tests shrink it.
	Jitter time.Duration

	Logger *slog.Logger
}

// DefaultRetryConfig returns the standard retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: 100 * time.Millisecond}
}

// Do executes fn, retrying on failure up to MaxRetries times. Each
// intermediate failure is logged at warn; exhausting all attempts
// returns RETRY_EXHAUSTED wrapping the last error. There is no overall
// deadline beyond ctx.
func (rc RetryConfig) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if rc.MaxRetries < 0 {
		rc.MaxRetries = 0
	}
	if rc.BaseDelay <= 0 {
		rc.BaseDelay = 100 * time.Millisecond
	}
	if rc.Jitter <= 0 || rc.Jitter > maxJitter {
		rc.Jitter = maxJitter
	}
	logger := rc.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 0; attempt <= rc.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return townerr.New(townerr.CodeTimeout, "context canceled during retry backoff", ctx.Err()).
					WithContext("operation", name).
					WithContext("attempt", attempt)
			case <-time.After(rc.backoff(attempt - 1)):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt < rc.MaxRetries {
			logger.Warn("retry.attempt_failed",
				slog.String("operation", name),
				slog.Int("attempt", attempt+1),
				slog.Int("maxAttempts", rc.MaxRetries+1),
				slog.String("error", lastErr.Error()))
		}
	}

	logger.Error("retry.exhausted",
		slog.String("operation", name),
		slog.Int("attempts", rc.MaxRetries+1),
		slog.String("error", lastErr.Error()))
	return townerr.New(townerr.CodeRetryExhausted, "all retry attempts failed", lastErr).
		WithContext("operation", name).
		WithContext("attempts", rc.MaxRetries+1)
}

// backoff computes the delay before retrying after zero-based attempt n.
func (rc RetryConfig) backoff(n int) time.Duration {
	delay := rc.BaseDelay << uint(n)
	if delay <= 0 || delay > time.Minute {
		// Shift overflow or runaway exponent; clamp.
		delay = time.Minute
	}
	return delay + time.Duration(rand.Int63n(int64(rc.Jitter)))
}
