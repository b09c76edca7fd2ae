// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"time"

	townerr "github.com/ishan-parihar/ai-town-sub000/pkg/errors"
)

// WithTimeout runs fn bounded by d. The deadline elapsing returns
// TIMEOUT; fn keeps running in its goroutine but its result is
// discarded. A zero duration runs fn unbounded.
func WithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case <-ctx.Done():
		return townerr.New(townerr.CodeTimeout, "operation exceeded timeout", ctx.Err()).
			WithContext("timeout", d.String()).
			WithRecoverable(true)
	case err := <-done:
		return err
	}
}
