// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"

	townerr "github.com/ishan-parihar/ai-town-sub000/pkg/errors"
)

// Fallback supplies a substitute result when a primary operation fails.
type Fallback interface {
	Execute(ctx context.Context, primaryErr error) (interface{}, error)
}

// FallbackFunc wraps a function as a Fallback.
type FallbackFunc func(ctx context.Context, primaryErr error) (interface{}, error)

// Execute calls the function.
func (f FallbackFunc) Execute(ctx context.Context, primaryErr error) (interface{}, error) {
	return f(ctx, primaryErr)
}

// StaticFallback swallows the error and returns a fixed value.
type StaticFallback struct {
	Value interface{}
}

// Execute returns the fixed value.
func (s *StaticFallback) Execute(ctx context.Context, primaryErr error) (interface{}, error) {
	return s.Value, nil
}

// CachedFallback returns the last known good value, failing when none
// has been stored yet.
type CachedFallback struct {
	Cached interface{}
}

// Execute returns the cached value.
func (c *CachedFallback) Execute(ctx context.Context, primaryErr error) (interface{}, error) {
	if c.Cached == nil {
		return nil, townerr.New(townerr.CodeInternal, "no cached value available", primaryErr).
			WithContext("fallback", "cache")
	}
	return c.Cached, nil
}

// Store records a known good value for later fallback use.
func (c *CachedFallback) Store(value interface{}) { c.Cached = value }

// WithFallback runs fn, consulting fallback on error.
func WithFallback(ctx context.Context, fn func(ctx context.Context) (interface{}, error), fallback Fallback) (interface{}, error) {
	value, err := fn(ctx)
	if err == nil {
		return value, nil
	}
	return fallback.Execute(ctx, err)
}
