// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ishan-parihar/ai-town-sub000/pkg/alerting"
	"github.com/ishan-parihar/ai-town-sub000/pkg/core"
	"github.com/ishan-parihar/ai-town-sub000/pkg/telemetry"
)

// RegistryConfig supplies the collaborators shared by every breaker the
// registry creates.
type RegistryConfig struct {
	// DefaultFailureThreshold for breakers created without an explicit
	// config. Defaults to 5.
	DefaultFailureThreshold int

	// DefaultResetTimeout for breakers created without an explicit
	// config. Defaults to 30s.
	DefaultResetTimeout time.Duration

	Clock   core.Clock
	Logger  *slog.Logger
	Metrics *telemetry.CoreMetrics
	Raiser  alerting.Raiser
}

// Registry caches circuit breakers by operation name, creating them
// lazily on first use.
type Registry struct {
	cfg RegistryConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry builds an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.DefaultFailureThreshold < 1 {
		cfg.DefaultFailureThreshold = 5
	}
	if cfg.DefaultResetTimeout <= 0 {
		cfg.DefaultResetTimeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = core.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// SetRaiser wires the alert gateway into the registry and every breaker
// it creates afterwards.
func (r *Registry) SetRaiser(a alerting.Raiser) {
	r.mu.Lock()
	r.cfg.Raiser = a
	for _, cb := range r.breakers {
		cb.mu.Lock()
		cb.raiser = a
		cb.mu.Unlock()
	}
	r.mu.Unlock()
}

// Get returns the breaker for name, creating it with override (or the
// registry defaults when override is nil) on first use. Later calls
// ignore override.
func (r *Registry) Get(name string, override *BreakerConfig) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cfg := BreakerConfig{
		Name:             name,
		FailureThreshold: r.cfg.DefaultFailureThreshold,
		ResetTimeout:     r.cfg.DefaultResetTimeout,
		Clock:            r.cfg.Clock,
		Logger:           r.cfg.Logger,
		Metrics:          r.cfg.Metrics,
		Raiser:           r.cfg.Raiser,
	}
	if override != nil {
		if override.FailureThreshold > 0 {
			cfg.FailureThreshold = override.FailureThreshold
		}
		if override.ResetTimeout > 0 {
			cfg.ResetTimeout = override.ResetTimeout
		}
	}
	cb := NewCircuitBreaker(cfg)
	r.breakers[name] = cb
	return cb
}

// Snapshots returns the current view of every breaker, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(breakers))
	for _, cb := range breakers {
		out = append(out, cb.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ExecuteWithResilience runs fn through the named breaker with retries
// around each breaker call. A fail-fast rejection from an open breaker
// still counts as a retry attempt.
func (r *Registry) ExecuteWithResilience(ctx context.Context, name string, override *BreakerConfig, retry RetryConfig, fn func(ctx context.Context) error) error {
	cb := r.Get(name, override)
	return retry.Do(ctx, name, func(ctx context.Context) error {
		return cb.Execute(ctx, fn)
	})
}
