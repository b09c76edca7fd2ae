// SPDX-License-Identifier: Apache-2.0
// Package resilience provides the failure-isolation primitives wrapped
// around calls to external collaborators: circuit breakers, retry with
// exponential backoff, and fallback/timeout helpers.
package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ishan-parihar/ai-town-sub000/pkg/alerting"
	"github.com/ishan-parihar/ai-town-sub000/pkg/core"
	townerr "github.com/ishan-parihar/ai-town-sub000/pkg/errors"
	"github.com/ishan-parihar/ai-town-sub000/pkg/telemetry"
)

// State is the circuit breaker state.
type State string

const (
	// StateClosed admits calls normally.
	StateClosed State = "closed"

	// StateOpen rejects calls without invoking the wrapped operation.
	StateOpen State = "open"

	// StateHalfOpen admits probe calls after the reset timeout.
	StateHalfOpen State = "half_open"
)

// halfOpenSuccesses is the number of consecutive half-open successes
// required before the breaker closes again.
const halfOpenSuccesses = 3

// BreakerConfig configures one circuit breaker.
type BreakerConfig struct {
	// Name identifies the wrapped operation.
	Name string

	// FailureThreshold is the consecutive-failure count that opens the
	// breaker. Defaults to 5.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before admitting
	// half-open probes. Defaults to 30s.
	ResetTimeout time.Duration

	Clock   core.Clock
	Logger  *slog.Logger
	Metrics *telemetry.CoreMetrics

	// Raiser, when set, receives a high alert each time the breaker
	// opens.
	Raiser alerting.Raiser
}

// Snapshot is a point-in-time view of one breaker for the API surface.
type Snapshot struct {
	Name                 string          `json:"name"`
	State                State           `json:"state"`
	FailureCount         int             `json:"failureCount"`
	ConsecutiveSuccesses int             `json:"consecutiveSuccesses"`
	LastFailureAt        core.UnixMillis `json:"lastFailureAt,omitempty"`
}

// CircuitBreaker isolates a named operation: it opens after
// FailureThreshold failures, fails fast while open, admits probes after
// ResetTimeout, and closes again only after three consecutive probe
// successes.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	resetTimeout     time.Duration
	clock            core.Clock
	logger           *slog.Logger
	metrics          *telemetry.CoreMetrics
	raiser           alerting.Raiser

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	lastFailureAt time.Time
}

// NewCircuitBreaker builds a breaker in the closed state.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = core.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		resetTimeout:     cfg.ResetTimeout,
		clock:            cfg.Clock,
		logger:           cfg.Logger,
		metrics:          cfg.Metrics,
		raiser:           cfg.Raiser,
		state:            StateClosed,
	}
}

// Execute runs fn under the breaker. While open and before the reset
// timeout it fails fast with CIRCUIT_OPEN without invoking fn. The
// wrapped operation runs outside the breaker lock.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(ctx); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(ctx, err)
	return err
}

// admit checks the breaker state, moving open to half_open once the
// reset timeout has elapsed.
func (cb *CircuitBreaker) admit(ctx context.Context) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.clock.Now().Sub(cb.lastFailureAt) < cb.resetTimeout {
			return townerr.New(townerr.CodeCircuitOpen, "circuit breaker is open", nil).
				WithContext("breaker", cb.name).
				WithRecoverable(true)
		}
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.failures = 0
		cb.logger.Info("breaker.half_open", slog.String("breaker", cb.name))
		cb.metrics.RecordBreakerState(ctx, cb.name, stateCode(StateHalfOpen))
	}
	return nil
}

// record applies one call outcome to the state machine.
func (cb *CircuitBreaker) record(ctx context.Context, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailureAt = cb.clock.Now()
		switch cb.state {
		case StateHalfOpen:
			// Any half-open failure reopens immediately.
			cb.open(ctx)
		case StateClosed:
			if cb.failures >= cb.failureThreshold {
				cb.open(ctx)
			}
		}
		return
	}

	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= halfOpenSuccesses {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
			cb.logger.Info("breaker.closed", slog.String("breaker", cb.name))
			cb.metrics.RecordBreakerState(ctx, cb.name, stateCode(StateClosed))
		}
	case StateClosed:
		cb.failures = 0
	}
}

// open transitions to the open state and raises the alert. Must be
// called under lock.
func (cb *CircuitBreaker) open(ctx context.Context) {
	failures := cb.failures
	cb.state = StateOpen
	cb.successes = 0

	cb.logger.Warn("breaker.opened",
		slog.String("breaker", cb.name),
		slog.Int("failures", failures))
	cb.metrics.RecordBreakerState(ctx, cb.name, stateCode(StateOpen))
	if cb.raiser != nil {
		cb.raiser.CreateAlert("circuit-breaker", alerting.SeverityHigh,
			"Circuit breaker opened: "+cb.name,
			"Consecutive failures exceeded the breaker threshold.",
			"circuit-breaker",
			map[string]interface{}{
				"breaker":      cb.name,
				"failureCount": failures,
			})
	}
}

// State returns the current state, reporting half_open for an open
// breaker whose reset timeout has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.clock.Now().Sub(cb.lastFailureAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Snapshot returns the breaker's current counters.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := Snapshot{
		Name:                 cb.name,
		State:                cb.state,
		FailureCount:         cb.failures,
		ConsecutiveSuccesses: cb.successes,
	}
	if !cb.lastFailureAt.IsZero() {
		s.LastFailureAt = core.UnixMillis(cb.lastFailureAt)
	}
	return s
}

// Reset forces the breaker back to closed with cleared counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
}

func stateCode(s State) int64 {
	switch s {
	case StateClosed:
		return 2
	case StateHalfOpen:
		return 1
	default:
		return 0
	}
}
