// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ishan-parihar/ai-town-sub000/pkg/alerting"
	"github.com/ishan-parihar/ai-town-sub000/pkg/core"
	townerr "github.com/ishan-parihar/ai-town-sub000/pkg/errors"
)

var errBoom = errors.New("boom")

type fakeRaiser struct {
	mu     sync.Mutex
	alerts []alerting.Alert
}

func (f *fakeRaiser) CreateAlert(alertType string, severity alerting.Severity, title, message, source string, metadata map[string]interface{}) alerting.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := alerting.Alert{Type: alertType, Severity: severity, Title: title, Message: message, Source: source, Metadata: metadata}
	f.alerts = append(f.alerts, a)
	return a
}

func (f *fakeRaiser) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

func failN(n int) func(ctx context.Context) error {
	calls := 0
	return func(ctx context.Context) error {
		calls++
		if calls <= n {
			return errBoom
		}
		return nil
	}
}

func alwaysFail(ctx context.Context) error { return errBoom }
func alwaysOK(ctx context.Context) error   { return nil }

func newTestBreaker(clock core.Clock, raiser alerting.Raiser) *CircuitBreaker {
	return NewCircuitBreaker(BreakerConfig{
		Name:             "db",
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
		Clock:            clock,
		Raiser:           raiser,
	})
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1000, 0))
	raiser := &fakeRaiser{}
	cb := newTestBreaker(clock, raiser)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, alwaysFail); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d error = %v", i, err)
		}
	}
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %q, want open", got)
	}
	if raiser.count() != 1 {
		t.Fatalf("alerts = %d, want 1 on opening", raiser.count())
	}
	a := raiser.alerts[0]
	if a.Severity != alerting.SeverityHigh || a.Source != "circuit-breaker" {
		t.Fatalf("alert = %+v", a)
	}
	if a.Metadata["failureCount"] != 3 {
		t.Fatalf("failureCount metadata = %v", a.Metadata["failureCount"])
	}
}

func TestOpenBreakerFailsFast(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1000, 0))
	cb := newTestBreaker(clock, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, alwaysFail)
	}

	invoked := false
	err := cb.Execute(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	if townerr.CodeOf(err) != townerr.CodeCircuitOpen {
		t.Fatalf("error = %v, want CIRCUIT_OPEN", err)
	}
	if invoked {
		t.Fatal("wrapped operation ran while breaker open")
	}
}

func TestSuccessInClosedResetsFailureCount(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1000, 0))
	cb := newTestBreaker(clock, nil)
	ctx := context.Background()

	_ = cb.Execute(ctx, alwaysFail)
	_ = cb.Execute(ctx, alwaysFail)
	_ = cb.Execute(ctx, alwaysOK)
	_ = cb.Execute(ctx, alwaysFail)
	_ = cb.Execute(ctx, alwaysFail)

	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %q, want closed after interleaved success", got)
	}
}

func TestHalfOpenClosesAfterThreeSuccesses(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1000, 0))
	cb := newTestBreaker(clock, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, alwaysFail)
	}
	clock.Advance(time.Minute)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, alwaysOK); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
		if got := cb.State(); got != StateHalfOpen {
			t.Fatalf("state after %d successes = %q, want half_open", i+1, got)
		}
	}
	if err := cb.Execute(ctx, alwaysOK); err != nil {
		t.Fatalf("third probe: %v", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %q, want closed after exactly 3 successes", got)
	}
	snap := cb.Snapshot()
	if snap.FailureCount != 0 || snap.ConsecutiveSuccesses != 0 {
		t.Fatalf("snapshot = %+v, counters not reset", snap)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1000, 0))
	cb := newTestBreaker(clock, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, alwaysFail)
	}
	clock.Advance(time.Minute)

	_ = cb.Execute(ctx, alwaysOK)
	_ = cb.Execute(ctx, alwaysOK)
	_ = cb.Execute(ctx, alwaysFail)

	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %q, want open after half-open failure", got)
	}
	// Fresh reset window: still fail-fast before it elapses.
	if err := cb.Execute(ctx, alwaysOK); townerr.CodeOf(err) != townerr.CodeCircuitOpen {
		t.Fatalf("error = %v, want CIRCUIT_OPEN", err)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	rc := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, Jitter: time.Millisecond}
	if err := rc.Do(context.Background(), "op", failN(2)); err != nil {
		t.Fatalf("Do: %v", err)
	}
}

func TestRetryExhausted(t *testing.T) {
	rc := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, Jitter: time.Millisecond}
	calls := 0
	err := rc.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return errBoom
	})
	if townerr.CodeOf(err) != townerr.CodeRetryExhausted {
		t.Fatalf("error = %v, want RETRY_EXHAUSTED", err)
	}
	if !errors.Is(err, errBoom) {
		t.Fatal("exhaustion error does not wrap the last failure")
	}
	if calls != 3 {
		t.Fatalf("attempts = %d, want initial + 2 retries", calls)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rc := RetryConfig{MaxRetries: 5, BaseDelay: 10 * time.Millisecond, Jitter: time.Millisecond}
	err := rc.Do(ctx, "op", alwaysFail)
	if townerr.CodeOf(err) != townerr.CodeTimeout {
		t.Fatalf("error = %v, want TIMEOUT on canceled context", err)
	}
}

func TestRegistryCachesBreakersByName(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	a := r.Get("db", nil)
	b := r.Get("db", &BreakerConfig{FailureThreshold: 99})
	if a != b {
		t.Fatal("same name returned different breakers")
	}
	if a.failureThreshold != 5 {
		t.Fatalf("threshold = %d, later override should be ignored", a.failureThreshold)
	}
	r.Get("api", nil)

	snaps := r.Snapshots()
	if len(snaps) != 2 || snaps[0].Name != "api" || snaps[1].Name != "db" {
		t.Fatalf("snapshots = %+v", snaps)
	}
}

func TestExecuteWithResilienceRecovers(t *testing.T) {
	// Five straight failures with threshold 5 open the breaker; the
	// nanosecond reset window means the very next retry probes
	// half-open and reaches the recovered operation.
	r := NewRegistry(RegistryConfig{DefaultFailureThreshold: 5, DefaultResetTimeout: time.Nanosecond})

	retry := RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond, Jitter: time.Millisecond}
	if err := r.ExecuteWithResilience(context.Background(), "flaky", nil, retry, failN(5)); err != nil {
		t.Fatalf("ExecuteWithResilience: %v", err)
	}

	cb := r.Get("flaky", nil)
	// Drive the remaining half-open probes to close.
	for i := 0; i < 2; i++ {
		if err := cb.Execute(context.Background(), alwaysOK); err != nil {
			t.Fatalf("probe: %v", err)
		}
	}
	snap := cb.Snapshot()
	if snap.State != StateClosed || snap.FailureCount != 0 {
		t.Fatalf("snapshot = %+v, want closed with zero failures", snap)
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 20*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	if townerr.CodeOf(err) != townerr.CodeTimeout {
		t.Fatalf("error = %v, want TIMEOUT", err)
	}

	if err := WithTimeout(context.Background(), time.Second, alwaysOK); err != nil {
		t.Fatalf("fast path: %v", err)
	}
	if err := WithTimeout(context.Background(), 0, alwaysOK); err != nil {
		t.Fatalf("unbounded path: %v", err)
	}
}

func TestFallbacks(t *testing.T) {
	ctx := context.Background()

	v, err := WithFallback(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, errBoom
	}, &StaticFallback{Value: 42})
	if err != nil || v != 42 {
		t.Fatalf("static fallback = %v, %v", v, err)
	}

	cache := &CachedFallback{}
	_, err = cache.Execute(ctx, errBoom)
	if townerr.CodeOf(err) != townerr.CodeInternal {
		t.Fatalf("empty cache error = %v", err)
	}
	cache.Store("warm")
	v, err = cache.Execute(ctx, errBoom)
	if err != nil || v != "warm" {
		t.Fatalf("cached fallback = %v, %v", v, err)
	}
}
