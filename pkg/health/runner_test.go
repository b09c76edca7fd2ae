// SPDX-License-Identifier: Apache-2.0
package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ishan-parihar/ai-town-sub000/pkg/alerting"
	"github.com/ishan-parihar/ai-town-sub000/pkg/core"
)

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

func newTestRunner() *Runner {
	return NewRunner(RunnerConfig{Interval: time.Minute, DefaultTimeout: 200 * time.Millisecond})
}

func healthyChecker() Checker {
	return CheckerFunc(func(ctx context.Context) Result {
		return Result{Status: StatusHealthy}
	})
}

func TestRunAllRecordsResults(t *testing.T) {
	r := newTestRunner()
	r.Register(Dependency{Name: "api", Type: "api", Checker: healthyChecker()})
	r.Register(Dependency{Name: "cache", Type: "cache", Checker: CheckerFunc(func(ctx context.Context) Result {
		return Result{Status: StatusDegraded, Message: "slow"}
	})})

	r.RunAll(context.Background())

	c, ok := r.Get("api")
	if !ok || c.Status != StatusHealthy {
		t.Fatalf("api record = %+v ok=%v", c, ok)
	}
	if c.Timestamp.Millis() == 0 {
		t.Fatal("expected timestamp to be set")
	}
	c, _ = r.Get("cache")
	if c.Status != StatusDegraded || c.Message != "slow" {
		t.Fatalf("cache record = %+v", c)
	}
}

func TestFailingProbeRaisesOneHighAlert(t *testing.T) {
	raiser := &fakeRaiser{}
	r := newTestRunner()
	r.SetRaiser(raiser)
	r.Register(Dependency{Name: "db", Type: "api", Checker: CheckerFunc(func(ctx context.Context) Result {
		panic("connection refused")
	})})

	r.RunAll(context.Background())

	c, ok := r.Get("db")
	if !ok || c.Status != StatusUnhealthy {
		t.Fatalf("db record = %+v ok=%v", c, ok)
	}
	if raiser.count() != 1 {
		t.Fatalf("alerts = %d, want 1", raiser.count())
	}
	a := raiser.alerts[0]
	if a.Source != "health-check" {
		t.Fatalf("alert source = %q", a.Source)
	}
	if !a.Severity.AtLeast(alerting.SeverityHigh) {
		t.Fatalf("alert severity = %q, want high or above", a.Severity)
	}
}

func TestDatabaseFailureIsCritical(t *testing.T) {
	raiser := &fakeRaiser{}
	r := newTestRunner()
	r.SetRaiser(raiser)
	r.Register(Dependency{Name: "postgres", Type: "database", Checker: CheckerFunc(func(ctx context.Context) Result {
		return Result{Status: StatusUnhealthy, Message: "dial tcp: connection refused"}
	})})

	r.RunAll(context.Background())

	if raiser.count() != 1 {
		t.Fatalf("alerts = %d, want 1", raiser.count())
	}
	if raiser.alerts[0].Severity != alerting.SeverityCritical {
		t.Fatalf("severity = %q, want critical", raiser.alerts[0].Severity)
	}
}

func TestProbeTimeoutMarksUnhealthy(t *testing.T) {
	r := newTestRunner()
	r.Register(Dependency{Name: "slow", Timeout: 20 * time.Millisecond, Checker: CheckerFunc(func(ctx context.Context) Result {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return Result{Status: StatusHealthy}
	})})

	r.RunAll(context.Background())

	c, _ := r.Get("slow")
	if c.Status != StatusUnhealthy {
		t.Fatalf("status = %q, want unhealthy", c.Status)
	}
}

func TestSlowProbeDoesNotBlockOthers(t *testing.T) {
	r := newTestRunner()
	r.Register(Dependency{Name: "slow", Timeout: 50 * time.Millisecond, Checker: CheckerFunc(func(ctx context.Context) Result {
		<-ctx.Done()
		return Result{Status: StatusUnhealthy, Message: ctx.Err().Error()}
	})})
	r.Register(Dependency{Name: "fast", Checker: healthyChecker()})

	start := time.Now()
	r.RunAll(context.Background())
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Fatalf("RunAll took %s, probes did not run concurrently", elapsed)
	}
	if c, _ := r.Get("fast"); c.Status != StatusHealthy {
		t.Fatalf("fast status = %q", c.Status)
	}
}

func TestCheckOne(t *testing.T) {
	r := newTestRunner()
	calls := 0
	r.Register(Dependency{Name: "api", Checker: CheckerFunc(func(ctx context.Context) Result {
		calls++
		return Result{Status: StatusHealthy}
	})})

	c, ok := r.CheckOne(context.Background(), "api")
	if !ok || c.Status != StatusHealthy || calls != 1 {
		t.Fatalf("check = %+v ok=%v calls=%d", c, ok, calls)
	}
	if _, ok := r.CheckOne(context.Background(), "nope"); ok {
		t.Fatal("expected unknown dependency to report not found")
	}
}

func TestRegisterReplacesByName(t *testing.T) {
	r := newTestRunner()
	r.Register(Dependency{Name: "api", Checker: CheckerFunc(func(ctx context.Context) Result {
		return Result{Status: StatusUnhealthy}
	})})
	r.Register(Dependency{Name: "api", Checker: healthyChecker()})

	r.RunAll(context.Background())

	if c, _ := r.Get("api"); c.Status != StatusHealthy {
		t.Fatalf("status = %q, replacement probe not used", c.Status)
	}
	if got := r.Summarize().Total; got != 1 {
		t.Fatalf("total = %d, want 1", got)
	}
}

func TestOverallAndSummary(t *testing.T) {
	r := newTestRunner()
	r.Register(Dependency{Name: "a", Checker: healthyChecker()})
	r.Register(Dependency{Name: "b", Checker: CheckerFunc(func(ctx context.Context) Result {
		return Result{Status: StatusDegraded}
	})})
	r.RunAll(context.Background())

	if got := r.Overall(); got != StatusDegraded {
		t.Fatalf("overall = %q, want degraded", got)
	}
	s := r.Summarize()
	if s.Total != 2 || s.Healthy != 1 || s.Degraded != 1 || s.Unhealthy != 0 {
		t.Fatalf("summary = %+v", s)
	}

	r.Register(Dependency{Name: "c", Checker: CheckerFunc(func(ctx context.Context) Result {
		return Result{Status: StatusUnhealthy}
	})})
	r.RunAll(context.Background())
	if got := r.Overall(); got != StatusUnhealthy {
		t.Fatalf("overall = %q, want unhealthy", got)
	}
}

func TestStatusForRuleConditions(t *testing.T) {
	r := newTestRunner()
	r.Register(Dependency{Name: "api", Checker: healthyChecker()})
	r.RunAll(context.Background())

	if got, ok := r.Status("api"); !ok || got != "healthy" {
		t.Fatalf("Status = %q ok=%v", got, ok)
	}
	if _, ok := r.Status("unknown"); ok {
		t.Fatal("expected unknown name to report not found")
	}
}

func TestHTTPChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	chk := &HTTPChecker{URL: srv.URL}
	if res := chk.Check(context.Background()); res.Status != StatusHealthy {
		t.Fatalf("result = %+v", res)
	}

	srv500 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv500.Close()

	chk = &HTTPChecker{URL: srv500.URL}
	if res := chk.Check(context.Background()); res.Status != StatusDegraded {
		t.Fatalf("result = %+v", res)
	}

	chk = &HTTPChecker{URL: "http://127.0.0.1:1"}
	if res := chk.Check(context.Background()); res.Status != StatusUnhealthy {
		t.Fatalf("result = %+v", res)
	}
}

type fakeRecorder struct {
	mu    sync.Mutex
	names []string
}

func (f *fakeRecorder) Record(name string, value float64, unit string, tags map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
}

func TestResponseTimeRecorded(t *testing.T) {
	rec := &fakeRecorder{}
	r := newTestRunner()
	r.SetRecorder(rec)
	r.Register(Dependency{Name: "api", Checker: healthyChecker()})

	r.RunAll(context.Background())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.names) != 1 || rec.names[0] != "health.api.response_time" {
		t.Fatalf("recorded = %v", rec.names)
	}
}

func TestStartArmsTickerImmediately(t *testing.T) {
	clock := core.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := NewRunner(RunnerConfig{Interval: 30 * time.Second, Clock: clock})

	var mu sync.Mutex
	runs := 0
	r.Register(Dependency{Name: "api", Checker: CheckerFunc(func(ctx context.Context) Result {
		mu.Lock()
		runs++
		mu.Unlock()
		return Result{Status: StatusHealthy}
	})})

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return runs
	}
	waitFor := func(n int) {
		deadline := time.Now().Add(2 * time.Second)
		for count() < n && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
	}

	r.Start()
	defer r.Stop()
	waitFor(1)

	// An advance issued right after Start must fire the first tick; the
	// ticker is armed before Start returns.
	clock.Advance(30 * time.Second)
	waitFor(2)
	if count() < 2 {
		t.Fatalf("runs = %d, want a second cycle after one interval", count())
	}
}

func TestStartStopIdempotent(t *testing.T) {
	r := NewRunner(RunnerConfig{Interval: 10 * time.Millisecond})
	r.Register(Dependency{Name: "api", Checker: healthyChecker()})
	r.Start()
	r.Start() // logs and returns
	time.Sleep(30 * time.Millisecond)
	r.Stop()
	r.Stop()

	if _, ok := r.Get("api"); !ok {
		t.Fatal("expected at least one probe cycle before stop")
	}
}
