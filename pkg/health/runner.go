// SPDX-License-Identifier: Apache-2.0
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ishan-parihar/ai-town-sub000/pkg/alerting"
	"github.com/ishan-parihar/ai-town-sub000/pkg/core"
	"github.com/ishan-parihar/ai-town-sub000/pkg/telemetry"
)

// Recorder receives probe response times as metric samples.
type Recorder interface {
	Record(name string, value float64, unit string, tags map[string]string)
}

// RunnerConfig configures a Runner. Zero values get defaults.
type RunnerConfig struct {
	// Interval between probe cycles. Defaults to 30s.
	Interval time.Duration

	// DefaultTimeout bounds probes that do not set their own. Defaults
	// to 5s.
	DefaultTimeout time.Duration

	Clock   core.Clock
	Logger  *slog.Logger
	Metrics *telemetry.CoreMetrics
}

// Runner executes registered dependency probes concurrently on a fixed
// interval and keeps the latest record for each.
type Runner struct {
	interval       time.Duration
	defaultTimeout time.Duration
	clock          core.Clock
	logger         *slog.Logger
	metrics        *telemetry.CoreMetrics

	mu      sync.Mutex
	deps    []Dependency
	records map[string]Check
	raiser  alerting.Raiser
	rec     Recorder

	runMu  sync.Mutex
	cancel chan struct{}
	done   chan struct{}
}

// NewRunner builds a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = core.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		interval:       cfg.Interval,
		defaultTimeout: cfg.DefaultTimeout,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		records:        make(map[string]Check),
	}
}

// SetRaiser wires the alert gateway used when probes fail.
func (r *Runner) SetRaiser(a alerting.Raiser) {
	r.mu.Lock()
	r.raiser = a
	r.mu.Unlock()
}

// SetRecorder wires the metric sink for probe response times.
func (r *Runner) SetRecorder(rec Recorder) {
	r.mu.Lock()
	r.rec = rec
	r.mu.Unlock()
}

// Register adds a dependency probe. Registering a name again replaces
// the previous probe.
func (r *Runner) Register(dep Dependency) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.deps {
		if r.deps[i].Name == dep.Name {
			r.deps[i] = dep
			return
		}
	}
	r.deps = append(r.deps, dep)
}

// Start launches the probe loop. Calling Start on a running runner logs
// and returns.
func (r *Runner) Start() {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.cancel != nil {
		r.logger.Warn("health.runner.already_running")
		return
	}
	cancel := make(chan struct{})
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	// The ticker must exist before Start returns so its first deadline
	// is registered against the current clock time.
	ticker := r.clock.NewTicker(r.interval)
	r.logger.Info("health.runner.start", slog.Duration("interval", r.interval))
	go func() {
		defer close(done)
		defer ticker.Stop()
		// First cycle runs immediately so status is populated at boot.
		r.RunAll(context.Background())
		for {
			select {
			case <-cancel:
				return
			case <-ticker.C():
				r.RunAll(context.Background())
			}
		}
	}()
}

// Stop halts the probe loop and waits for it to exit. Safe to call when
// not running.
func (r *Runner) Stop() {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.cancel == nil {
		return
	}
	close(r.cancel)
	<-r.done
	r.cancel = nil
	r.done = nil
	r.logger.Info("health.runner.stop")
}

// RunAll probes every registered dependency concurrently and stores the
// resulting records. One slow or failing probe never blocks the others
// beyond its own timeout.
func (r *Runner) RunAll(ctx context.Context) {
	r.mu.Lock()
	deps := make([]Dependency, len(r.deps))
	copy(deps, r.deps)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, dep := range deps {
		wg.Add(1)
		go func(dep Dependency) {
			defer wg.Done()
			r.runOne(ctx, dep)
		}(dep)
	}
	wg.Wait()
}

// CheckOne probes a single dependency by name right now and returns the
// fresh record.
func (r *Runner) CheckOne(ctx context.Context, name string) (Check, bool) {
	r.mu.Lock()
	var dep Dependency
	found := false
	for _, d := range r.deps {
		if d.Name == name {
			dep = d
			found = true
			break
		}
	}
	r.mu.Unlock()
	if !found {
		return Check{}, false
	}
	return r.runOne(ctx, dep), true
}

func (r *Runner) runOne(ctx context.Context, dep Dependency) Check {
	timeout := dep.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	start := r.clock.Now()
	result := r.probe(ctx, dep, timeout)
	elapsed := r.clock.Now().Sub(start)

	check := Check{
		Name:           dep.Name,
		Status:         result.Status,
		Message:        result.Message,
		Timestamp:      core.UnixMillis(r.clock.Now()),
		ResponseTimeMs: elapsed.Milliseconds(),
		Details:        result.Details,
	}

	r.mu.Lock()
	r.records[dep.Name] = check
	raiser := r.raiser
	rec := r.rec
	r.mu.Unlock()

	r.metrics.RecordHealthStatus(ctx, dep.Name, statusCode(result.Status))
	if rec != nil {
		rec.Record("health."+dep.Name+".response_time", float64(check.ResponseTimeMs), "ms", map[string]string{"dependency": dep.Name})
	}

	if result.Status == StatusUnhealthy {
		r.logger.Warn("health.check.unhealthy",
			slog.String("dependency", dep.Name),
			slog.String("message", result.Message),
			slog.Duration("elapsed", elapsed))
		if raiser != nil {
			severity := alerting.SeverityHigh
			if dep.Type == "database" {
				severity = alerting.SeverityCritical
			}
			raiser.CreateAlert("health", severity,
				fmt.Sprintf("Health check failed: %s", dep.Name),
				result.Message, "health-check",
				map[string]interface{}{
					"dependency":     dep.Name,
					"dependencyType": dep.Type,
					"responseTimeMs": check.ResponseTimeMs,
				})
		}
	} else {
		r.logger.Debug("health.check.done",
			slog.String("dependency", dep.Name),
			slog.String("status", string(result.Status)),
			slog.Duration("elapsed", elapsed))
	}
	return check
}

// probe runs one checker with its timeout, converting a timeout or panic
// into an unhealthy result.
func (r *Runner) probe(ctx context.Context, dep Dependency, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan Result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				resultCh <- Result{Status: StatusUnhealthy, Message: fmt.Sprintf("probe panic: %v", rec)}
			}
		}()
		resultCh <- dep.Checker.Check(ctx)
	}()

	select {
	case res := <-resultCh:
		return res
	case <-ctx.Done():
		return Result{Status: StatusUnhealthy, Message: fmt.Sprintf("probe timed out after %s", timeout)}
	}
}

// Get returns the current record for one dependency.
func (r *Runner) Get(name string) (Check, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.records[name]
	return c, ok
}

// Status reports the current status string for a dependency. It
// satisfies the rule engine's health source.
func (r *Runner) Status(name string) (string, bool) {
	c, ok := r.Get(name)
	if !ok {
		return "", false
	}
	return string(c.Status), true
}

// Snapshot returns the current records sorted by name.
func (r *Runner) Snapshot() []Check {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Check, 0, len(r.records))
	for _, c := range r.records {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Summarize counts current records by status.
func (r *Runner) Summarize() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Summary{Total: len(r.records)}
	for _, c := range r.records {
		switch c.Status {
		case StatusHealthy:
			s.Healthy++
		case StatusDegraded:
			s.Degraded++
		default:
			s.Unhealthy++
		}
	}
	return s
}

// Overall reduces all current records to a single status: unhealthy if
// any record is unhealthy, degraded if any is degraded, healthy
// otherwise.
func (r *Runner) Overall() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	overall := StatusHealthy
	for _, c := range r.records {
		switch c.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

func statusCode(s Status) int64 {
	switch s {
	case StatusHealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}
