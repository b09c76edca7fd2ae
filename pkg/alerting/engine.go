// SPDX-License-Identifier: Apache-2.0

package alerting

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ishan-parihar/ai-town-sub000/pkg/core"
	"github.com/ishan-parihar/ai-town-sub000/pkg/errors"
	"github.com/ishan-parihar/ai-town-sub000/pkg/telemetry"
)

const defaultMaxAlerts = 500

// EngineConfig configures the alert engine.
type EngineConfig struct {
	// MaxAlerts bounds alert retention; oldest alerts are evicted first.
	MaxAlerts int

	// Clock supplies time; defaults to the wall clock.
	Clock core.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics optionally exports engine activity as OTEL instruments.
	Metrics *telemetry.CoreMetrics
}

// Engine owns alert creation, retention, resolution, and rule evaluation.
// All mutation happens under a single mutex so concurrent producers
// (metric recorders, health probes, error reports) never lose updates.
type Engine struct {
	mu       sync.Mutex
	alerts   []*Alert
	byID     map[string]*Alert
	rules    []*boundRule
	ruleseen map[string]bool
	hooks    map[string]AutomationHook

	maxAlerts int
	clock     core.Clock
	logger    *slog.Logger
	metrics   *telemetry.CoreMetrics

	notifier Notifier
	msource  MetricSource
	hsource  HealthSource
}

// NewEngine creates an alert engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.MaxAlerts <= 0 {
		cfg.MaxAlerts = defaultMaxAlerts
	}
	if cfg.Clock == nil {
		cfg.Clock = core.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		byID:      make(map[string]*Alert),
		ruleseen:  make(map[string]bool),
		hooks:     make(map[string]AutomationHook),
		maxAlerts: cfg.MaxAlerts,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// SetNotifier wires the notification dispatcher. Called once during
// assembly, before any alert traffic.
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// SetMetricSource wires the metric store for rule evaluation.
func (e *Engine) SetMetricSource(s MetricSource) { e.msource = s }

// SetHealthSource wires the health runner for rule evaluation.
func (e *Engine) SetHealthSource(s HealthSource) { e.hsource = s }

// CreateAlert is the disciplined creation gateway shared by the rule
// engine, the health runner, the metric thresholds, and the error store.
// Every call mints a fresh id. Unless explicitly suppressed by the
// caller's path, the new alert is handed to the dispatcher with default
// severity routing.
func (e *Engine) CreateAlert(alertType string, severity Severity, title, message, source string, metadata map[string]interface{}) Alert {
	alert := e.newAlert(alertType, severity, title, message, source, metadata)
	if e.notifier != nil {
		e.notifier.Enqueue(alert, nil, 0)
	}
	return alert
}

// newAlert creates and stores an alert without enqueueing notifications.
// Rule actions decide their own routing.
func (e *Engine) newAlert(alertType string, severity Severity, title, message, source string, metadata map[string]interface{}) Alert {
	alert := &Alert{
		ID:        uuid.NewString(),
		Type:      alertType,
		Severity:  severity,
		Title:     title,
		Message:   message,
		Source:    source,
		Timestamp: core.Millis(e.clock.Now()),
		Metadata:  metadata,
	}

	e.mu.Lock()
	e.alerts = append(e.alerts, alert)
	e.byID[alert.ID] = alert
	if len(e.alerts) > e.maxAlerts {
		evicted := e.alerts[0]
		e.alerts = e.alerts[1:]
		delete(e.byID, evicted.ID)
	}
	snapshot := *alert
	e.mu.Unlock()

	e.logger.Info("alert.created",
		slog.String("alert_id", snapshot.ID),
		slog.String("severity", string(snapshot.Severity)),
		slog.String("source", snapshot.Source),
		slog.String("title", snapshot.Title),
	)
	e.metrics.RecordAlert(context.Background(), string(snapshot.Severity), snapshot.Source)
	return snapshot
}

// Resolve marks an alert resolved. Resolving an already-resolved alert is
// a no-op; an unknown id returns NOT_FOUND.
func (e *Engine) Resolve(id string) error {
	e.mu.Lock()
	alert, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return errors.New(errors.CodeNotFound, "alert not found", nil).WithContext("alert_id", id)
	}
	if alert.Resolved {
		e.mu.Unlock()
		return nil
	}
	alert.Resolved = true
	alert.ResolvedAt = core.Millis(e.clock.Now())
	e.mu.Unlock()

	e.logger.Info("alert.resolved", slog.String("alert_id", id))
	return nil
}

// IsResolved reports whether the alert exists and is resolved. Used by the
// dispatcher to drop stale escalations.
func (e *Engine) IsResolved(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	alert, ok := e.byID[id]
	return ok && alert.Resolved
}

// Get returns a copy of the alert with the given id.
func (e *Engine) Get(id string) (Alert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	alert, ok := e.byID[id]
	if !ok {
		return Alert{}, false
	}
	return *alert, true
}

// ListFilter narrows the alerts returned by List.
type ListFilter struct {
	// Resolved filters by resolution state when non-nil.
	Resolved *bool

	// Severity filters by exact severity when non-empty.
	Severity Severity

	// Limit caps the number of alerts returned; 0 means no cap.
	// The newest alerts are returned first.
	Limit int
}

// List returns matching alerts, newest first.
func (e *Engine) List(filter ListFilter) []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Alert, 0, len(e.alerts))
	for i := len(e.alerts) - 1; i >= 0; i-- {
		alert := e.alerts[i]
		if filter.Resolved != nil && alert.Resolved != *filter.Resolved {
			continue
		}
		if filter.Severity != "" && alert.Severity != filter.Severity {
			continue
		}
		out = append(out, *alert)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Count returns the total number of retained alerts.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.alerts)
}

// Stats summarizes the retained alerts.
func (e *Engine) Stats() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Statistics{BySeverity: make(map[Severity]int)}
	for _, alert := range e.alerts {
		stats.Total++
		if alert.Resolved {
			stats.Resolved++
		} else {
			stats.Active++
		}
		stats.BySeverity[alert.Severity]++
	}
	return stats
}
