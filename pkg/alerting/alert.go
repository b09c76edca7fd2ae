// SPDX-License-Identifier: Apache-2.0
// Package alerting holds the alert model, the disciplined alert-creation
// gateway, and declarative rule evaluation with cooldown throttling.
package alerting

import (
	"time"

	"github.com/ishan-parihar/ai-town-sub000/pkg/core"
)

// Severity ranks how urgent an alert is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// rank orders severities for max-selection. warning and medium share a
// rank on purpose; the upstream rule semantics treat them as equal and
// callers depend on that.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium, SeverityWarning:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s ranks at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

// maxSeverity returns the higher-ranked of a and b. On equal rank the
// first argument wins, which keeps warning/medium interchangeable.
func maxSeverity(a, b Severity) Severity {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// ValidSeverity reports whether s is one of the known severities.
func ValidSeverity(s Severity) bool {
	return s.rank() > 0
}

// Alert is a discrete notification-worthy event. Alerts get a fresh id at
// creation and are never deduplicated by content; throttling happens at
// the rule level through cooldowns. Once resolved, the only mutation ever
// applied is ResolvedAt.
type Alert struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Severity   Severity               `json:"severity"`
	Title      string                 `json:"title"`
	Message    string                 `json:"message"`
	Source     string                 `json:"source"`
	Timestamp  core.UnixMillis        `json:"timestamp"`
	Resolved   bool                   `json:"resolved"`
	ResolvedAt core.UnixMillis        `json:"resolvedAt,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Statistics summarizes the alert store for the API surface.
type Statistics struct {
	Total      int              `json:"total"`
	Active     int              `json:"active"`
	Resolved   int              `json:"resolved"`
	BySeverity map[Severity]int `json:"bySeverity"`
}

// Raiser is the shared alert-creation entry point consumed by the health
// runner, the metric store, the error report store, and the circuit
// breaker registry.
type Raiser interface {
	CreateAlert(alertType string, severity Severity, title, message, source string, metadata map[string]interface{}) Alert
}

// Notifier receives qualifying alerts for delayed, severity-routed fan-out.
// Implemented by the notification dispatcher.
type Notifier interface {
	// Enqueue schedules delivery of alert to the named channels after
	// delay. A nil channels slice selects defaults by severity.
	Enqueue(alert Alert, channels []string, delay time.Duration)

	// ScheduleEscalation schedules delayed re-notification of an
	// unresolved alert per the named escalation rule.
	ScheduleEscalation(alert Alert, escalationID string)
}

// MetricSource resolves the latest value of a named metric.
type MetricSource interface {
	Latest(name string) (float64, bool)
}

// HealthSource resolves the current health status of a named dependency.
type HealthSource interface {
	Status(name string) (string, bool)
}
