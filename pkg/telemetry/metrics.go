// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CoreMetrics exports the state of the observability core as OTEL
// instruments so an external collector can watch the watcher. All methods
// are safe on a nil receiver; components hold an optional *CoreMetrics.
type CoreMetrics struct {
	// alertCounter tracks alerts raised by severity and source
	alertCounter metric.Int64Counter

	// notificationCounter tracks channel send outcomes
	notificationCounter metric.Int64Counter

	// errorReportCounter tracks deduplicated error reports by service
	errorReportCounter metric.Int64Counter

	// sampleCounter tracks metric samples recorded into the store
	sampleCounter metric.Int64Counter

	// healthStatusGauge tracks dependency health (0=unhealthy, 1=degraded, 2=healthy)
	healthStatusGauge metric.Int64Gauge

	// breakerStateGauge tracks circuit breaker state (0=open, 1=half-open, 2=closed)
	breakerStateGauge metric.Int64Gauge
}

// NewCoreMetrics creates the OTEL instrument set for the core.
func NewCoreMetrics(ctx context.Context) (*CoreMetrics, error) {
	meter := otel.Meter("town/monitoring")

	alertCounter, err := meter.Int64Counter(
		"town.alerts.total",
		metric.WithDescription("Alerts raised by severity and source"),
	)
	if err != nil {
		return nil, err
	}

	notificationCounter, err := meter.Int64Counter(
		"town.notifications.total",
		metric.WithDescription("Notification channel send outcomes"),
	)
	if err != nil {
		return nil, err
	}

	errorReportCounter, err := meter.Int64Counter(
		"town.error_reports.total",
		metric.WithDescription("Deduplicated error report occurrences by service"),
	)
	if err != nil {
		return nil, err
	}

	sampleCounter, err := meter.Int64Counter(
		"town.metric_samples.total",
		metric.WithDescription("Metric samples recorded into the store"),
	)
	if err != nil {
		return nil, err
	}

	healthStatusGauge, err := meter.Int64Gauge(
		"town.health.status",
		metric.WithDescription("Dependency health status (0=unhealthy, 1=degraded, 2=healthy)"),
	)
	if err != nil {
		return nil, err
	}

	breakerStateGauge, err := meter.Int64Gauge(
		"town.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per operation (0=open, 1=half-open, 2=closed)"),
	)
	if err != nil {
		return nil, err
	}

	return &CoreMetrics{
		alertCounter:        alertCounter,
		notificationCounter: notificationCounter,
		errorReportCounter:  errorReportCounter,
		sampleCounter:       sampleCounter,
		healthStatusGauge:   healthStatusGauge,
		breakerStateGauge:   breakerStateGauge,
	}, nil
}

// RecordAlert counts an alert raised by the creation gateway.
func (cm *CoreMetrics) RecordAlert(ctx context.Context, severity, source string) {
	if cm == nil {
		return
	}
	cm.alertCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("severity", severity),
			attribute.String("source", source),
		),
	)
}

// RecordNotification counts a channel send outcome.
func (cm *CoreMetrics) RecordNotification(ctx context.Context, channel string, success bool) {
	if cm == nil {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "failed"
	}
	cm.notificationCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("channel", channel),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordErrorReport counts an error report occurrence.
func (cm *CoreMetrics) RecordErrorReport(ctx context.Context, service, kind string) {
	if cm == nil {
		return
	}
	cm.errorReportCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("service", service),
			attribute.String("error.kind", kind),
		),
	)
}

// RecordSample counts a metric sample appended to the store.
func (cm *CoreMetrics) RecordSample(ctx context.Context, name string) {
	if cm == nil {
		return
	}
	cm.sampleCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("metric", name)),
	)
}

// RecordHealthStatus records dependency health (0=unhealthy, 1=degraded, 2=healthy).
func (cm *CoreMetrics) RecordHealthStatus(ctx context.Context, dependency string, status int64) {
	if cm == nil {
		return
	}
	cm.healthStatusGauge.Record(ctx, status,
		metric.WithAttributes(attribute.String("dependency", dependency)),
	)
}

// RecordBreakerState records circuit breaker state (0=open, 1=half-open, 2=closed).
func (cm *CoreMetrics) RecordBreakerState(ctx context.Context, name string, state int64) {
	if cm == nil {
		return
	}
	cm.breakerStateGauge.Record(ctx, state,
		metric.WithAttributes(attribute.String("breaker", name)),
	)
}
