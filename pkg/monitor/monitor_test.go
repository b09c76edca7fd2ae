// SPDX-License-Identifier: Apache-2.0
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ishan-parihar/ai-town-sub000/pkg/alerting"
	"github.com/ishan-parihar/ai-town-sub000/pkg/config"
	"github.com/ishan-parihar/ai-town-sub000/pkg/health"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	m, err := New(cfg, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.Logs.Close() })
	return m
}

func TestThresholdBreachFlowsToAlerts(t *testing.T) {
	m := newTestMonitor(t)

	m.Metrics.Record("system.memory.usage", 96, "%", nil)

	alerts := m.Alerts.List(alerting.ListFilter{})
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	if alerts[0].Severity != alerting.SeverityCritical {
		t.Fatalf("severity = %q", alerts[0].Severity)
	}

	m.Metrics.Record("system.memory.usage", 50, "%", nil)
	if got := m.Alerts.Count(); got != 1 {
		t.Fatalf("alerts after healthy sample = %d, want 1", got)
	}
}

func TestRuleEvaluationRunsOnRecord(t *testing.T) {
	m := newTestMonitor(t)
	m.Alerts.AddRule(alerting.Rule{
		ID:      "r1",
		Name:    "slow queries",
		Enabled: true,
		Conditions: []alerting.Condition{
			{Metric: "custom.queue.depth", Operator: alerting.OpGreater, Value: 100.0, Severity: alerting.SeverityHigh},
		},
		Actions: []alerting.Action{
			{Type: alerting.ActionNotification, Channels: []string{"slack"}},
		},
	})

	m.Metrics.Record("custom.queue.depth", 250, "", nil)

	alerts := m.Alerts.List(alerting.ListFilter{})
	if len(alerts) != 1 || alerts[0].Type != "rule" {
		t.Fatalf("alerts = %+v", alerts)
	}
}

func TestHealthFailureRaisesAlertThroughEngine(t *testing.T) {
	m := newTestMonitor(t)
	m.Health.Register(health.Dependency{Name: "db", Type: "database", Checker: health.CheckerFunc(func(ctx context.Context) health.Result {
		return health.Result{Status: health.StatusUnhealthy, Message: "down"}
	})})

	m.Health.RunAll(context.Background())

	alerts := m.Alerts.List(alerting.ListFilter{})
	if len(alerts) != 1 || alerts[0].Source != "health-check" || alerts[0].Severity != alerting.SeverityCritical {
		t.Fatalf("alerts = %+v", alerts)
	}
	// Probe response time lands in the metric store.
	if _, ok := m.Metrics.Latest("health.db.response_time"); !ok {
		t.Fatal("response time metric missing")
	}
}

func TestHandlerServesStatus(t *testing.T) {
	m := newTestMonitor(t)
	srv := httptest.NewServer(m.Handler(false))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["healthy"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	m := newTestMonitor(t)
	m.Start()
	time.Sleep(20 * time.Millisecond)
	m.Stop()
	// Stop is idempotent at the component level.
	m.Health.Stop()
	m.Notify.Stop()
}
