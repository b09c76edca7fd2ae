// SPDX-License-Identifier: Apache-2.0
// Package monitor assembles the observability core: one constructed
// object owns the metric store, health runner, alert engine,
// notification dispatcher, error store, breaker registry and log store,
// and wires them together. No singletons; tests build fresh instances.
package monitor

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ishan-parihar/ai-town-sub000/pkg/alerting"
	"github.com/ishan-parihar/ai-town-sub000/pkg/api"
	"github.com/ishan-parihar/ai-town-sub000/pkg/config"
	"github.com/ishan-parihar/ai-town-sub000/pkg/core"
	"github.com/ishan-parihar/ai-town-sub000/pkg/errorreport"
	"github.com/ishan-parihar/ai-town-sub000/pkg/health"
	"github.com/ishan-parihar/ai-town-sub000/pkg/logstore"
	"github.com/ishan-parihar/ai-town-sub000/pkg/metrics"
	"github.com/ishan-parihar/ai-town-sub000/pkg/notify"
	"github.com/ishan-parihar/ai-town-sub000/pkg/resilience"
	"github.com/ishan-parihar/ai-town-sub000/pkg/telemetry"
)

// Monitor is the assembled observability core.
type Monitor struct {
	Metrics   *metrics.Store
	Collector *metrics.Collector
	Health    *health.Runner
	Alerts    *alerting.Engine
	Notify    *notify.Dispatcher
	Errors    *errorreport.Store
	Logs      *logstore.Store
	Breakers  *resilience.Registry

	logger *slog.Logger
}

// Options tailors construction beyond the file config.
type Options struct {
	Clock   core.Clock
	Logger  *slog.Logger
	Metrics *telemetry.CoreMetrics

	// Logs reuses an already-open log store, typically the one backing
	// the process log handler. When nil, a fresh store is opened.
	Logs *logstore.Store
}

// New builds and wires a Monitor from cfg. Nothing is started; call
// Start once construction-time registration (probes, channels, rules)
// is done.
func New(cfg *config.Config, opts Options) (*Monitor, error) {
	if opts.Clock == nil {
		opts.Clock = core.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	logs := opts.Logs
	if logs == nil {
		var err error
		logs, err = logstore.Open(cfg.Logs.MaxRows)
		if err != nil {
			return nil, err
		}
	}

	engine := alerting.NewEngine(alerting.EngineConfig{
		MaxAlerts: cfg.Alerts.MaxAlerts,
		Clock:     opts.Clock,
		Logger:    opts.Logger,
		Metrics:   opts.Metrics,
	})

	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Interval: cfg.Notify.Interval,
		Clock:    opts.Clock,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
	})
	dispatcher.SetResolver(engine)
	engine.SetNotifier(dispatcher)

	store := metrics.NewStore(metrics.StoreConfig{
		HistoryLimit: cfg.Metrics.HistoryLimit,
		Thresholds:   cfg.Metrics.Thresholds,
		Clock:        opts.Clock,
		Logger:       opts.Logger,
		Metrics:      opts.Metrics,
	})
	store.SetRaiser(engine)
	engine.SetMetricSource(store)

	// Every metric write re-evaluates the user-defined rules; the hook
	// runs outside the store lock.
	store.SetRecordHook(func() {
		engine.CheckRules(context.Background())
	})

	collector := metrics.NewCollector(store, cfg.Metrics.CollectInterval, opts.Clock, opts.Logger)

	runner := health.NewRunner(health.RunnerConfig{
		Interval:       cfg.Health.Interval,
		DefaultTimeout: cfg.Health.DefaultTimeout,
		Clock:          opts.Clock,
		Logger:         opts.Logger,
		Metrics:        opts.Metrics,
	})
	runner.SetRaiser(engine)
	runner.SetRecorder(store)
	engine.SetHealthSource(runner)

	reports := errorreport.NewStore(errorreport.StoreConfig{
		MaxReports: cfg.Errors.MaxReports,
		Clock:      opts.Clock,
		Logger:     opts.Logger,
		Metrics:    opts.Metrics,
	})
	reports.SetRaiser(engine)

	breakers := resilience.NewRegistry(resilience.RegistryConfig{
		DefaultFailureThreshold: cfg.Resilience.FailureThreshold,
		DefaultResetTimeout:     cfg.Resilience.ResetTimeout,
		Clock:                   opts.Clock,
		Logger:                  opts.Logger,
		Metrics:                 opts.Metrics,
		Raiser:                  engine,
	})

	m := &Monitor{
		Metrics:   store,
		Collector: collector,
		Health:    runner,
		Alerts:    engine,
		Notify:    dispatcher,
		Errors:    reports,
		Logs:      logs,
		Breakers:  breakers,
		logger:    opts.Logger,
	}
	m.registerChannels(cfg)

	if cfg.Alerts.RulesFile != "" {
		rules, err := alerting.LoadRulesFile(cfg.Alerts.RulesFile)
		if err != nil {
			return nil, err
		}
		for _, rule := range rules {
			engine.AddRule(rule)
		}
		opts.Logger.Info("monitor.rules.loaded",
			slog.String("path", cfg.Alerts.RulesFile),
			slog.Int("count", len(rules)))
	}
	return m, nil
}

// registerChannels builds notification channels from config. Channels
// left unconfigured are registered disabled so routing to them fails
// closed instead of "unknown channel".
func (m *Monitor) registerChannels(cfg *config.Config) {
	m.Notify.RegisterChannel(&notify.EmailChannel{
		Host:       cfg.Notify.Email.Host,
		Port:       cfg.Notify.Email.Port,
		From:       cfg.Notify.Email.From,
		Recipients: cfg.Notify.Email.Recipients,
		Username:   cfg.Notify.Email.Username,
		Password:   cfg.Notify.Email.Password,
		Disabled:   !cfg.Notify.Email.Enabled,
	})
	m.Notify.RegisterChannel(&notify.SlackChannel{
		WebhookURL: cfg.Notify.Slack.WebhookURL,
		SlackChan:  cfg.Notify.Slack.Channel,
		Disabled:   !cfg.Notify.Slack.Enabled,
	})
	m.Notify.RegisterChannel(&notify.WebhookChannel{
		URL:      cfg.Notify.Webhook.URL,
		Headers:  cfg.Notify.Webhook.Headers,
		Disabled: !cfg.Notify.Webhook.Enabled,
	})
	m.Notify.RegisterChannel(&notify.SMSChannel{
		Numbers:  cfg.Notify.SMS.Numbers,
		Disabled: !cfg.Notify.SMS.Enabled,
		Logger:   m.logger,
	})
}

// Start launches the periodic loops: health probes, the runtime metric
// collector and the notification queue worker.
func (m *Monitor) Start() {
	m.logger.Info("monitor.start")
	m.Notify.Start()
	m.Health.Start()
	m.Collector.Start()
}

// Stop halts the loops in reverse order and closes the log store.
func (m *Monitor) Stop() {
	m.Collector.Stop()
	m.Health.Stop()
	m.Notify.Stop()
	if err := m.Logs.Close(); err != nil {
		m.logger.Warn("monitor.logstore.close", slog.String("error", err.Error()))
	}
	m.logger.Info("monitor.stop")
}

// Handler returns the HTTP boundary for this monitor.
func (m *Monitor) Handler(production bool) http.Handler {
	return &api.Server{
		Metrics:    m.Metrics,
		Health:     m.Health,
		Alerts:     m.Alerts,
		Notify:     m.Notify,
		Errors:     m.Errors,
		Logs:       m.Logs,
		Breakers:   m.Breakers,
		Production: production,
		Logger:     m.logger,
	}
}
