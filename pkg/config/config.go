// SPDX-License-Identifier: Apache-2.0
// Package config loads townmon configuration from YAML files and
// TOWN_-prefixed environment variables, with sane defaults for every
// knob.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ishan-parihar/ai-town-sub000/pkg/metrics"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Log        LogConfig        `koanf:"log"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Health     HealthConfig     `koanf:"health"`
	Alerts     AlertsConfig     `koanf:"alerts"`
	Notify     NotifyConfig     `koanf:"notify"`
	Errors     ErrorsConfig     `koanf:"errors"`
	Logs       LogsConfig       `koanf:"logs"`
	Resilience ResilienceConfig `koanf:"resilience"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`

	// Environment is "development" or "production"; production hides
	// internal error detail from HTTP responses.
	Environment string `koanf:"environment"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	// Exporter selects trace/metric export: "stdout", "otlp" or "none".
	Exporter       string        `koanf:"exporter"`
	OTLPEndpoint   string        `koanf:"otlp_endpoint"`
	OTLPInsecure   bool          `koanf:"otlp_insecure"`
	ExportInterval time.Duration `koanf:"export_interval"`
}

type MetricsConfig struct {
	HistoryLimit    int                          `koanf:"history_limit"`
	CollectInterval time.Duration                `koanf:"collect_interval"`
	Thresholds      map[string]metrics.Threshold `koanf:"thresholds"`
}

type HealthConfig struct {
	Interval       time.Duration `koanf:"interval"`
	DefaultTimeout time.Duration `koanf:"default_timeout"`
}

type AlertsConfig struct {
	MaxAlerts int `koanf:"max_alerts"`

	// RulesFile optionally names a YAML file of alert rule definitions
	// loaded at startup.
	RulesFile string `koanf:"rules_file"`
}

type NotifyConfig struct {
	Interval time.Duration       `koanf:"interval"`
	Email    EmailChannelConfig  `koanf:"email"`
	Slack    SlackChannelConfig  `koanf:"slack"`
	Webhook  WebhookChannelConfig `koanf:"webhook"`
	SMS      SMSChannelConfig    `koanf:"sms"`
}

type EmailChannelConfig struct {
	Enabled    bool     `koanf:"enabled"`
	Host       string   `koanf:"host"`
	Port       int      `koanf:"port"`
	From       string   `koanf:"from"`
	Recipients []string `koanf:"recipients"`
	Username   string   `koanf:"username"`
	Password   string   `koanf:"password"`
}

type SlackChannelConfig struct {
	Enabled    bool   `koanf:"enabled"`
	WebhookURL string `koanf:"webhook_url"`
	Channel    string `koanf:"channel"`
}

type WebhookChannelConfig struct {
	Enabled bool              `koanf:"enabled"`
	URL     string            `koanf:"url"`
	Headers map[string]string `koanf:"headers"`
}

type SMSChannelConfig struct {
	Enabled bool     `koanf:"enabled"`
	Numbers []string `koanf:"numbers"`
}

type ErrorsConfig struct {
	MaxReports int `koanf:"max_reports"`
}

type LogsConfig struct {
	MaxRows int `koanf:"max_rows"`
}

type ResilienceConfig struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	ResetTimeout     time.Duration `koanf:"reset_timeout"`
	MaxRetries       int           `koanf:"max_retries"`
	BaseDelay        time.Duration `koanf:"base_delay"`
}

// Load reads configuration from path (optional) and the environment.
// Precedence: defaults < file < TOWN_ env (TOWN_LOG_LEVEL=debug sets
// log.level).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("server.addr", ":8090")
	k.Set("server.environment", "development")
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("telemetry.exporter", "stdout")
	k.Set("telemetry.export_interval", "60s")
	k.Set("metrics.history_limit", 1000)
	k.Set("metrics.collect_interval", "30s")
	k.Set("health.interval", "30s")
	k.Set("health.default_timeout", "5s")
	k.Set("alerts.max_alerts", 500)
	k.Set("notify.interval", "1s")
	k.Set("errors.max_reports", 500)
	k.Set("logs.max_rows", 10000)
	k.Set("resilience.failure_threshold", 5)
	k.Set("resilience.reset_timeout", "30s")
	k.Set("resilience.max_retries", 3)
	k.Set("resilience.base_delay", "100ms")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("TOWN_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "TOWN_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if cfg.Metrics.Thresholds == nil {
		cfg.Metrics.Thresholds = metrics.DefaultThresholds()
	}
	return &cfg, nil
}
