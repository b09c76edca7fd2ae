// SPDX-License-Identifier: Apache-2.0
package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "townmon.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8090" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Fatalf("log = %+v", cfg.Log)
	}
	if cfg.Metrics.HistoryLimit != 1000 {
		t.Fatalf("history limit = %d", cfg.Metrics.HistoryLimit)
	}
	if cfg.Health.Interval != 30*time.Second {
		t.Fatalf("health interval = %s", cfg.Health.Interval)
	}
	if cfg.Resilience.FailureThreshold != 5 || cfg.Resilience.BaseDelay != 100*time.Millisecond {
		t.Fatalf("resilience = %+v", cfg.Resilience)
	}
	if _, ok := cfg.Metrics.Thresholds["system.cpu.usage"]; !ok {
		t.Fatal("built-in thresholds missing")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
  environment: production
log:
  level: debug
  format: json
metrics:
  history_limit: 50
  thresholds:
    api.response.time:
      warning: 500
      critical: 2000
notify:
  interval: 2s
  slack:
    enabled: true
    webhook_url: https://hooks.example.com/T000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9000" || cfg.Server.Environment != "production" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("log = %+v", cfg.Log)
	}
	if cfg.Metrics.HistoryLimit != 50 {
		t.Fatalf("history limit = %d", cfg.Metrics.HistoryLimit)
	}
	th, ok := cfg.Metrics.Thresholds["api.response.time"]
	if !ok || th.Warning != 500 || th.Critical != 2000 {
		t.Fatalf("threshold = %+v ok=%v", th, ok)
	}
	if cfg.Notify.Interval != 2*time.Second || !cfg.Notify.Slack.Enabled {
		t.Fatalf("notify = %+v", cfg.Notify)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\n")
	t.Setenv("TOWN_LOG_LEVEL", "error")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Fatalf("level = %q, env should win", cfg.Log.Level)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")

	w, err := NewWatcher(path, WithWatchInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if w.Config().Log.Level != "info" {
		t.Fatalf("initial level = %q", w.Config().Log.Level)
	}

	var mu sync.Mutex
	var seen []string
	w.OnChange(func(cfg *Config) {
		mu.Lock()
		seen = append(seen, cfg.Log.Level)
		mu.Unlock()
	})
	w.Start(t.Context())
	defer w.Stop()

	// mtime granularity can be a full second on some filesystems.
	future := time.Now().Add(2 * time.Second)
	if err := os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher never reloaded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if w.Config().Log.Level != "warn" {
		t.Fatalf("level after reload = %q", w.Config().Log.Level)
	}
}
