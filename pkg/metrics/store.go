// SPDX-License-Identifier: Apache-2.0
// Package metrics provides the append-only, bounded-history metric store
// and the built-in threshold evaluation that feeds the alert engine.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ishan-parihar/ai-town-sub000/pkg/alerting"
	"github.com/ishan-parihar/ai-town-sub000/pkg/core"
	"github.com/ishan-parihar/ai-town-sub000/pkg/telemetry"
)

const defaultHistoryLimit = 1000

// Sample is a single recorded observation. Samples are immutable once
// recorded.
type Sample struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit,omitempty"`
	Timestamp core.UnixMillis   `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Threshold holds the warning and critical bounds for one metric.
type Threshold struct {
	Warning  float64 `koanf:"warning" json:"warning"`
	Critical float64 `koanf:"critical" json:"critical"`
}

// DefaultThresholds is the built-in threshold table evaluated inline on
// every Record call, independent of user-defined alert rules.
func DefaultThresholds() map[string]Threshold {
	return map[string]Threshold{
		"system.cpu.usage":    {Warning: 70, Critical: 90},
		"system.memory.usage": {Warning: 80, Critical: 95},
		"system.disk.usage":   {Warning: 85, Critical: 95},
		"api.response.time":   {Warning: 1000, Critical: 5000},
		"db.query.time":       {Warning: 500, Critical: 2000},
	}
}

// StoreConfig configures the metric store.
type StoreConfig struct {
	// HistoryLimit caps the per-name history; oldest samples are evicted
	// first. Defaults to 1000.
	HistoryLimit int

	// Thresholds overrides the built-in threshold table when non-nil.
	Thresholds map[string]Threshold

	// Clock supplies timestamps; defaults to the wall clock.
	Clock core.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics optionally mirrors recorded samples to OTEL.
	Metrics *telemetry.CoreMetrics
}

// Store keeps a bounded, time-ordered history per metric name. Writes are
// serialized by a single mutex; the record path never awaits I/O, it only
// appends and hands breaching values to the alert sink.
type Store struct {
	mu     sync.Mutex
	series map[string][]Sample

	limit      int
	thresholds map[string]Threshold
	clock      core.Clock
	logger     *slog.Logger
	metrics    *telemetry.CoreMetrics

	raiser   alerting.Raiser
	onRecord func()
}

// NewStore creates a metric store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.Clock == nil {
		cfg.Clock = core.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		series:     make(map[string][]Sample),
		limit:      cfg.HistoryLimit,
		thresholds: cfg.Thresholds,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// SetRaiser wires the shared alert-creation gateway for threshold breaches.
func (s *Store) SetRaiser(r alerting.Raiser) { s.raiser = r }

// SetRecordHook registers a callback invoked after every Record, outside
// the store mutex. The alert engine's rule check is wired here.
func (s *Store) SetRecordHook(hook func()) { s.onRecord = hook }

// Record appends a timestamped sample for name, trimming history to the
// cap, then evaluates the built-in thresholds for that metric.
func (s *Store) Record(name string, value float64, unit string, tags map[string]string) {
	sample := Sample{
		Name:      name,
		Value:     value,
		Unit:      unit,
		Timestamp: core.Millis(s.clock.Now()),
		Tags:      tags,
	}

	s.mu.Lock()
	history := append(s.series[name], sample)
	if len(history) > s.limit {
		history = history[len(history)-s.limit:]
	}
	s.series[name] = history
	s.mu.Unlock()

	s.metrics.RecordSample(context.Background(), name)
	s.checkThreshold(name, value, unit)
	if s.onRecord != nil {
		s.onRecord()
	}
}

// Latest returns the most recent value for name.
func (s *Store) Latest(name string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.series[name]
	if len(history) == 0 {
		return 0, false
	}
	return history[len(history)-1].Value, true
}

// LatestSample returns the most recent sample for name.
func (s *Store) LatestSample(name string) (Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.series[name]
	if len(history) == 0 {
		return Sample{}, false
	}
	return history[len(history)-1], true
}

// History returns up to limit samples for name, oldest first and
// most-recent-last. The returned slice is a snapshot taken at call time.
func (s *Store) History(name string, limit int) []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.series[name]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]Sample, len(history))
	copy(out, history)
	return out
}

// Names returns every metric name with at least one sample.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.series))
	for name := range s.series {
		names = append(names, name)
	}
	return names
}

// checkThreshold raises an immediate alert when value crosses the
// configured critical or warning bound for name. This path is always on
// and independent of user-defined rules; its only throttle is the natural
// recording frequency.
func (s *Store) checkThreshold(name string, value float64, unit string) {
	threshold, ok := s.thresholds[name]
	if !ok || s.raiser == nil {
		return
	}

	switch {
	case threshold.Critical > 0 && value >= threshold.Critical:
		s.raiser.CreateAlert("threshold", alerting.SeverityCritical,
			fmt.Sprintf("%s critical threshold exceeded", name),
			fmt.Sprintf("%s is %.2f%s (critical threshold %.2f)", name, value, unitSuffix(unit), threshold.Critical),
			"metrics",
			map[string]interface{}{"metric": name, "value": value, "threshold": threshold.Critical},
		)
	case threshold.Warning > 0 && value >= threshold.Warning:
		s.raiser.CreateAlert("threshold", alerting.SeverityWarning,
			fmt.Sprintf("%s warning threshold exceeded", name),
			fmt.Sprintf("%s is %.2f%s (warning threshold %.2f)", name, value, unitSuffix(unit), threshold.Warning),
			"metrics",
			map[string]interface{}{"metric": name, "value": value, "threshold": threshold.Warning},
		)
	}
}

func unitSuffix(unit string) string {
	if unit == "" {
		return ""
	}
	return " " + unit
}
