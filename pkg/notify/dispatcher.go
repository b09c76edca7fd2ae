// SPDX-License-Identifier: Apache-2.0
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ishan-parihar/ai-town-sub000/pkg/alerting"
	"github.com/ishan-parihar/ai-town-sub000/pkg/core"
	townerr "github.com/ishan-parihar/ai-town-sub000/pkg/errors"
	"github.com/ishan-parihar/ai-town-sub000/pkg/telemetry"
)

// EscalationLevel is one step of delayed re-notification.
type EscalationLevel struct {
	Level                int           `json:"level"`
	Delay                time.Duration `json:"-"`
	Channels             []string      `json:"channels"`
	AdditionalRecipients []string      `json:"additionalRecipients,omitempty"`
	Message              string        `json:"message,omitempty"`
}

// EscalationRule drives delayed re-notification of unresolved alerts.
type EscalationRule struct {
	ID     string            `json:"id"`
	Levels []EscalationLevel `json:"levels"`
}

// Resolver answers whether an alert has been resolved. Escalation
// entries for resolved alerts are dropped at delivery time.
type Resolver interface {
	IsResolved(alertID string) bool
}

// sendTimeout bounds a single channel delivery.
const sendTimeout = 10 * time.Second

type entry struct {
	alert      alerting.Alert
	channels   []string
	adhoc      []Channel
	dueAt      time.Time
	seq        uint64
	escalation bool
}

// DispatcherConfig configures a Dispatcher. Zero values get defaults.
type DispatcherConfig struct {
	// Interval between queue drains. Defaults to 1s.
	Interval time.Duration

	Clock   core.Clock
	Logger  *slog.Logger
	Metrics *telemetry.CoreMetrics
}

// Dispatcher queues alerts and delivers due entries to their channels.
// Delivery order is FIFO among entries sharing a dueAt; entries with
// later dueAt values may overtake earlier ones.
type Dispatcher struct {
	interval time.Duration
	clock    core.Clock
	logger   *slog.Logger
	metrics  *telemetry.CoreMetrics

	mu          sync.Mutex
	channels    map[string]Channel
	escalations map[string]EscalationRule
	queue       []entry
	nextSeq     uint64
	resolver    Resolver

	runMu  sync.Mutex
	cancel chan struct{}
	done   chan struct{}
}

// NewDispatcher builds a Dispatcher with no channels registered.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = core.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		interval:    cfg.Interval,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		channels:    make(map[string]Channel),
		escalations: make(map[string]EscalationRule),
	}
}

// RegisterChannel adds or replaces a channel by name.
func (d *Dispatcher) RegisterChannel(c Channel) {
	d.mu.Lock()
	d.channels[c.Name()] = c
	d.mu.Unlock()
	d.logger.Info("notify.channel.registered",
		slog.String("channel", c.Name()),
		slog.String("type", c.Type()),
		slog.Bool("enabled", c.Enabled()))
}

// ChannelNames lists registered channels sorted by name.
func (d *Dispatcher) ChannelNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.channels))
	for name := range d.channels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AddEscalationRule registers an escalation rule by id.
func (d *Dispatcher) AddEscalationRule(rule EscalationRule) {
	d.mu.Lock()
	d.escalations[rule.ID] = rule
	d.mu.Unlock()
}

// SetResolver wires the alert store used to drop escalations for
// already-resolved alerts.
func (d *Dispatcher) SetResolver(r Resolver) {
	d.mu.Lock()
	d.resolver = r
	d.mu.Unlock()
}

// DefaultChannels returns the default routing for a severity. Low
// severity routes nowhere.
func DefaultChannels(severity alerting.Severity) []string {
	switch severity {
	case alerting.SeverityCritical:
		return []string{"email", "slack", "webhook"}
	case alerting.SeverityHigh:
		return []string{"email", "slack"}
	case alerting.SeverityMedium, alerting.SeverityWarning:
		return []string{"slack"}
	default:
		return nil
	}
}

// Enqueue schedules delivery after delay. A nil channels slice selects
// defaults by severity; low-severity alerts with default routing are
// dropped without queuing.
func (d *Dispatcher) Enqueue(alert alerting.Alert, channels []string, delay time.Duration) {
	if channels == nil {
		channels = DefaultChannels(alert.Severity)
	}
	if len(channels) == 0 {
		d.logger.Debug("notify.enqueue.skipped",
			slog.String("alertId", alert.ID),
			slog.String("severity", string(alert.Severity)))
		return
	}
	d.push(entry{alert: alert, channels: channels, dueAt: d.clock.Now().Add(delay)})
}

// ScheduleEscalation enqueues one delayed entry per level of the named
// escalation rule. Unknown rule ids are logged and ignored.
func (d *Dispatcher) ScheduleEscalation(alert alerting.Alert, escalationID string) {
	d.mu.Lock()
	rule, ok := d.escalations[escalationID]
	d.mu.Unlock()
	if !ok {
		d.logger.Warn("notify.escalation.unknown_rule",
			slog.String("escalationId", escalationID),
			slog.String("alertId", alert.ID))
		return
	}
	now := d.clock.Now()
	for _, level := range rule.Levels {
		escalated := alert
		if level.Message != "" {
			escalated.Message = fmt.Sprintf("%s\n[escalation L%d] %s", alert.Message, level.Level, level.Message)
		}
		var adhoc []Channel
		for _, recipient := range level.AdditionalRecipients {
			adhoc = append(adhoc, d.adHocChannel(recipient))
		}
		d.push(entry{
			alert:      escalated,
			channels:   level.Channels,
			adhoc:      adhoc,
			dueAt:      now.Add(level.Delay),
			escalation: true,
		})
		d.logger.Info("notify.escalation.scheduled",
			slog.String("alertId", alert.ID),
			slog.String("escalationId", escalationID),
			slog.Int("level", level.Level),
			slog.Duration("delay", level.Delay))
	}
}

// adHocChannel builds a single-use channel for one escalation recipient:
// a clone of the registered email transport when one exists, a logged
// delivery otherwise.
func (d *Dispatcher) adHocChannel(recipient string) Channel {
	d.mu.Lock()
	base, ok := d.channels["email"]
	d.mu.Unlock()
	name := "adhoc:" + recipient
	if email, isEmail := base.(*EmailChannel); ok && isEmail {
		return email.withRecipients(name, []string{recipient})
	}
	return &logChannel{name: name, recipient: recipient, logger: d.logger}
}

func (d *Dispatcher) push(e entry) {
	d.mu.Lock()
	e.seq = d.nextSeq
	d.nextSeq++
	d.queue = append(d.queue, e)
	depth := len(d.queue)
	d.mu.Unlock()
	d.logger.Debug("notify.enqueued",
		slog.String("alertId", e.alert.ID),
		slog.Int("queueDepth", depth))
}

// QueueDepth reports pending entries. Exposed for the status surface.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Start launches the queue worker. Calling Start on a running
// dispatcher logs and returns.
func (d *Dispatcher) Start() {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.cancel != nil {
		d.logger.Warn("notify.dispatcher.already_running")
		return
	}
	cancel := make(chan struct{})
	done := make(chan struct{})
	d.cancel = cancel
	d.done = done

	// The ticker must exist before Start returns so its first deadline
	// is registered against the current clock time.
	ticker := d.clock.NewTicker(d.interval)
	d.logger.Info("notify.dispatcher.start", slog.Duration("interval", d.interval))
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-cancel:
				return
			case <-ticker.C():
				d.Drain(context.Background())
			}
		}
	}()
}

// Stop halts the worker and waits for it to exit. Entries still queued
// stay queued. Safe to call when not running.
func (d *Dispatcher) Stop() {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.cancel == nil {
		return
	}
	close(d.cancel)
	<-d.done
	d.cancel = nil
	d.done = nil
	d.logger.Info("notify.dispatcher.stop")
}

// Drain delivers every entry whose dueAt has passed. Exported so tests
// and manual flushes can drive the queue without the worker.
func (d *Dispatcher) Drain(ctx context.Context) {
	now := d.clock.Now()

	d.mu.Lock()
	var due, pending []entry
	for _, e := range d.queue {
		if !e.dueAt.After(now) {
			due = append(due, e)
		} else {
			pending = append(pending, e)
		}
	}
	d.queue = pending
	resolver := d.resolver
	d.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].dueAt.Equal(due[j].dueAt) {
			return due[i].seq < due[j].seq
		}
		return due[i].dueAt.Before(due[j].dueAt)
	})

	for _, e := range due {
		if e.escalation && resolver != nil && resolver.IsResolved(e.alert.ID) {
			d.logger.Debug("notify.escalation.dropped_resolved",
				slog.String("alertId", e.alert.ID))
			continue
		}
		d.deliver(ctx, e)
	}
}

// deliver fans one entry out to all its channels concurrently. A
// failing channel is logged and never raises a secondary alert.
func (d *Dispatcher) deliver(ctx context.Context, e entry) {
	var wg sync.WaitGroup
	for _, name := range e.channels {
		d.mu.Lock()
		ch, ok := d.channels[name]
		d.mu.Unlock()
		if !ok {
			d.logger.Warn("notify.channel.unknown",
				slog.String("channel", name),
				slog.String("alertId", e.alert.ID))
			d.metrics.RecordNotification(ctx, name, false)
			continue
		}
		if !ch.Enabled() {
			d.logger.Warn("notify.channel.disabled",
				slog.String("channel", name),
				slog.String("alertId", e.alert.ID))
			d.metrics.RecordNotification(ctx, name, false)
			continue
		}
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			d.sendOne(ctx, ch, e.alert)
		}(ch)
	}
	for _, ch := range e.adhoc {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			d.sendOne(ctx, ch, e.alert)
		}(ch)
	}
	wg.Wait()
}

func (d *Dispatcher) sendOne(ctx context.Context, ch Channel, alert alerting.Alert) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := ch.Send(ctx, alert); err != nil {
		d.logger.Error("notify.send.failed",
			slog.String("channel", ch.Name()),
			slog.String("alertId", alert.ID),
			slog.String("error", err.Error()))
		d.metrics.RecordNotification(ctx, ch.Name(), false)
		return
	}
	d.logger.Info("notify.send.ok",
		slog.String("channel", ch.Name()),
		slog.String("alertId", alert.ID),
		slog.String("severity", string(alert.Severity)))
	d.metrics.RecordNotification(ctx, ch.Name(), true)
}

// TestChannel sends a synthetic low-severity alert directly to the named
// channel, bypassing routing and the queue.
func (d *Dispatcher) TestChannel(ctx context.Context, name string) error {
	d.mu.Lock()
	ch, ok := d.channels[name]
	d.mu.Unlock()
	if !ok {
		return townerr.New(townerr.CodeNotFound, fmt.Sprintf("channel %q is not registered", name), nil)
	}
	if !ch.Enabled() {
		return townerr.New(townerr.CodeInvalidInput, fmt.Sprintf("channel %q is disabled", name), nil)
	}
	test := alerting.Alert{
		ID:        "test-" + name,
		Type:      "test",
		Severity:  alerting.SeverityLow,
		Title:     "Test notification",
		Message:   fmt.Sprintf("This is a test notification for channel %q.", name),
		Source:    "notification-test",
		Timestamp: core.UnixMillis(d.clock.Now()),
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return ch.Send(ctx, test)
}
