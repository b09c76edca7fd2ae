// SPDX-License-Identifier: Apache-2.0

package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ishan-parihar/ai-town-sub000/pkg/core"
	"github.com/ishan-parihar/ai-town-sub000/pkg/errors"
)

// Operator compares a resolved metric or health value against a condition
// value.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpContains     Operator = "contains"
	OpRegex        Operator = "regex"
)

// Condition is a single comparison inside a rule. Metric names are
// resolved against the metric store first and the health runner second,
// so `db` matches the current health status of the `db` dependency when
// no metric of that name exists.
type Condition struct {
	Metric   string      `json:"metric"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
	Severity Severity    `json:"severity"`
}

// ActionType enumerates the side effects a triggered rule can run.
type ActionType string

const (
	ActionNotification ActionType = "notification"
	ActionWebhook      ActionType = "webhook"
	ActionAutomation   ActionType = "automation"
	ActionEscalation   ActionType = "escalation"
)

// Action is one side effect configured on a rule.
type Action struct {
	Type ActionType `json:"type"`

	// Channels names notification channels for ActionNotification.
	Channels []string `json:"channels,omitempty"`

	// Hook names a registered automation for ActionAutomation.
	Hook string `json:"hook,omitempty"`

	// EscalationID names an escalation rule for ActionEscalation.
	EscalationID string `json:"escalationId,omitempty"`
}

// AutomationHook is a named side-effecting hook invoked by automation
// actions.
type AutomationHook func(ctx context.Context, alert Alert) error

// Rule is a declarative condition set with actions and a cooldown that
// prevents notification storms.
type Rule struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Conditions []Condition   `json:"conditions"`
	Actions    []Action      `json:"actions"`
	Cooldown   time.Duration `json:"-"`
	Enabled    bool          `json:"enabled"`
}

// RuleStatus is a read-only view of a rule's mutable counters.
type RuleStatus struct {
	Rule            Rule            `json:"rule"`
	CooldownMS      int64           `json:"cooldownMs"`
	LastTriggeredAt core.UnixMillis `json:"lastTriggeredAt"`
	TriggerCount    int64           `json:"triggerCount"`
}

// boundRule pairs the immutable rule definition with its counters. The
// counters are only ever written by the engine, under the engine mutex.
type boundRule struct {
	rule          Rule
	lastTriggered time.Time
	triggerCount  int64
}

// AddRule registers a rule, assigning an id when absent. Returns the id.
func (e *Engine) AddRule(rule Rule) string {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	e.mu.Lock()
	if !e.ruleseen[rule.ID] {
		e.rules = append(e.rules, &boundRule{rule: rule})
		e.ruleseen[rule.ID] = true
	}
	e.mu.Unlock()
	return rule.ID
}

// RemoveRule deletes a rule by id.
func (e *Engine) RemoveRule(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, br := range e.rules {
		if br.rule.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			delete(e.ruleseen, id)
			return
		}
	}
}

// RegisterAutomation registers a named automation hook for rules to invoke.
func (e *Engine) RegisterAutomation(name string, hook AutomationHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks[name] = hook
}

// Rules returns a snapshot of rule definitions and counters.
func (e *Engine) Rules() []RuleStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]RuleStatus, 0, len(e.rules))
	for _, br := range e.rules {
		out = append(out, RuleStatus{
			Rule:            br.rule,
			CooldownMS:      br.rule.Cooldown.Milliseconds(),
			LastTriggeredAt: core.Millis(br.lastTriggered),
			TriggerCount:    br.triggerCount,
		})
	}
	return out
}

// CheckRules evaluates every enabled rule outside its cooldown window
// against the current metric and health state. A failure evaluating one
// rule never blocks the others. The cooldown check-and-set happens under
// the engine mutex, so a rule cannot fire twice within its cooldown even
// under concurrent invocations.
func (e *Engine) CheckRules(ctx context.Context) {
	// Claim triggerable rules first, then run side effects unlocked.
	now := e.clock.Now()
	type firing struct {
		rule     Rule
		severity Severity
	}
	var toFire []firing

	e.mu.Lock()
	candidates := make([]*boundRule, len(e.rules))
	copy(candidates, e.rules)
	e.mu.Unlock()

	for _, br := range candidates {
		rule := br.rule
		if !rule.Enabled {
			continue
		}

		matched, severity, err := e.evaluateConditions(rule)
		if err != nil {
			e.logger.Warn("alert.rule.skipped",
				slog.String("rule_id", rule.ID),
				slog.String("rule", rule.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !matched {
			continue
		}

		// Atomic cooldown check-and-set.
		e.mu.Lock()
		if rule.Cooldown > 0 && !br.lastTriggered.IsZero() && now.Sub(br.lastTriggered) < rule.Cooldown {
			e.mu.Unlock()
			continue
		}
		br.lastTriggered = now
		br.triggerCount++
		e.mu.Unlock()

		toFire = append(toFire, firing{rule: rule, severity: severity})
	}

	for _, f := range toFire {
		e.fireRule(ctx, f.rule, f.severity)
	}
}

// evaluateConditions returns whether any condition matches and the max
// severity across matching conditions.
func (e *Engine) evaluateConditions(rule Rule) (bool, Severity, error) {
	matched := false
	severity := Severity("")
	for _, cond := range rule.Conditions {
		ok, err := e.evaluateCondition(cond)
		if err != nil {
			return false, "", err
		}
		if ok {
			if !matched {
				severity = cond.Severity
			} else {
				severity = maxSeverity(severity, cond.Severity)
			}
			matched = true
		}
	}
	return matched, severity, nil
}

func (e *Engine) evaluateCondition(cond Condition) (bool, error) {
	if cond.Metric == "" {
		return false, errors.New(errors.CodeRuleCondition, "condition has no metric", nil)
	}

	if e.msource != nil {
		if value, ok := e.msource.Latest(cond.Metric); ok {
			return compareNumericOrText(value, cond)
		}
	}
	if e.hsource != nil {
		if status, ok := e.hsource.Status(cond.Metric); ok {
			return compareText(status, cond)
		}
	}
	return false, errors.New(errors.CodeRuleCondition, "metric not found", nil).
		WithContext("metric", cond.Metric)
}

func (e *Engine) fireRule(ctx context.Context, rule Rule, severity Severity) {
	alert := e.newAlert("rule", severity,
		fmt.Sprintf("Alert rule triggered: %s", rule.Name),
		fmt.Sprintf("rule %s matched its conditions", rule.Name),
		"alert-rule",
		map[string]interface{}{"ruleId": rule.ID, "ruleName": rule.Name},
	)

	for _, action := range rule.Actions {
		e.runAction(ctx, rule, action, alert)
	}
}

func (e *Engine) runAction(ctx context.Context, rule Rule, action Action, alert Alert) {
	switch action.Type {
	case ActionNotification:
		if e.notifier != nil {
			e.notifier.Enqueue(alert, action.Channels, 0)
		}
	case ActionWebhook:
		if e.notifier != nil {
			e.notifier.Enqueue(alert, []string{"webhook"}, 0)
		}
	case ActionAutomation:
		e.mu.Lock()
		hook := e.hooks[action.Hook]
		e.mu.Unlock()
		if hook == nil {
			e.logger.Info("alert.automation.intent",
				slog.String("rule", rule.Name),
				slog.String("hook", action.Hook),
				slog.String("alert_id", alert.ID),
			)
			return
		}
		if err := hook(ctx, alert); err != nil {
			e.logger.Warn("alert.automation.failed",
				slog.String("hook", action.Hook),
				slog.String("error", err.Error()),
			)
		}
	case ActionEscalation:
		if e.notifier != nil {
			e.notifier.ScheduleEscalation(alert, action.EscalationID)
		}
	default:
		e.logger.Warn("alert.action.unknown",
			slog.String("rule", rule.Name),
			slog.String("type", string(action.Type)),
		)
	}
}

// compareNumericOrText applies the condition operator to a numeric metric
// value. contains and regex compare against the formatted value.
func compareNumericOrText(value float64, cond Condition) (bool, error) {
	switch cond.Operator {
	case OpContains, OpRegex:
		return compareText(strconv.FormatFloat(value, 'f', -1, 64), cond)
	}

	want, err := toFloat(cond.Value)
	if err != nil {
		return false, errors.New(errors.CodeRuleCondition, "condition value is not numeric", err).
			WithContext("metric", cond.Metric)
	}
	switch cond.Operator {
	case OpGreater:
		return value > want, nil
	case OpLess:
		return value < want, nil
	case OpGreaterEqual:
		return value >= want, nil
	case OpLessEqual:
		return value <= want, nil
	case OpEqual:
		return value == want, nil
	case OpNotEqual:
		return value != want, nil
	default:
		return false, errors.New(errors.CodeRuleCondition, "unknown operator", nil).
			WithContext("operator", string(cond.Operator))
	}
}

// compareText applies the condition operator to a string value such as a
// health status. Ordering operators are rejected as malformed.
func compareText(value string, cond Condition) (bool, error) {
	want := fmt.Sprint(cond.Value)
	switch cond.Operator {
	case OpEqual:
		return value == want, nil
	case OpNotEqual:
		return value != want, nil
	case OpContains:
		return strings.Contains(value, want), nil
	case OpRegex:
		re, err := regexp.Compile(want)
		if err != nil {
			return false, errors.New(errors.CodeRuleCondition, "invalid regex", err).
				WithContext("pattern", want)
		}
		return re.MatchString(value), nil
	default:
		return false, errors.New(errors.CodeRuleCondition, "operator not applicable to text value", nil).
			WithContext("operator", string(cond.Operator)).
			WithContext("metric", cond.Metric)
	}
}

func toFloat(v interface{}) (float64, error) {
	switch value := v.(type) {
	case float64:
		return value, nil
	case float32:
		return float64(value), nil
	case int:
		return float64(value), nil
	case int64:
		return float64(value), nil
	case string:
		return strconv.ParseFloat(value, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float", v)
	}
}
