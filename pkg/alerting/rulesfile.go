// SPDX-License-Identifier: Apache-2.0

package alerting

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ishan-parihar/ai-town-sub000/pkg/errors"
)

// ruleDoc is the on-disk shape of a rules file. Cooldowns are duration
// strings ("30s", "5m"); enabled defaults to true when omitted.
type ruleDoc struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	ID         string          `yaml:"id"`
	Name       string          `yaml:"name"`
	Cooldown   string          `yaml:"cooldown"`
	Enabled    *bool           `yaml:"enabled"`
	Conditions []conditionSpec `yaml:"conditions"`
	Actions    []actionSpec    `yaml:"actions"`
}

type conditionSpec struct {
	Metric   string      `yaml:"metric"`
	Operator string      `yaml:"operator"`
	Value    interface{} `yaml:"value"`
	Severity string      `yaml:"severity"`
}

type actionSpec struct {
	Type         string   `yaml:"type"`
	Channels     []string `yaml:"channels"`
	Hook         string   `yaml:"hook"`
	EscalationID string   `yaml:"escalation_id"`
}

// LoadRulesFile parses a YAML rules file into rule definitions. The
// whole file is rejected on the first malformed rule so a typo cannot
// silently drop half the alerting config.
func LoadRulesFile(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "cannot read rules file", err).
			WithContext("path", path)
	}
	return ParseRules(raw)
}

// ParseRules parses YAML rule definitions from raw bytes.
func ParseRules(raw []byte) ([]Rule, error) {
	var doc ruleDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "malformed rules file", err)
	}

	rules := make([]Rule, 0, len(doc.Rules))
	for i, spec := range doc.Rules {
		rule, err := spec.toRule()
		if err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "invalid rule", err).
				WithContext("index", i).
				WithContext("rule", spec.Name)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (s ruleSpec) toRule() (Rule, error) {
	if s.Name == "" {
		return Rule{}, errors.New(errors.CodeInvalidInput, "rule has no name", nil)
	}
	if len(s.Conditions) == 0 {
		return Rule{}, errors.New(errors.CodeInvalidInput, "rule has no conditions", nil)
	}

	var cooldown time.Duration
	if s.Cooldown != "" {
		var err error
		cooldown, err = time.ParseDuration(s.Cooldown)
		if err != nil {
			return Rule{}, errors.New(errors.CodeInvalidInput, "invalid cooldown", err)
		}
	}

	conditions := make([]Condition, 0, len(s.Conditions))
	for _, cs := range s.Conditions {
		op := Operator(cs.Operator)
		switch op {
		case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual, OpNotEqual, OpContains, OpRegex:
		default:
			return Rule{}, errors.New(errors.CodeInvalidInput, "unknown operator", nil).
				WithContext("operator", cs.Operator)
		}
		severity := Severity(cs.Severity)
		if !ValidSeverity(severity) {
			return Rule{}, errors.New(errors.CodeInvalidInput, "unknown severity", nil).
				WithContext("severity", cs.Severity)
		}
		conditions = append(conditions, Condition{
			Metric:   cs.Metric,
			Operator: op,
			Value:    cs.Value,
			Severity: severity,
		})
	}

	actions := make([]Action, 0, len(s.Actions))
	for _, as := range s.Actions {
		typ := ActionType(as.Type)
		switch typ {
		case ActionNotification, ActionWebhook, ActionAutomation, ActionEscalation:
		default:
			return Rule{}, errors.New(errors.CodeInvalidInput, "unknown action type", nil).
				WithContext("type", as.Type)
		}
		actions = append(actions, Action{
			Type:         typ,
			Channels:     as.Channels,
			Hook:         as.Hook,
			EscalationID: as.EscalationID,
		})
	}

	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}

	return Rule{
		ID:         s.ID,
		Name:       s.Name,
		Conditions: conditions,
		Actions:    actions,
		Cooldown:   cooldown,
		Enabled:    enabled,
	}, nil
}
