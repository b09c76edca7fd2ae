// SPDX-License-Identifier: Apache-2.0
// Package notify fans alerts out to notification channels with delayed
// queuing, severity-based default routing and escalation scheduling.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"

	"github.com/ishan-parihar/ai-town-sub000/pkg/alerting"
	townerr "github.com/ishan-parihar/ai-town-sub000/pkg/errors"
)

// Channel delivers one alert to one destination. Implementations own
// their retry policy; the dispatcher never retries on their behalf.
type Channel interface {
	Name() string
	Type() string
	Enabled() bool
	Send(ctx context.Context, alert alerting.Alert) error
}

// EmailChannel sends alerts over SMTP.
type EmailChannel struct {
	ChannelName string
	Host        string
	Port        int
	From        string
	Recipients  []string
	Username    string
	Password    string
	Disabled    bool
}

func (c *EmailChannel) Name() string {
	if c.ChannelName != "" {
		return c.ChannelName
	}
	return "email"
}

func (c *EmailChannel) Type() string  { return "email" }
func (c *EmailChannel) Enabled() bool { return !c.Disabled }

// Send delivers the alert as a plain-text message.
func (c *EmailChannel) Send(ctx context.Context, alert alerting.Alert) error {
	if len(c.Recipients) == 0 {
		return townerr.New(townerr.CodeNotificationFailure, "email channel has no recipients", nil)
	}
	var body bytes.Buffer
	fmt.Fprintf(&body, "From: %s\r\n", c.From)
	fmt.Fprintf(&body, "To: %s\r\n", strings.Join(c.Recipients, ", "))
	fmt.Fprintf(&body, "Subject: [%s] %s\r\n\r\n", strings.ToUpper(string(alert.Severity)), alert.Title)
	fmt.Fprintf(&body, "%s\n\nSource: %s\nAlert ID: %s\n", alert.Message, alert.Source, alert.ID)

	var auth smtp.Auth
	if c.Username != "" {
		auth = smtp.PlainAuth("", c.Username, c.Password, c.Host)
	}
	addr := fmt.Sprintf("%s:%d", c.Host, c.Port)
	if err := smtp.SendMail(addr, auth, c.From, c.Recipients, body.Bytes()); err != nil {
		return townerr.New(townerr.CodeNotificationFailure, "smtp send failed", err)
	}
	return nil
}

// withRecipients returns a single-use copy targeting one extra recipient.
// Used to realize escalation additionalRecipients as ad-hoc channels.
func (c *EmailChannel) withRecipients(name string, recipients []string) *EmailChannel {
	clone := *c
	clone.ChannelName = name
	clone.Recipients = recipients
	return &clone
}

// SlackChannel posts alerts to a Slack incoming webhook.
type SlackChannel struct {
	ChannelName string
	WebhookURL  string
	SlackChan   string
	Disabled    bool
	Client      *http.Client
}

func (c *SlackChannel) Name() string {
	if c.ChannelName != "" {
		return c.ChannelName
	}
	return "slack"
}

func (c *SlackChannel) Type() string  { return "slack" }
func (c *SlackChannel) Enabled() bool { return !c.Disabled }

var severityEmoji = map[alerting.Severity]string{
	alerting.SeverityCritical: ":rotating_light:",
	alerting.SeverityHigh:     ":warning:",
	alerting.SeverityMedium:   ":large_orange_diamond:",
	alerting.SeverityWarning:  ":large_orange_diamond:",
	alerting.SeverityLow:      ":information_source:",
}

// Send posts the alert as a Slack message payload.
func (c *SlackChannel) Send(ctx context.Context, alert alerting.Alert) error {
	payload := map[string]interface{}{
		"text": fmt.Sprintf("%s *%s*\n%s\n_source: %s_", severityEmoji[alert.Severity], alert.Title, alert.Message, alert.Source),
	}
	if c.SlackChan != "" {
		payload["channel"] = c.SlackChan
	}
	return postJSON(ctx, c.Client, c.WebhookURL, nil, payload)
}

// WebhookChannel POSTs the full alert as JSON to an arbitrary endpoint.
type WebhookChannel struct {
	ChannelName string
	URL         string
	Headers     map[string]string
	Disabled    bool
	Client      *http.Client
}

func (c *WebhookChannel) Name() string {
	if c.ChannelName != "" {
		return c.ChannelName
	}
	return "webhook"
}

func (c *WebhookChannel) Type() string  { return "webhook" }
func (c *WebhookChannel) Enabled() bool { return !c.Disabled }

// Send posts the alert record.
func (c *WebhookChannel) Send(ctx context.Context, alert alerting.Alert) error {
	return postJSON(ctx, c.Client, c.URL, c.Headers, alert)
}

// SMSChannel is a logged stub: no SMS provider is wired, so delivery is
// recorded in the log and reported as success.
type SMSChannel struct {
	ChannelName string
	Numbers     []string
	Disabled    bool
	Logger      *slog.Logger
}

func (c *SMSChannel) Name() string {
	if c.ChannelName != "" {
		return c.ChannelName
	}
	return "sms"
}

func (c *SMSChannel) Type() string  { return "sms" }
func (c *SMSChannel) Enabled() bool { return !c.Disabled }

// Send logs the would-be delivery.
func (c *SMSChannel) Send(ctx context.Context, alert alerting.Alert) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notify.sms.stub",
		slog.String("alertId", alert.ID),
		slog.String("title", alert.Title),
		slog.Int("recipients", len(c.Numbers)))
	return nil
}

// logChannel delivers by logging only. Used for ad-hoc escalation
// recipients when no email transport is configured.
type logChannel struct {
	name      string
	recipient string
	logger    *slog.Logger
}

func (c *logChannel) Name() string  { return c.name }
func (c *logChannel) Type() string  { return "log" }
func (c *logChannel) Enabled() bool { return true }

func (c *logChannel) Send(ctx context.Context, alert alerting.Alert) error {
	c.logger.Info("notify.adhoc.delivered",
		slog.String("recipient", c.recipient),
		slog.String("alertId", alert.ID),
		slog.String("title", alert.Title))
	return nil
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload interface{}) error {
	if client == nil {
		client = http.DefaultClient
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return townerr.New(townerr.CodeNotificationFailure, "marshal payload", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return townerr.New(townerr.CodeNotificationFailure, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return townerr.New(townerr.CodeNotificationFailure, "post failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return townerr.New(townerr.CodeNotificationFailure, fmt.Sprintf("endpoint returned %d", resp.StatusCode), nil)
	}
	return nil
}
