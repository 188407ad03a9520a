package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/good-yellow-bee/tailguard/internal/alerting"
)

// SlackConfig holds Slack webhook configuration.
type SlackConfig struct {
	WebhookURL string // Slack incoming webhook URL
}

// Validate validates the Slack configuration.
func (c *SlackConfig) Validate() error {
	return validateWebhookURL(c.WebhookURL)
}

// SlackNotifier sends alerts to Slack via webhook.
type SlackNotifier struct {
	config     SlackConfig
	httpClient *http.Client
}

// NewSlackNotifier creates a new Slack notifier.
func NewSlackNotifier(config SlackConfig) (*SlackNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid slack config: %w", err)
	}

	return &SlackNotifier{
		config:     config,
		httpClient: &http.Client{Timeout: webhookTimeout},
	}, nil
}

// Name returns "slack".
func (s *SlackNotifier) Name() string {
	return "slack"
}

// Send sends an alert to Slack.
func (s *SlackNotifier) Send(ctx context.Context, alert *alerting.Alert) error {
	return postJSON(ctx, s.httpClient, s.config.WebhookURL, "slack", buildSlackPayload(alert))
}

// Close is a no-op for Slack notifier.
func (s *SlackNotifier) Close() error {
	return nil
}

// slackMessage represents the Slack webhook payload.
type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

// slackBlock represents a Slack Block Kit block.
type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

// slackText represents text in Slack Block Kit.
type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

func mrkdwn(format string, args ...any) slackText {
	return slackText{Type: "mrkdwn", Text: fmt.Sprintf(format, args...)}
}

// buildSlackPayload builds the Block Kit message for alert. Text is the
// fallback shown in notifications.
func buildSlackPayload(alert *alerting.Alert) slackMessage {
	emoji := severityEmoji(alert.Severity)

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{
				Type:  "plain_text",
				Text:  fmt.Sprintf("%s %s", emoji, alert.Subject),
				Emoji: true,
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				mrkdwn("*Severity:*\n%s %s", emoji, strings.ToUpper(string(alert.Severity))),
				mrkdwn("*Time:*\n%s", alert.Timestamp.Format("2006-01-02 15:04:05 MST")),
				mrkdwn("*Host:*\n%s", alert.Host.Hostname),
				mrkdwn("*OS:*\n%s %s", alert.Host.OSType, alert.Host.OSRelease),
			},
		},
		{
			Type: "section",
			Text: &slackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*File:* `%s`\n```%s```", alert.FilePath, truncate(alert.Line, 2000)),
			},
		},
	}

	if alert.Threshold > 0 {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Fields: []slackText{
				mrkdwn("*Count:*\n%d", alert.Count),
				mrkdwn("*Threshold:*\n%d in %s", alert.Threshold, alert.Window),
			},
		})
	}

	footer := fmt.Sprintf("Rule: %s", alert.RuleName)
	if alert.Description != "" {
		footer = fmt.Sprintf("Rule: %s (%s)", alert.RuleName, alert.Description)
	}
	blocks = append(blocks, slackBlock{
		Type:     "context",
		Elements: []slackText{mrkdwn("%s", footer)},
	})

	return slackMessage{
		Text:   fmt.Sprintf("%s on %s: %s", alert.Subject, alert.Host.Hostname, truncate(alert.Line, 200)),
		Blocks: blocks,
	}
}

// severityEmoji returns an emoji for the severity level.
func severityEmoji(severity alerting.Severity) string {
	switch severity {
	case alerting.SeverityCritical:
		return "\U0001F534" // red circle
	case alerting.SeverityHigh:
		return "\U0001F7E0" // orange circle
	case alerting.SeverityMedium:
		return "\U0001F7E1" // yellow circle
	case alerting.SeverityLow:
		return "\U0001F7E2" // green circle
	default:
		return "⚪" // white circle
	}
}
