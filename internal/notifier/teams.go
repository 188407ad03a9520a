package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/good-yellow-bee/tailguard/internal/alerting"
)

// TeamsConfig holds Microsoft Teams webhook configuration.
type TeamsConfig struct {
	WebhookURL string // Teams incoming webhook URL
}

// Validate validates the Teams configuration.
func (c *TeamsConfig) Validate() error {
	return validateWebhookURL(c.WebhookURL)
}

// TeamsNotifier sends alerts to Microsoft Teams via webhook.
type TeamsNotifier struct {
	config     TeamsConfig
	httpClient *http.Client
}

// NewTeamsNotifier creates a new Teams notifier.
func NewTeamsNotifier(config TeamsConfig) (*TeamsNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid teams config: %w", err)
	}

	return &TeamsNotifier{
		config:     config,
		httpClient: &http.Client{Timeout: webhookTimeout},
	}, nil
}

// Name returns "teams".
func (t *TeamsNotifier) Name() string {
	return "teams"
}

// Send sends an alert to Microsoft Teams.
func (t *TeamsNotifier) Send(ctx context.Context, alert *alerting.Alert) error {
	return postJSON(ctx, t.httpClient, t.config.WebhookURL, "teams", buildTeamsPayload(alert))
}

// Close is a no-op for Teams notifier.
func (t *TeamsNotifier) Close() error {
	return nil
}

// teamsMessage represents the Teams webhook payload with Adaptive Card.
type teamsMessage struct {
	Type        string            `json:"type"`
	Attachments []teamsAttachment `json:"attachments"`
}

type teamsAttachment struct {
	ContentType string       `json:"contentType"`
	ContentURL  *string      `json:"contentUrl"`
	Content     adaptiveCard `json:"content"`
}

type adaptiveCard struct {
	Schema  string `json:"$schema"`
	Type    string `json:"type"`
	Version string `json:"version"`
	Body    []any  `json:"body"`
}

type textBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Size     string `json:"size,omitempty"`
	Weight   string `json:"weight,omitempty"`
	Color    string `json:"color,omitempty"`
	FontType string `json:"fontType,omitempty"`
	Wrap     bool   `json:"wrap,omitempty"`
}

type factSet struct {
	Type  string `json:"type"`
	Facts []fact `json:"facts"`
}

type fact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

type container struct {
	Type  string `json:"type"`
	Style string `json:"style,omitempty"`
	Items []any  `json:"items"`
}

// buildTeamsPayload builds the Adaptive Card message for alert.
func buildTeamsPayload(alert *alerting.Alert) teamsMessage {
	emoji := severityEmoji(alert.Severity)

	facts := []fact{
		{Title: "Severity", Value: fmt.Sprintf("%s %s", emoji, strings.ToUpper(string(alert.Severity)))},
		{Title: "Time", Value: alert.Timestamp.Format("2006-01-02 15:04:05 MST")},
		{Title: "Hostname", Value: alert.Host.Hostname},
		{Title: "OS release", Value: alert.Host.OSRelease},
		{Title: "OS type", Value: alert.Host.OSType},
		{Title: "File", Value: alert.FilePath},
		{Title: "Rule", Value: alert.RuleName},
	}
	if alert.Threshold > 0 {
		facts = append(facts, fact{
			Title: "Count",
			Value: fmt.Sprintf("%d (threshold %d in %s)", alert.Count, alert.Threshold, alert.Window),
		})
	}

	body := []any{
		container{
			Type:  "Container",
			Style: teamsSeverityStyle(alert.Severity),
			Items: []any{
				textBlock{
					Type:   "TextBlock",
					Text:   fmt.Sprintf("%s %s", emoji, alert.Subject),
					Size:   "Large",
					Weight: "Bolder",
					Wrap:   true,
				},
			},
		},
		textBlock{
			Type:     "TextBlock",
			Text:     truncate(alert.Line, 2000),
			FontType: "Monospace",
			Wrap:     true,
		},
		factSet{Type: "FactSet", Facts: facts},
	}

	if alert.Description != "" {
		body = append(body, textBlock{
			Type:  "TextBlock",
			Text:  fmt.Sprintf("_%s_", alert.Description),
			Wrap:  true,
			Color: "light",
		})
	}

	return teamsMessage{
		Type: "message",
		Attachments: []teamsAttachment{
			{
				ContentType: "application/vnd.microsoft.card.adaptive",
				Content: adaptiveCard{
					Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
					Type:    "AdaptiveCard",
					Version: "1.4",
					Body:    body,
				},
			},
		},
	}
}

// teamsSeverityStyle returns an Adaptive Card container style for the severity level.
func teamsSeverityStyle(severity alerting.Severity) string {
	switch severity {
	case alerting.SeverityCritical:
		return "attention"
	case alerting.SeverityHigh:
		return "warning"
	case alerting.SeverityMedium:
		return "accent"
	case alerting.SeverityLow:
		return "good"
	default:
		return "default"
	}
}
