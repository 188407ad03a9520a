package notifier

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/good-yellow-bee/tailguard/internal/alerting"
)

func TestNewSlackNotifierValidation(t *testing.T) {
	if _, err := NewSlackNotifier(SlackConfig{WebhookURL: "http://hooks.slack.com/x"}); err == nil {
		t.Error("expected error for non-HTTPS webhook")
	}

	n, err := NewSlackNotifier(SlackConfig{WebhookURL: "https://hooks.slack.com/services/T00/B00/xxx"})
	if err != nil {
		t.Fatalf("NewSlackNotifier() error = %v", err)
	}
	if n.Name() != "slack" {
		t.Errorf("Name() = %q, want slack", n.Name())
	}
	if err := n.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestSlackNotifierSend(t *testing.T) {
	var payload slackMessage
	server := captureServer(t, http.StatusOK, &payload)

	notifier := &SlackNotifier{
		config:     SlackConfig{WebhookURL: server.URL},
		httpClient: server.Client(),
	}

	if err := notifier.Send(context.Background(), testEmailAlert()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if !strings.Contains(payload.Text, "Automated message: SSH Login on web-1") {
		t.Errorf("fallback text = %q", payload.Text)
	}
	if len(payload.Blocks) != 4 {
		t.Fatalf("blocks = %d, want 4", len(payload.Blocks))
	}

	header := payload.Blocks[0]
	if header.Type != "header" || header.Text == nil {
		t.Fatalf("first block = %+v, want header", header)
	}
	if !strings.Contains(header.Text.Text, "Automated message: SSH Login") {
		t.Errorf("header = %q, want subject", header.Text.Text)
	}

	var fields []string
	for _, f := range payload.Blocks[1].Fields {
		fields = append(fields, f.Text)
	}
	joined := strings.Join(fields, "\n")
	for _, want := range []string{"HIGH", "2024-01-15 10:30:00 UTC", "web-1", "Linux 6.1.0"} {
		if !strings.Contains(joined, want) {
			t.Errorf("fields missing %q: %s", want, joined)
		}
	}

	line := payload.Blocks[2].Text
	if line == nil || !strings.Contains(line.Text, "Accepted password for root") || !strings.Contains(line.Text, "/var/log/auth.log") {
		t.Errorf("line block = %+v", line)
	}

	ctxBlock := payload.Blocks[3]
	if ctxBlock.Type != "context" || !strings.Contains(ctxBlock.Elements[0].Text, "ssh-password-login") {
		t.Errorf("context block = %+v", ctxBlock)
	}
}

func TestSlackPayloadThreshold(t *testing.T) {
	alert := testEmailAlert()
	alert.Count = 7
	alert.Threshold = 5
	alert.Window = "1m"

	msg := buildSlackPayload(alert)
	if len(msg.Blocks) != 5 {
		t.Fatalf("blocks = %d, want 5", len(msg.Blocks))
	}

	counts := msg.Blocks[3].Fields
	if len(counts) != 2 || !strings.Contains(counts[0].Text, "7") || !strings.Contains(counts[1].Text, "5 in 1m") {
		t.Errorf("threshold block = %+v", counts)
	}
}

func TestSeverityEmoji(t *testing.T) {
	tests := []struct {
		severity alerting.Severity
		want     string
	}{
		{alerting.SeverityCritical, "\U0001F534"},
		{alerting.SeverityHigh, "\U0001F7E0"},
		{alerting.SeverityMedium, "\U0001F7E1"},
		{alerting.SeverityLow, "\U0001F7E2"},
		{alerting.Severity("unknown"), "⚪"},
	}

	for _, tt := range tests {
		if got := severityEmoji(tt.severity); got != tt.want {
			t.Errorf("severityEmoji(%q) = %q, want %q", tt.severity, got, tt.want)
		}
	}
}
