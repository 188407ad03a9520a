package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/good-yellow-bee/tailguard/internal/alerting"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tailguard.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
file: /var/log/auth.log
watch:
  backend: inotify
  encoding: windows-1252
  start_at_beginning: true

sender:
  email: alerts@example.com
  name: tailguard
  password: secret
  smtp_server: smtp.example.com
  port: 465

recipients:
  - email: ops@example.com
    name: Ops
  - email: admin@example.com
    name: Admin

slack:
  webhook_url: https://hooks.slack.com/services/T00/B00/xxx

rate_limit:
  enabled: false
  max_per_window: 5
  window: 30s

history:
  path: /var/lib/tailguard/history.db
  retention: 24h

status:
  address: 127.0.0.1:9464
echo: true
`)

	cfg, err := LoadConfig(path, "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.File != "/var/log/auth.log" {
		t.Errorf("File = %q", cfg.File)
	}
	if cfg.Watch.Backend != "inotify" || cfg.Watch.Encoding != "windows-1252" || !cfg.Watch.StartAtBeginning {
		t.Errorf("Watch = %+v", cfg.Watch)
	}
	if cfg.Sender.Port != 465 || cfg.Sender.HelloName != "localhost" || cfg.Sender.Timeout != 30*time.Second {
		t.Errorf("Sender = %+v", cfg.Sender)
	}
	if !cfg.Echo || cfg.Status.Address != "127.0.0.1:9464" {
		t.Errorf("Echo = %v, Status = %+v", cfg.Echo, cfg.Status)
	}
	if cfg.History.Retention != 24*time.Hour {
		t.Errorf("History.Retention = %v", cfg.History.Retention)
	}

	email := cfg.EmailConfig()
	if email.Host != "smtp.example.com" || email.From != "alerts@example.com" || email.Username != "alerts@example.com" {
		t.Errorf("EmailConfig = %+v", email)
	}
	if len(email.Recipients) != 2 || email.Recipients[0].Address != "ops@example.com" || email.Recipients[0].Name != "Ops" {
		t.Errorf("Recipients = %+v", email.Recipients)
	}

	rl := cfg.RateLimitConfig()
	if rl.Enabled || rl.MaxPerWindow != 5 || rl.Window != 30*time.Second {
		t.Errorf("RateLimitConfig = %+v", rl)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
file: /var/log/auth.log
sender:
  email: alerts@example.com
  smtp_server: smtp.example.com
recipients:
  - email: ops@example.com
`)

	cfg, err := LoadConfig(path, "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Watch.Backend != "fsnotify" {
		t.Errorf("Watch.Backend = %q, want fsnotify", cfg.Watch.Backend)
	}
	if cfg.Watch.Encoding != "utf-8" {
		t.Errorf("Watch.Encoding = %q, want utf-8", cfg.Watch.Encoding)
	}
	if cfg.Sender.Port != 587 {
		t.Errorf("Sender.Port = %d, want 587", cfg.Sender.Port)
	}
	rl := cfg.RateLimitConfig()
	if !rl.Enabled || rl.MaxPerWindow != 10 || rl.Window != time.Minute {
		t.Errorf("RateLimitConfig = %+v", rl)
	}
	if cfg.History.Path != "" {
		t.Errorf("History.Path = %q, want disabled", cfg.History.Path)
	}
	if cfg.History.Retention != 30*24*time.Hour {
		t.Errorf("History.Retention = %v", cfg.History.Retention)
	}
}

func TestLoadConfigPasswordFromEnv(t *testing.T) {
	t.Setenv(passwordEnv, "from-env")

	path := writeConfig(t, `
file: /var/log/auth.log
sender:
  email: alerts@example.com
  password: from-file
  smtp_server: smtp.example.com
recipients:
  - email: ops@example.com
`)

	cfg, err := LoadConfig(path, "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Sender.Password != "from-env" {
		t.Errorf("Sender.Password = %q, want from-env", cfg.Sender.Password)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{
			name:   "missing file",
			yaml:   "slack:\n  webhook_url: https://hooks.slack.com/x\n",
			errMsg: "file is required",
		},
		{
			name:   "unknown backend",
			yaml:   "file: /var/log/a.log\nwatch:\n  backend: poll\nslack:\n  webhook_url: https://hooks.slack.com/x\n",
			errMsg: "watch.backend",
		},
		{
			name:   "utf-16 encoding",
			yaml:   "file: /var/log/a.log\nwatch:\n  encoding: utf-16le\nslack:\n  webhook_url: https://hooks.slack.com/x\n",
			errMsg: "watch.encoding",
		},
		{
			name:   "unknown encoding",
			yaml:   "file: /var/log/a.log\nwatch:\n  encoding: klingon\nslack:\n  webhook_url: https://hooks.slack.com/x\n",
			errMsg: "watch.encoding",
		},
		{
			name:   "no notifiers",
			yaml:   "file: /var/log/a.log\n",
			errMsg: "at least one notifier",
		},
		{
			name:   "recipients without sender",
			yaml:   "file: /var/log/a.log\nrecipients:\n  - email: ops@example.com\n",
			errMsg: "sender.email and sender.smtp_server are required",
		},
		{
			name:   "sender without recipients",
			yaml:   "file: /var/log/a.log\nsender:\n  email: a@example.com\n  smtp_server: smtp.example.com\n",
			errMsg: "at least one recipient is required",
		},
		{
			name:   "http slack webhook",
			yaml:   "file: /var/log/a.log\nslack:\n  webhook_url: http://hooks.slack.com/x\n",
			errMsg: "slack: webhook URL must use HTTPS",
		},
		{
			name:   "http teams webhook",
			yaml:   "file: /var/log/a.log\nteams:\n  webhook_url: http://example.webhook.office.com/x\n",
			errMsg: "teams: webhook URL must use HTTPS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.yaml), "")
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error = %q, want it to contain %q", err, tt.errMsg)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), ""); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadConfigFileOverride(t *testing.T) {
	noFile := writeConfig(t, `
slack:
  webhook_url: https://hooks.slack.com/services/x
`)

	if _, err := LoadConfig(noFile, ""); err == nil {
		t.Fatal("expected error without a log file")
	}

	cfg, err := LoadConfig(noFile, "/var/log/secure")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.File != "/var/log/secure" {
		t.Errorf("File = %q, want override", cfg.File)
	}

	withFile := writeConfig(t, "file: /var/log/auth.log\nslack:\n  webhook_url: https://hooks.slack.com/services/x\n")
	cfg, err = LoadConfig(withFile, "/tmp/other.log")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.File != "/tmp/other.log" {
		t.Errorf("File = %q, want override to win", cfg.File)
	}
}

func TestLoadRules(t *testing.T) {
	cfg := &Config{}
	rules, err := loadRules(cfg)
	if err != nil {
		t.Fatalf("loadRules: %v", err)
	}
	if len(rules) != 1 || rules[0].Name != "ssh-password-login" {
		t.Errorf("default rules = %+v", rules)
	}

	cfg.RulesFile = filepath.Join(t.TempDir(), "rules.yaml")
	content := `
rules:
  - name: sudo
    type: contains
    condition:
      contains: "sudo:"
    severity: medium
`
	if err := os.WriteFile(cfg.RulesFile, []byte(content), 0644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	rules, err = loadRules(cfg)
	if err != nil {
		t.Fatalf("loadRules: %v", err)
	}
	if len(rules) != 1 || rules[0].Name != "sudo" || rules[0].Severity != alerting.SeverityMedium {
		t.Errorf("file rules = %+v", rules)
	}

	if err := os.WriteFile(cfg.RulesFile, []byte("rules: []\n"), 0644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	if _, err := loadRules(cfg); err == nil {
		t.Error("expected error for empty rules file")
	}
}

func TestBuildDispatcher(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
file: /var/log/auth.log
sender:
  email: alerts@example.com
  smtp_server: smtp.example.com
recipients:
  - email: ops@example.com
slack:
  webhook_url: https://hooks.slack.com/services/T00/B00/xxx
teams:
  webhook_url: https://example.webhook.office.com/webhookb2/xxx
`), "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	d, err := buildDispatcher(cfg)
	if err != nil {
		t.Fatalf("buildDispatcher: %v", err)
	}
	defer d.Close()

	if got := strings.Join(d.Names(), ","); got != "email,slack,teams" {
		t.Errorf("notifiers = %q, want email,slack,teams", got)
	}
}

func TestPrintSummary(t *testing.T) {
	cfg := &Config{
		File:       "/var/log/auth.log",
		Watch:      WatchConfig{Backend: "fsnotify", Encoding: "utf-8"},
		Sender:     SenderConfig{Email: "alerts@example.com", SMTPServer: "smtp.example.com"},
		Recipients: []RecipientConfig{{Email: "ops@example.com"}},
	}

	var buf bytes.Buffer
	printSummary(&buf, cfg, alerting.DefaultRules())

	out := buf.String()
	for _, want := range []string{
		"file:      /var/log/auth.log",
		"email (1 recipients)",
		"- ssh-password-login [contains, high]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
