package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/tailguard/internal/notifier"
	"github.com/good-yellow-bee/tailguard/internal/tailer"
	"github.com/good-yellow-bee/tailguard/internal/watch"
)

// passwordEnv overrides sender.password when set.
const passwordEnv = "TAILGUARD_SMTP_PASSWORD"

// Config represents the tailguard configuration.
type Config struct {
	File       string            `yaml:"file"`       // followed log file
	RulesFile  string            `yaml:"rules_file"` // optional; built-in SSH login rule when empty
	Watch      WatchConfig       `yaml:"watch"`
	Sender     SenderConfig      `yaml:"sender"`
	Recipients []RecipientConfig `yaml:"recipients"`
	Slack      WebhookConfig     `yaml:"slack"`
	Teams      WebhookConfig     `yaml:"teams"`
	RateLimit  RateLimitConfig   `yaml:"rate_limit"`
	History    HistoryConfig     `yaml:"history"`
	Status     StatusConfig      `yaml:"status"`
	Echo       bool              `yaml:"echo"` // print every line to stdout
	Verbose    bool              `yaml:"-"`    // set via CLI flag
}

// WatchConfig contains tailer settings.
type WatchConfig struct {
	Backend          string `yaml:"backend"`            // fsnotify or inotify (default: fsnotify)
	Encoding         string `yaml:"encoding"`           // WHATWG label (default: utf-8)
	StartAtBeginning bool   `yaml:"start_at_beginning"` // read existing content on startup
}

// SenderConfig contains the SMTP account alerts are sent from.
type SenderConfig struct {
	Email      string        `yaml:"email"`       // from address and SMTP username
	Name       string        `yaml:"name"`        // from display name
	Password   string        `yaml:"password"`    // overridden by TAILGUARD_SMTP_PASSWORD
	SMTPServer string        `yaml:"smtp_server"` // SMTP host
	Port       int           `yaml:"port"`        // default: 587
	HelloName  string        `yaml:"hello_name"`  // default: localhost
	Timeout    time.Duration `yaml:"timeout"`     // default: 30s
}

// RecipientConfig is one mailbox alerts are sent to.
type RecipientConfig struct {
	Email string `yaml:"email"`
	Name  string `yaml:"name"`
}

// WebhookConfig contains a chat webhook.
type WebhookConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// RateLimitConfig bounds notifications across all channels.
type RateLimitConfig struct {
	Enabled      *bool         `yaml:"enabled"`        // default: true
	MaxPerWindow int           `yaml:"max_per_window"` // default: 10
	Window       time.Duration `yaml:"window"`         // default: 1m
}

// HistoryConfig contains the alert journal settings.
type HistoryConfig struct {
	Path      string        `yaml:"path"`      // SQLite database; empty disables the journal
	Retention time.Duration `yaml:"retention"` // default: 720h
}

// StatusConfig contains the HTTP status server settings.
type StatusConfig struct {
	Address string `yaml:"address"` // empty disables the server
}

// LoadConfig loads and validates configuration from a YAML file. A non-empty
// file replaces the configured log file before validation.
func LoadConfig(path, file string) (*Config, error) {
	cfg, err := readConfig(path)
	if err != nil {
		return nil, err
	}
	if file != "" {
		cfg.File = file
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// readConfig parses path and applies defaults without validating.
func readConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Watch.Backend == "" {
		c.Watch.Backend = watch.BackendFsnotify
	}
	if c.Watch.Encoding == "" {
		c.Watch.Encoding = "utf-8"
	}
	if c.Sender.Port == 0 {
		c.Sender.Port = 587
	}
	if c.Sender.HelloName == "" {
		c.Sender.HelloName = "localhost"
	}
	if c.Sender.Timeout <= 0 {
		c.Sender.Timeout = 30 * time.Second
	}
	if pw := os.Getenv(passwordEnv); pw != "" {
		c.Sender.Password = pw
	}
	if c.RateLimit.Enabled == nil {
		enabled := true
		c.RateLimit.Enabled = &enabled
	}
	if c.RateLimit.MaxPerWindow <= 0 {
		c.RateLimit.MaxPerWindow = 10
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.History.Retention <= 0 {
		c.History.Retention = 30 * 24 * time.Hour
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.File == "" {
		return fmt.Errorf("file is required")
	}
	switch c.Watch.Backend {
	case watch.BackendFsnotify, watch.BackendInotify:
	default:
		return fmt.Errorf("watch.backend must be %q or %q", watch.BackendFsnotify, watch.BackendInotify)
	}
	if _, err := tailer.LookupEncoding(c.Watch.Encoding); err != nil {
		return fmt.Errorf("watch.encoding: %w", err)
	}

	if c.EmailEnabled() {
		cfg := c.EmailConfig()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("sender: %w", err)
		}
	} else if len(c.Recipients) > 0 {
		return fmt.Errorf("sender.email and sender.smtp_server are required when recipients are set")
	}
	if c.Slack.WebhookURL != "" {
		cfg := notifier.SlackConfig{WebhookURL: c.Slack.WebhookURL}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("slack: %w", err)
		}
	}
	if c.Teams.WebhookURL != "" {
		cfg := notifier.TeamsConfig{WebhookURL: c.Teams.WebhookURL}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("teams: %w", err)
		}
	}
	if !c.EmailEnabled() && c.Slack.WebhookURL == "" && c.Teams.WebhookURL == "" {
		return fmt.Errorf("at least one notifier (sender, slack or teams) is required")
	}

	return nil
}

// EmailEnabled reports whether an SMTP sender is configured.
func (c *Config) EmailEnabled() bool {
	return c.Sender.Email != "" || c.Sender.SMTPServer != ""
}

// EmailConfig converts the sender and recipients to notifier settings.
func (c *Config) EmailConfig() notifier.EmailConfig {
	recipients := make([]notifier.Recipient, len(c.Recipients))
	for i, r := range c.Recipients {
		recipients[i] = notifier.Recipient{Name: r.Name, Address: r.Email}
	}

	return notifier.EmailConfig{
		Host:       c.Sender.SMTPServer,
		Port:       c.Sender.Port,
		Username:   c.Sender.Email,
		Password:   c.Sender.Password,
		From:       c.Sender.Email,
		FromName:   c.Sender.Name,
		Recipients: recipients,
		HelloName:  c.Sender.HelloName,
		Timeout:    c.Sender.Timeout,
	}
}

// RateLimitConfig converts the rate limit section to notifier settings.
func (c *Config) RateLimitConfig() notifier.RateLimitConfig {
	return notifier.RateLimitConfig{
		MaxPerWindow: c.RateLimit.MaxPerWindow,
		Window:       c.RateLimit.Window,
		Enabled:      c.RateLimit.Enabled == nil || *c.RateLimit.Enabled,
	}
}
