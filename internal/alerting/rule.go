// Package alerting evaluates log lines against alert rules.
// It supports substring, regex, expression and threshold rules with
// per-rule cooldown.
package alerting

import (
	"fmt"
	"regexp"
	"time"

	"github.com/good-yellow-bee/tailguard/internal/hostinfo"
)

// RuleType defines the type of alert rule.
type RuleType string

const (
	// RuleTypeContains triggers when the line contains a literal substring.
	RuleTypeContains RuleType = "contains"
	// RuleTypePattern triggers on regex pattern match.
	RuleTypePattern RuleType = "pattern"
	// RuleTypeExpr triggers when a boolean expression over the line holds.
	RuleTypeExpr RuleType = "expr"
	// RuleTypeThreshold triggers when matching lines reach a count within a window.
	RuleTypeThreshold RuleType = "threshold"
)

// Severity represents the severity level of an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity converts a string to Severity.
func ParseSeverity(s string) Severity {
	switch s {
	case "low", "LOW":
		return SeverityLow
	case "medium", "MEDIUM":
		return SeverityMedium
	case "high", "HIGH":
		return SeverityHigh
	case "critical", "CRITICAL":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// Condition defines the alert trigger condition.
type Condition struct {
	// Contains is the literal substring for contains rules. Matching is case-sensitive.
	Contains string `yaml:"contains,omitempty"`
	// Pattern is the regex for pattern rules, and the line filter for threshold rules.
	Pattern string `yaml:"pattern,omitempty"`
	// CaseSensitive controls whether pattern matching is case-sensitive.
	CaseSensitive bool `yaml:"case_sensitive,omitempty"`
	// Expression is the expr-lang expression for expr rules.
	Expression string `yaml:"expression,omitempty"`
	// Threshold is the count that triggers a threshold rule.
	Threshold int `yaml:"threshold,omitempty"`
	// Window is the time window for threshold counting (e.g., "5m", "1h").
	Window string `yaml:"window,omitempty"`

	compiledPattern *regexp.Regexp
	exprMatcher     *ExprMatcher
	windowDuration  time.Duration
}

// Rule represents a single alert rule.
type Rule struct {
	// Name is the unique identifier for the rule.
	Name string `yaml:"name"`
	// Description provides details about what the rule detects.
	Description string `yaml:"description,omitempty"`
	// Subject overrides the notification subject.
	Subject string `yaml:"subject,omitempty"`
	// Type is one of contains, pattern, expr or threshold.
	Type RuleType `yaml:"type"`
	// Condition defines when the rule triggers.
	Condition Condition `yaml:"condition"`
	// Severity indicates the importance of the alert.
	Severity Severity `yaml:"severity"`
	// Notify lists the notification channels to use. Empty means all.
	Notify []string `yaml:"notify,omitempty"`
	// Cooldown is the minimum time between repeated alerts.
	Cooldown string `yaml:"cooldown,omitempty"`
	// Enabled controls whether the rule is active.
	Enabled *bool `yaml:"enabled,omitempty"`

	cooldownDuration time.Duration
}

// IsEnabled returns whether the rule is enabled.
func (r *Rule) IsEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// Validate validates and compiles the rule configuration.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}

	if r.Type == "" {
		return fmt.Errorf("rule type is required for rule %q", r.Name)
	}

	switch r.Type {
	case RuleTypeContains:
		if r.Condition.Contains == "" {
			return fmt.Errorf("contains is required for contains rule %q", r.Name)
		}
	case RuleTypePattern:
		if r.Condition.Pattern == "" {
			return fmt.Errorf("pattern is required for pattern rule %q", r.Name)
		}
		if err := r.compilePattern(); err != nil {
			return err
		}
	case RuleTypeExpr:
		if r.Condition.Expression == "" {
			return fmt.Errorf("expression is required for expr rule %q", r.Name)
		}
		m, err := NewExprMatcher(r.Condition.Expression)
		if err != nil {
			return fmt.Errorf("invalid expression for rule %q: %w", r.Name, err)
		}
		r.Condition.exprMatcher = m
	case RuleTypeThreshold:
		if r.Condition.Pattern == "" && r.Condition.Contains == "" {
			return fmt.Errorf("pattern or contains is required for threshold rule %q", r.Name)
		}
		if r.Condition.Pattern != "" {
			if err := r.compilePattern(); err != nil {
				return err
			}
		}
		if r.Condition.Threshold <= 0 {
			return fmt.Errorf("threshold must be positive for rule %q", r.Name)
		}
		if r.Condition.Window == "" {
			return fmt.Errorf("window is required for threshold rule %q", r.Name)
		}
		windowDur, err := time.ParseDuration(r.Condition.Window)
		if err != nil {
			return fmt.Errorf("invalid window %q for rule %q: %w", r.Condition.Window, r.Name, err)
		}
		if windowDur <= 0 {
			return fmt.Errorf("window must be positive for rule %q", r.Name)
		}
		r.Condition.windowDuration = windowDur
	default:
		return fmt.Errorf("invalid rule type %q for rule %q", r.Type, r.Name)
	}

	// Parse cooldown
	if r.Cooldown != "" {
		cooldownDur, err := time.ParseDuration(r.Cooldown)
		if err != nil {
			return fmt.Errorf("invalid cooldown %q for rule %q: %w", r.Cooldown, r.Name, err)
		}
		r.cooldownDuration = cooldownDur
	}

	if r.Severity == "" {
		r.Severity = SeverityMedium
	} else {
		r.Severity = ParseSeverity(string(r.Severity))
	}

	return nil
}

func (r *Rule) compilePattern() error {
	flags := ""
	if !r.Condition.CaseSensitive {
		flags = "(?i)"
	}
	compiled, err := regexp.Compile(flags + r.Condition.Pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern %q for rule %q: %w", r.Condition.Pattern, r.Name, err)
	}
	r.Condition.compiledPattern = compiled
	return nil
}

// GetCompiledPattern returns the compiled regex pattern.
func (r *Rule) GetCompiledPattern() *regexp.Regexp {
	return r.Condition.compiledPattern
}

// GetExprMatcher returns the compiled expression of an expr rule.
func (r *Rule) GetExprMatcher() *ExprMatcher {
	return r.Condition.exprMatcher
}

// GetWindowDuration returns the parsed window duration.
func (r *Rule) GetWindowDuration() time.Duration {
	return r.Condition.windowDuration
}

// GetCooldownDuration returns the parsed cooldown duration.
func (r *Rule) GetCooldownDuration() time.Duration {
	return r.cooldownDuration
}

// Alert represents a triggered alert.
type Alert struct {
	// ID uniquely identifies the alert.
	ID string `json:"id"`
	// RuleName is the name of the rule that triggered.
	RuleName string `json:"rule_name"`
	// Description is the rule description.
	Description string `json:"description,omitempty"`
	// Subject is the notification subject.
	Subject string `json:"subject"`
	// Severity is the alert severity.
	Severity Severity `json:"severity"`
	// Message provides details about what triggered the alert.
	Message string `json:"message"`
	// Line is the log line that triggered the alert, without its newline.
	Line string `json:"line"`
	// FilePath is the file the line was read from.
	FilePath string `json:"file_path"`
	// Host describes the machine the line was read on.
	Host hostinfo.Info `json:"host"`
	// Timestamp is when the alert was triggered.
	Timestamp time.Time `json:"timestamp"`
	// Count is the number of matching lines (for threshold alerts).
	Count int `json:"count,omitempty"`
	// Threshold is the configured threshold (for threshold alerts).
	Threshold int `json:"threshold,omitempty"`
	// Window is the configured window (for threshold alerts).
	Window string `json:"window,omitempty"`
	// Notify is the list of notification channels.
	Notify []string `json:"notify,omitempty"`
}

// RulesConfig represents the top-level YAML configuration.
type RulesConfig struct {
	Rules []*Rule `yaml:"rules"`
}

// DefaultSubject is the subject of the built-in SSH login alert.
const DefaultSubject = "Automated message: SSH Login"

// DefaultRules returns the built-in rule set: one alert per successful SSH
// password login.
func DefaultRules() []*Rule {
	rule := &Rule{
		Name:        "ssh-password-login",
		Description: "The following SSH login was recorded",
		Subject:     DefaultSubject,
		Type:        RuleTypeContains,
		Condition:   Condition{Contains: "Accepted password"},
		Severity:    SeverityHigh,
	}
	if err := rule.Validate(); err != nil {
		panic(err)
	}
	return []*Rule{rule}
}
