package alerting

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/tailguard/internal/hostinfo"
	"github.com/good-yellow-bee/tailguard/internal/metrics"
)

// Engine is the alert rules engine that evaluates log lines against rules.
type Engine struct {
	mu sync.RWMutex

	rules    []*Rule
	host     hostinfo.Info
	matcher  *Matcher
	windows  *WindowManager
	cooldown *CooldownManager

	stats *EngineStats
}

// EngineStats tracks engine statistics using atomic operations for lock-free access.
type EngineStats struct {
	LinesEvaluated    atomic.Int64
	Matches           atomic.Int64
	ThresholdTriggers atomic.Int64
	AlertsSuppressed  atomic.Int64
	ExprErrors        atomic.Int64
}

// EngineOptions configures the alert engine.
type EngineOptions struct {
	// Host is attached to every alert. Its hostname is exposed to
	// expressions as "host".
	Host hostinfo.Info
}

// NewEngine creates a new alert engine with the given rules. Rules must
// already be validated (LoadRules and DefaultRules do this).
func NewEngine(rules []*Rule, opts *EngineOptions) *Engine {
	if opts == nil {
		opts = &EngineOptions{}
	}

	return &Engine{
		rules:    rules,
		host:     opts.Host,
		matcher:  NewMatcher(),
		windows:  NewWindowManager(),
		cooldown: NewCooldownManager(),
		stats:    &EngineStats{},
	}
}

// Evaluate evaluates a single line against all rules.
// Returns any triggered alerts.
func (e *Engine) Evaluate(line, file string) []*Alert {
	return e.EvaluateAt(line, file, time.Now())
}

// EvaluateAt evaluates a line at a specific time (useful for testing).
// A trailing newline is ignored.
func (e *Engine) EvaluateAt(line, file string, now time.Time) []*Alert {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	e.stats.LinesEvaluated.Add(1)
	line = strings.TrimRight(line, "\r\n")

	var alerts []*Alert

	for _, rule := range rules {
		if !rule.IsEnabled() {
			continue
		}

		var alert *Alert

		switch rule.Type {
		case RuleTypeContains:
			if e.matcher.MatchContains(rule, line) {
				alert = e.fire(rule, line, file, now, fmt.Sprintf("Line contains %q", rule.Condition.Contains))
			}
		case RuleTypePattern:
			if e.matcher.MatchPattern(rule, line) {
				alert = e.fire(rule, line, file, now, fmt.Sprintf("Pattern match: %s", rule.Condition.Pattern))
			}
		case RuleTypeExpr:
			alert = e.evaluateExpr(rule, line, file, now)
		case RuleTypeThreshold:
			alert = e.evaluateThreshold(rule, line, file, now)
		}

		if alert != nil {
			alerts = append(alerts, alert)
		}
	}

	return alerts
}

// evaluateExpr evaluates an expr-based rule against a line.
func (e *Engine) evaluateExpr(rule *Rule, line, file string, now time.Time) *Alert {
	matcher := rule.GetExprMatcher()
	if matcher == nil {
		return nil
	}

	matched, err := matcher.Match(Env{Line: line, File: file, Host: e.host.Hostname})
	if err != nil {
		if e.stats.ExprErrors.Add(1) == 1 {
			log.Printf("[alerting] rule %s: %v", rule.Name, err)
		}
		return nil
	}
	if !matched {
		return nil
	}

	return e.fire(rule, line, file, now, fmt.Sprintf("Expression matched: %s", matcher.Expression()))
}

// evaluateThreshold evaluates a threshold rule against a line.
func (e *Engine) evaluateThreshold(rule *Rule, line, file string, now time.Time) *Alert {
	if !e.matcher.MatchThresholdCondition(rule, line) {
		return nil
	}

	count := e.windows.Record(rule.Name, rule.GetWindowDuration(), rule.Condition.Threshold, now)
	if count < rule.Condition.Threshold {
		return nil
	}

	e.stats.ThresholdTriggers.Add(1)

	alert := e.fire(rule, line, file, now, fmt.Sprintf("Threshold exceeded: %d lines in %s (threshold: %d)",
		count, rule.Condition.Window, rule.Condition.Threshold))
	if alert == nil {
		return nil
	}

	// Reset window after alert (prevents repeated alerts for same lines)
	e.windows.Reset(rule.Name)

	alert.Count = count
	alert.Threshold = rule.Condition.Threshold
	alert.Window = rule.Condition.Window
	return alert
}

// fire applies the rule's cooldown and builds the alert.
func (e *Engine) fire(rule *Rule, line, file string, now time.Time, message string) *Alert {
	e.stats.Matches.Add(1)

	if e.cooldown.IsOnCooldown(rule.Name, now) {
		e.stats.AlertsSuppressed.Add(1)
		metrics.AlertsSuppressedTotal.WithLabelValues(rule.Name).Inc()
		return nil
	}

	if rule.GetCooldownDuration() > 0 {
		e.cooldown.SetCooldown(rule.Name, rule.GetCooldownDuration(), now)
	}

	metrics.AlertsTotal.WithLabelValues(rule.Name).Inc()

	subject := rule.Subject
	if subject == "" {
		subject = fmt.Sprintf("Automated message: %s", rule.Name)
	}

	return &Alert{
		ID:          uuid.NewString(),
		RuleName:    rule.Name,
		Description: rule.Description,
		Subject:     subject,
		Severity:    rule.Severity,
		Message:     message,
		Line:        line,
		FilePath:    file,
		Host:        e.host,
		Timestamp:   now,
		Notify:      rule.Notify,
	}
}

// Rules returns all rules.
func (e *Engine) Rules() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make([]*Rule, len(e.rules))
	copy(result, e.rules)
	return result
}

// ReloadRules replaces all rules with new ones.
func (e *Engine) ReloadRules(rules []*Rule) error {
	// Validate all rules first
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = rules
	e.windows.DeleteAll()
	e.cooldown.ClearAll()

	return nil
}

// EngineStatsSnapshot is a snapshot of engine statistics for reporting.
type EngineStatsSnapshot struct {
	LinesEvaluated    int64 `json:"lines_evaluated"`
	Matches           int64 `json:"matches"`
	ThresholdTriggers int64 `json:"threshold_triggers"`
	AlertsSuppressed  int64 `json:"alerts_suppressed"`
	ExprErrors        int64 `json:"expr_errors"`
}

// Stats returns a snapshot of engine statistics.
func (e *Engine) Stats() EngineStatsSnapshot {
	return EngineStatsSnapshot{
		LinesEvaluated:    e.stats.LinesEvaluated.Load(),
		Matches:           e.stats.Matches.Load(),
		ThresholdTriggers: e.stats.ThresholdTriggers.Load(),
		AlertsSuppressed:  e.stats.AlertsSuppressed.Load(),
		ExprErrors:        e.stats.ExprErrors.Load(),
	}
}

// CooldownManager tracks alert cooldowns to prevent spam.
type CooldownManager struct {
	mu        sync.RWMutex
	cooldowns map[string]time.Time
}

// NewCooldownManager creates a new cooldown manager.
func NewCooldownManager() *CooldownManager {
	return &CooldownManager{
		cooldowns: make(map[string]time.Time),
	}
}

// IsOnCooldown checks if a rule is currently on cooldown.
func (cm *CooldownManager) IsOnCooldown(ruleName string, now time.Time) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	expiresAt, ok := cm.cooldowns[ruleName]
	if !ok {
		return false
	}
	return now.Before(expiresAt)
}

// SetCooldown sets a cooldown for a rule.
func (cm *CooldownManager) SetCooldown(ruleName string, duration time.Duration, now time.Time) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.cooldowns[ruleName] = now.Add(duration)
}

// ClearAll removes all cooldowns.
func (cm *CooldownManager) ClearAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.cooldowns = make(map[string]time.Time)
}

// GetCooldownRemaining returns the remaining cooldown duration for a rule.
func (cm *CooldownManager) GetCooldownRemaining(ruleName string, now time.Time) time.Duration {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	expiresAt, ok := cm.cooldowns[ruleName]
	if !ok {
		return 0
	}
	remaining := expiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
