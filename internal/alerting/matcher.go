package alerting

import (
	"strings"
)

// Matcher evaluates whether a line matches a rule's condition.
type Matcher struct{}

// NewMatcher creates a new Matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// MatchContains checks if a line matches a contains rule.
func (m *Matcher) MatchContains(rule *Rule, line string) bool {
	if rule.Type != RuleTypeContains {
		return false
	}
	return strings.Contains(line, rule.Condition.Contains)
}

// MatchPattern checks if a line matches a pattern rule.
func (m *Matcher) MatchPattern(rule *Rule, line string) bool {
	if rule.Type != RuleTypePattern {
		return false
	}

	pattern := rule.GetCompiledPattern()
	if pattern == nil {
		return false
	}
	return pattern.MatchString(line)
}

// MatchThresholdCondition checks if a single line matches the threshold
// rule's filter (not the count threshold). Both filters must hold when set.
func (m *Matcher) MatchThresholdCondition(rule *Rule, line string) bool {
	if rule.Type != RuleTypeThreshold {
		return false
	}

	cond := rule.Condition
	if cond.Contains != "" && !strings.Contains(line, cond.Contains) {
		return false
	}
	if pattern := rule.GetCompiledPattern(); pattern != nil && !pattern.MatchString(line) {
		return false
	}
	return cond.Contains != "" || rule.GetCompiledPattern() != nil
}
