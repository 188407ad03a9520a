package alerting

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Env is the data an expression is evaluated against.
type Env struct {
	Line string `expr:"line"`
	File string `expr:"file"`
	Host string `expr:"host"`
}

// ExprMatcher compiles and evaluates expr-lang expressions against log lines.
type ExprMatcher struct {
	expression string
	program    *vm.Program
}

// NewExprMatcher creates a new ExprMatcher for the given expression.
func NewExprMatcher(expression string) (*ExprMatcher, error) {
	m := &ExprMatcher{expression: expression}
	if err := m.compile(); err != nil {
		return nil, err
	}
	return m, nil
}

// compile compiles the expression with the expected environment.
func (m *ExprMatcher) compile() error {
	// expr-lang has built-in operators: contains, startsWith, endsWith, matches.
	// Syntax: line contains "sshd" (not contains(line, "sshd"))
	program, err := expr.Compile(m.expression,
		expr.Env(Env{}),
		expr.AsBool(),
	)
	if err != nil {
		return fmt.Errorf("compile expression: %w", err)
	}

	m.program = program
	return nil
}

// Match evaluates the expression against env.
func (m *ExprMatcher) Match(env Env) (bool, error) {
	result, err := expr.Run(m.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate expression: %w", err)
	}

	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return bool: got %T", result)
	}

	return matched, nil
}

// Expression returns the original expression string.
func (m *ExprMatcher) Expression() string {
	return m.expression
}
