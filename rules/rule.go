package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Scope is the set of variables visible to an expression.
type Scope map[string]interface{}

// Evaluator defines the interface for evaluating boolean condition expressions.
type Evaluator interface {
	Evaluate(expression string, scope Scope) (bool, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(expression string, scope Scope) (bool, error)

// Evaluate implements Evaluator.
func (f EvaluatorFunc) Evaluate(expression string, scope Scope) (bool, error) {
	return f(expression, scope)
}

// ExprEvaluator is an implementation of Evaluator using expr-lang/expr.
// Programs are compiled once per expression and reused across scopes, so they
// are compiled without a typed environment.
type ExprEvaluator struct {
	cache     map[string]*vm.Program
	mu        sync.RWMutex
	functions map[string]func(Scope) interface{}
}

// NewExprEvaluator creates a new ExprEvaluator with an initialized cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache:     make(map[string]*vm.Program),
		functions: make(map[string]func(Scope) interface{}),
	}
}

// AddScopeFunc registers a variable computed from the scope before every evaluation.
func (e *ExprEvaluator) AddScopeFunc(name string, f func(Scope) interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.functions[name] = f
}

// Evaluate evaluates the given expression against the provided scope.
// The expression must evaluate to a boolean; otherwise, an error is returned.
// The caller's scope is never modified.
func (e *ExprEvaluator) Evaluate(expression string, scope Scope) (bool, error) {
	env := make(map[string]interface{}, len(scope)+len(e.functions))
	for k, v := range scope {
		env[k] = v
	}

	e.mu.RLock()
	for name, f := range e.functions {
		env[name] = f(scope)
	}
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if !ok {
		e.mu.Lock()
		if program, ok = e.cache[expression]; !ok {
			var err error
			program, err = expr.Compile(expression, expr.AllowUndefinedVariables())
			if err != nil {
				e.mu.Unlock()
				return false, err
			}
			e.cache[expression] = program
		}
		e.mu.Unlock()
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}

	if boolResult, ok := result.(bool); ok {
		return boolResult, nil
	}
	return false, fmt.Errorf("expression '%s' did not evaluate to a boolean, got %T", expression, result)
}
