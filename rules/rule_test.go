package rules

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestExprEvaluator tests the ExprEvaluator implementation.
func TestExprEvaluator(t *testing.T) {
	evaluator := NewExprEvaluator()

	tests := []struct {
		name       string
		expression string
		scope      Scope
		wantResult bool
		wantErr    bool
		errMsg     string
	}{
		{
			name:       "Valid true expression",
			expression: "age > 18",
			scope:      Scope{"age": 25},
			wantResult: true,
		},
		{
			name:       "Valid false expression",
			expression: "age < 18",
			scope:      Scope{"age": 25},
			wantResult: false,
		},
		{
			name:       "String comparison",
			expression: "action == 'reject'",
			scope:      Scope{"action": "reject"},
			wantResult: true,
		},
		{
			name:       "Undefined variable is nil",
			expression: "missing == nil",
			scope:      Scope{},
			wantResult: true,
		},
		{
			name:       "Non-boolean result",
			expression: "age + 5",
			scope:      Scope{"age": 25},
			wantErr:    true,
			errMsg:     "expression 'age + 5' did not evaluate to a boolean, got int",
		},
		{
			name:       "Invalid expression",
			expression: "age >>> 18",
			scope:      Scope{"age": 25},
			wantErr:    true,
			errMsg:     "unexpected token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(tt.expression, tt.scope)
			if tt.wantErr {
				assert.Error(t, err, "Evaluate() should return an error")
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg, "Error message should match")
				}
				assert.False(t, result)
			} else {
				assert.NoError(t, err, "Evaluate() should not return an error")
				assert.Equal(t, tt.wantResult, result, "Evaluate() result should match")
			}
		})
	}

	t.Run("Same expression across differently typed scopes", func(t *testing.T) {
		expr := "amount > 10"
		result1, err1 := evaluator.Evaluate(expr, Scope{"amount": 15})
		assert.NoError(t, err1)
		assert.True(t, result1)

		result2, err2 := evaluator.Evaluate(expr, Scope{"amount": 2.5})
		assert.NoError(t, err2)
		assert.False(t, result2)
	})

	t.Run("Concurrent evaluation", func(t *testing.T) {
		var wg sync.WaitGroup
		numGoroutines := 100
		expr := "value > 0"
		scope := Scope{"value": 42}

		wg.Add(numGoroutines)
		for i := 0; i < numGoroutines; i++ {
			go func() {
				defer wg.Done()
				result, err := evaluator.Evaluate(expr, scope)
				assert.NoError(t, err)
				assert.True(t, result)
			}()
		}
		wg.Wait()
	})
}

func TestExprEvaluator_ScopeFunc(t *testing.T) {
	evaluator := NewExprEvaluator()
	evaluator.AddScopeFunc("total", func(s Scope) interface{} {
		a, _ := s["a"].(int)
		b, _ := s["b"].(int)
		return a + b
	})

	scope := Scope{"a": 2, "b": 3}
	result, err := evaluator.Evaluate("total == 5", scope)
	assert.NoError(t, err)
	assert.True(t, result)
	_, leaked := scope["total"]
	assert.False(t, leaked, "scope must not be modified")
}

func TestEvaluatorFunc(t *testing.T) {
	var got string
	f := EvaluatorFunc(func(expression string, scope Scope) (bool, error) {
		got = expression
		return true, nil
	})
	ok, err := f.Evaluate("x", nil)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x", got)
}

// BenchmarkEvaluate benchmarks the performance of Evaluate with caching.
func BenchmarkEvaluate(b *testing.B) {
	evaluator := NewExprEvaluator()
	expression := "x > 5"
	scope := Scope{"x": 10}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, _ = evaluator.Evaluate(expression, scope)
	}
}
