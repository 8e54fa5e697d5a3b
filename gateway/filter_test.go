package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/process-engine/rules"
	"github.com/songzhibin97/process-engine/types"
)

// recordingEvaluator answers from a fixed table and records every call.
type recordingEvaluator struct {
	answer func(expression string, scope rules.Scope) bool
	calls  []rules.Scope
}

func (e *recordingEvaluator) Evaluate(expression string, scope rules.Scope) (bool, error) {
	e.calls = append(e.calls, scope)
	return e.answer(expression, scope), nil
}

func ids(flows []types.SequenceFlow) []string {
	out := make([]string, 0, len(flows))
	for _, f := range flows {
		out = append(out, f.ID)
	}
	return out
}

func TestConditionFilter_WithExpr(t *testing.T) {
	flows := []types.SequenceFlow{
		{ID: "always"},
		{ID: "big", Condition: "amount > 100"},
		{ID: "small", Condition: "amount <= 100"},
		{ID: "rejected", Condition: "action == 'reject'"},
	}
	filter := NewConditionFilter(rules.NewExprEvaluator(), nil)
	inst := &types.Instance{Data: map[string]interface{}{"amount": 250}}

	got, err := filter.Filter(context.Background(), flows, inst, GatewayInfo{})
	require.NoError(t, err)
	assert.Equal(t, []string{"always", "big"}, ids(got))

	got, err = filter.Filter(context.Background(), flows, inst, GatewayInfo{Action: "reject"})
	require.NoError(t, err)
	assert.Equal(t, []string{"always", "big", "rejected"}, ids(got))
}

func TestConditionFilter_AnyScopeWins(t *testing.T) {
	flows := []types.SequenceFlow{{ID: "f", Condition: "row.ok"}}
	eval := &recordingEvaluator{answer: func(_ string, s rules.Scope) bool { return s["ok"] == true }}
	filter := NewConditionFilter(eval, RowScopes("rows"))

	inst := &types.Instance{Data: map[string]interface{}{
		"rows": []interface{}{
			map[string]interface{}{"ok": false},
			map[string]interface{}{"ok": true},
			map[string]interface{}{"ok": false},
		},
	}}
	got, err := filter.Filter(context.Background(), flows, inst, GatewayInfo{})
	require.NoError(t, err)
	assert.Equal(t, []string{"f"}, ids(got))
	assert.Len(t, eval.calls, 2, "evaluation stops at the first passing scope")

	inst.Data["rows"] = []interface{}{map[string]interface{}{"ok": false}}
	got, err = filter.Filter(context.Background(), flows, inst, GatewayInfo{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestConditionFilter_ZeroScopesEvaluatesOnce(t *testing.T) {
	flows := []types.SequenceFlow{{ID: "f", Condition: "x"}}
	eval := &recordingEvaluator{answer: func(string, rules.Scope) bool { return true }}
	filter := NewConditionFilter(eval, RowScopes("rows"))

	got, err := filter.Filter(context.Background(), flows, &types.Instance{}, GatewayInfo{Action: "pay"})
	require.NoError(t, err)
	assert.Equal(t, []string{"f"}, ids(got))
	require.Len(t, eval.calls, 1)
	assert.Equal(t, rules.Scope{ActionVariable: "pay"}, eval.calls[0])
}

func TestConditionFilter_EvaluatorError(t *testing.T) {
	flows := []types.SequenceFlow{{ID: "f", Condition: "amount + 1"}}
	filter := NewConditionFilter(rules.NewExprEvaluator(), nil)

	_, err := filter.Filter(context.Background(), flows, &types.Instance{Data: map[string]interface{}{"amount": 1}}, GatewayInfo{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence flow f")
}

func TestRowScopes(t *testing.T) {
	scopes, err := RowScopes("rows")(context.Background(), &types.Instance{Data: map[string]interface{}{
		"top":  1,
		"rows": []map[string]interface{}{{"v": 1}, {"v": 2, "top": 9}},
	}})
	require.NoError(t, err)
	require.Len(t, scopes, 2)
	assert.Equal(t, rules.Scope{"top": 1, "v": 1, "rows": []map[string]interface{}{{"v": 1}, {"v": 2, "top": 9}}}, scopes[0])
	assert.Equal(t, 9, scopes[1]["top"])

	_, err = RowScopes("rows")(context.Background(), &types.Instance{Data: map[string]interface{}{"rows": 3}})
	assert.Error(t, err)

	_, err = RowScopes("rows")(context.Background(), &types.Instance{Data: map[string]interface{}{"rows": []interface{}{1}}})
	assert.Error(t, err)

	scopes, err = RowScopes("rows")(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, scopes)
}

func TestFilterFunc(t *testing.T) {
	sentinel := errors.New("x")
	f := FilterFunc(func(context.Context, []types.SequenceFlow, *types.Instance, GatewayInfo) ([]types.SequenceFlow, error) {
		return nil, sentinel
	})
	_, err := f.Filter(context.Background(), nil, nil, GatewayInfo{})
	assert.Equal(t, sentinel, err)
}
