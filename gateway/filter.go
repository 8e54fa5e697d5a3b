package gateway

import (
	"context"
	"fmt"

	"github.com/songzhibin97/process-engine/rules"
	"github.com/songzhibin97/process-engine/types"
)

// ActionVariable is the scope variable holding the action that triggered the transition.
const ActionVariable = "action"

// GatewayInfo carries request details a filter may take into account.
type GatewayInfo struct {
	Action string
}

// FilterPlugin narrows the outgoing flows of one gateway to those allowed
// for the instance. The result must be a subset of flows.
type FilterPlugin interface {
	Filter(ctx context.Context, flows []types.SequenceFlow, instance *types.Instance, info GatewayInfo) ([]types.SequenceFlow, error)
}

// FilterFunc adapts a function to the FilterPlugin interface.
type FilterFunc func(ctx context.Context, flows []types.SequenceFlow, instance *types.Instance, info GatewayInfo) ([]types.SequenceFlow, error)

// Filter implements FilterPlugin.
func (f FilterFunc) Filter(ctx context.Context, flows []types.SequenceFlow, instance *types.Instance, info GatewayInfo) ([]types.SequenceFlow, error) {
	return f(ctx, flows, instance, info)
}

// ScopeFunc returns the evaluation scopes of an instance, e.g. one per repeating-group row.
type ScopeFunc func(ctx context.Context, instance *types.Instance) ([]rules.Scope, error)

// InstanceScope yields the instance data as a single scope, or no scope when there is no data.
func InstanceScope(_ context.Context, instance *types.Instance) ([]rules.Scope, error) {
	if instance == nil || len(instance.Data) == 0 {
		return nil, nil
	}
	return []rules.Scope{rules.Scope(instance.Data)}, nil
}

// RowScopes yields one scope per row of the repeating group stored under field.
// Each row scope sees the top-level data with the row's values layered on top.
func RowScopes(field string) ScopeFunc {
	return func(_ context.Context, instance *types.Instance) ([]rules.Scope, error) {
		if instance == nil {
			return nil, nil
		}
		raw, ok := instance.Data[field]
		if !ok || raw == nil {
			return nil, nil
		}
		var rows []map[string]interface{}
		switch v := raw.(type) {
		case []map[string]interface{}:
			rows = v
		case []interface{}:
			for i, item := range v {
				row, ok := item.(map[string]interface{})
				if !ok {
					return nil, fmt.Errorf("repeating group %q: row %d is %T, not an object", field, i, item)
				}
				rows = append(rows, row)
			}
		default:
			return nil, fmt.Errorf("repeating group %q is %T, not a list", field, raw)
		}

		scopes := make([]rules.Scope, 0, len(rows))
		for _, row := range rows {
			scope := make(rules.Scope, len(instance.Data)+len(row))
			for k, v := range instance.Data {
				scope[k] = v
			}
			for k, v := range row {
				scope[k] = v
			}
			scopes = append(scopes, scope)
		}
		return scopes, nil
	}
}

// ConditionFilter is the default filter. A flow without a condition always
// passes; a conditional flow passes when any scope evaluates it to true. With
// zero scopes the condition is evaluated once against an empty scope.
type ConditionFilter struct {
	evaluator rules.Evaluator
	scopes    ScopeFunc
}

// NewConditionFilter creates a ConditionFilter. A nil scopes function defaults to InstanceScope.
func NewConditionFilter(evaluator rules.Evaluator, scopes ScopeFunc) *ConditionFilter {
	if scopes == nil {
		scopes = InstanceScope
	}
	return &ConditionFilter{evaluator: evaluator, scopes: scopes}
}

// Filter implements FilterPlugin.
func (c *ConditionFilter) Filter(ctx context.Context, flows []types.SequenceFlow, instance *types.Instance, info GatewayInfo) ([]types.SequenceFlow, error) {
	scopes, err := c.scopes(ctx, instance)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = []rules.Scope{{}}
	}

	allowed := make([]types.SequenceFlow, 0, len(flows))
	for _, flow := range flows {
		if flow.Condition == "" {
			allowed = append(allowed, flow)
			continue
		}
		for _, scope := range scopes {
			ok, err := c.evaluator.Evaluate(flow.Condition, withAction(scope, info.Action))
			if err != nil {
				return nil, fmt.Errorf("sequence flow %s: failed to evaluate condition '%s': %w", flow.ID, flow.Condition, err)
			}
			if ok {
				allowed = append(allowed, flow)
				break
			}
		}
	}
	return allowed, nil
}

func withAction(scope rules.Scope, action string) rules.Scope {
	out := make(rules.Scope, len(scope)+1)
	for k, v := range scope {
		out[k] = v
	}
	out[ActionVariable] = action
	return out
}
