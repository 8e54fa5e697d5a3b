package gateway

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/songzhibin97/process-engine/process"
	"github.com/songzhibin97/process-engine/registry"
	"github.com/songzhibin97/process-engine/types"
)

// NewFilterRegistry creates an empty registry of filters keyed by gateway id.
func NewFilterRegistry() *registry.Registry[FilterPlugin] {
	return registry.New[FilterPlugin]("gateway filter")
}

// Resolver expands gateways into the tasks and events that lie behind them.
type Resolver struct {
	reader  *process.Reader
	filters *registry.Registry[FilterPlugin]
}

// NewResolver creates a Resolver. filters may be nil, in which case no gateway is filtered.
func NewResolver(reader *process.Reader, filters *registry.Registry[FilterPlugin]) *Resolver {
	return &Resolver{reader: reader, filters: filters}
}

// Resolve replaces every gateway in direct by the non-gateway elements it leads to.
// A gateway whose default flow survives filtering resolves to that flow's target
// only; otherwise every allowed flow is followed. A gateway with no allowed flow
// contributes nothing. Filter errors are returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, instance *types.Instance, direct []types.FlowElement, info GatewayInfo) ([]types.FlowElement, error) {
	var out []types.FlowElement
	for _, el := range direct {
		resolved, err := r.resolve(ctx, instance, el, info, map[string]bool{})
		if err != nil {
			return nil, err
		}
		out = append(out, resolved...)
	}
	return out, nil
}

func (r *Resolver) resolve(ctx context.Context, instance *types.Instance, el types.FlowElement, info GatewayInfo, seen map[string]bool) ([]types.FlowElement, error) {
	if !el.IsGateway() {
		return []types.FlowElement{el}, nil
	}
	if seen[el.ID] {
		return nil, fmt.Errorf("%w: %s", process.ErrGatewayCycle, el.ID)
	}
	seen[el.ID] = true
	defer delete(seen, el.ID)

	allowed := r.reader.GetOutgoingSequenceFlows(el.ID)
	if filter, ok := r.filters.Lookup(el.ID); ok {
		var err error
		allowed, err = filter.Filter(ctx, allowed, instance, info)
		if err != nil {
			return nil, err
		}
	}

	if el.DefaultFlowID != "" {
		for _, f := range allowed {
			if f.ID == el.DefaultFlowID {
				allowed = []types.SequenceFlow{f}
				break
			}
		}
	}

	var out []types.FlowElement
	for _, f := range allowed {
		target, ok := r.reader.GetFlowElement(f.TargetRef)
		if !ok {
			return nil, fmt.Errorf("%w: %s (target of %s)", process.ErrElementNotFound, f.TargetRef, f.ID)
		}
		resolved, err := r.resolve(ctx, instance, target, info, seen)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved...)
	}
	return out, nil
}

// ValidateFilters reports every registered filter whose key is not a gateway of
// the graph, and every gateway with conditional outgoing flows that has no filter.
func ValidateFilters(reader *process.Reader, filters *registry.Registry[FilterPlugin]) error {
	var errs error
	for _, id := range filters.Keys() {
		if !reader.IsGateway(id) {
			errs = multierr.Append(errs, fmt.Errorf("%w: gateway filter registered for %q, which is not a gateway", types.ErrConfigurationIntegrity, id))
		}
	}
	for _, gw := range reader.GetGateways() {
		if _, ok := filters.Lookup(gw.ID); ok {
			continue
		}
		for _, f := range reader.GetOutgoingSequenceFlows(gw.ID) {
			if f.Condition != "" {
				errs = multierr.Append(errs, fmt.Errorf("%w: gateway %q has conditional flows but no filter", types.ErrConfigurationIntegrity, gw.ID))
				break
			}
		}
	}
	return errs
}
