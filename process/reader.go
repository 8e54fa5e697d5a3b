package process

import (
	"fmt"

	"github.com/songzhibin97/process-engine/types"
)

// Reader answers read-only queries over a process definition.
// It never mutates the definition and is safe for concurrent use.
type Reader struct {
	def      *types.Definition
	elements map[string]types.FlowElement
	flows    map[string]types.SequenceFlow
}

// NewReader indexes a normalized definition.
func NewReader(def *types.Definition) (*Reader, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: definition is nil", ErrInvalidDefinition)
	}
	r := &Reader{
		def:      def,
		elements: make(map[string]types.FlowElement, len(def.Elements)),
		flows:    make(map[string]types.SequenceFlow, len(def.SequenceFlows)),
	}
	for _, el := range def.Elements {
		r.elements[el.ID] = el
	}
	for _, f := range def.SequenceFlows {
		r.flows[f.ID] = f
	}
	return r, nil
}

// Definition returns the underlying definition.
func (r *Reader) Definition() *types.Definition { return r.def }

func (r *Reader) byKind(kind types.ElementKind) []types.FlowElement {
	var out []types.FlowElement
	for _, el := range r.def.Elements {
		if el.Kind == kind {
			out = append(out, el)
		}
	}
	return out
}

func ids(elements []types.FlowElement) []string {
	out := make([]string, 0, len(elements))
	for _, el := range elements {
		out = append(out, el.ID)
	}
	return out
}

// GetStartEvents returns all start events in declaration order.
func (r *Reader) GetStartEvents() []types.FlowElement { return r.byKind(types.KindStartEvent) }

// GetStartEventIDs returns the ids of all start events.
func (r *Reader) GetStartEventIDs() []string { return ids(r.GetStartEvents()) }

// GetTasks returns all process tasks.
func (r *Reader) GetTasks() []types.FlowElement { return r.byKind(types.KindTask) }

// GetTaskIDs returns the ids of all process tasks.
func (r *Reader) GetTaskIDs() []string { return ids(r.GetTasks()) }

// GetGateways returns all exclusive gateways.
func (r *Reader) GetGateways() []types.FlowElement { return r.byKind(types.KindExclusiveGateway) }

// GetGatewayIDs returns the ids of all exclusive gateways.
func (r *Reader) GetGatewayIDs() []string { return ids(r.GetGateways()) }

// GetEndEvents returns all end events.
func (r *Reader) GetEndEvents() []types.FlowElement { return r.byKind(types.KindEndEvent) }

// GetEndEventIDs returns the ids of all end events.
func (r *Reader) GetEndEventIDs() []string { return ids(r.GetEndEvents()) }

// GetSequenceFlows returns all sequence flows in declaration order.
func (r *Reader) GetSequenceFlows() []types.SequenceFlow {
	out := make([]types.SequenceFlow, len(r.def.SequenceFlows))
	copy(out, r.def.SequenceFlows)
	return out
}

// GetSequenceFlowIDs returns the ids of all sequence flows.
func (r *Reader) GetSequenceFlowIDs() []string {
	out := make([]string, 0, len(r.def.SequenceFlows))
	for _, f := range r.def.SequenceFlows {
		out = append(out, f.ID)
	}
	return out
}

// GetFlowElement looks up an element by id.
func (r *Reader) GetFlowElement(id string) (types.FlowElement, bool) {
	el, ok := r.elements[id]
	return el, ok
}

// GetTask looks up a task by id. It reports false for other element kinds.
func (r *Reader) GetTask(id string) (types.FlowElement, bool) {
	el, ok := r.elements[id]
	if !ok || !el.IsTask() {
		return types.FlowElement{}, false
	}
	return el, true
}

// GetSequenceFlow looks up a sequence flow by id.
func (r *Reader) GetSequenceFlow(id string) (types.SequenceFlow, bool) {
	f, ok := r.flows[id]
	return f, ok
}

// IsStartEvent reports whether id names a start event.
func (r *Reader) IsStartEvent(id string) bool { return r.elements[id].IsStartEvent() }

// IsTask reports whether id names a process task.
func (r *Reader) IsTask(id string) bool { return r.elements[id].IsTask() }

// IsGateway reports whether id names an exclusive gateway.
func (r *Reader) IsGateway(id string) bool { return r.elements[id].IsGateway() }

// IsEndEvent reports whether id names an end event.
func (r *Reader) IsEndEvent(id string) bool { return r.elements[id].IsEndEvent() }

// GetOutgoingSequenceFlows returns the flows leaving an element in declaration order.
func (r *Reader) GetOutgoingSequenceFlows(id string) []types.SequenceFlow {
	var out []types.SequenceFlow
	for _, f := range r.def.SequenceFlows {
		if f.SourceRef == id {
			out = append(out, f)
		}
	}
	return out
}

// GetNextElements returns the elements reachable through the outgoing flows of currentID.
// With followGateways set, gateways are replaced by what lies behind them: only the
// default flow's target when useGatewayDefaults is set and the gateway has one,
// otherwise every outgoing target. Conditions are not evaluated.
func (r *Reader) GetNextElements(currentID string, followGateways, useGatewayDefaults bool) ([]types.FlowElement, error) {
	if _, ok := r.elements[currentID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, currentID)
	}
	return r.nextElements(currentID, followGateways, useGatewayDefaults, map[string]bool{})
}

func (r *Reader) nextElements(currentID string, followGateways, useGatewayDefaults bool, seen map[string]bool) ([]types.FlowElement, error) {
	var out []types.FlowElement
	for _, f := range r.GetOutgoingSequenceFlows(currentID) {
		target, ok := r.elements[f.TargetRef]
		if !ok {
			return nil, fmt.Errorf("%w: %s (target of %s)", ErrElementNotFound, f.TargetRef, f.ID)
		}
		if !followGateways || !target.IsGateway() {
			out = append(out, target)
			continue
		}
		if seen[target.ID] {
			return nil, fmt.Errorf("%w: %s", ErrGatewayCycle, target.ID)
		}
		seen[target.ID] = true

		if useGatewayDefaults && target.DefaultFlowID != "" {
			def, ok := r.flows[target.DefaultFlowID]
			if !ok {
				return nil, fmt.Errorf("%w: default flow %s", ErrElementNotFound, target.DefaultFlowID)
			}
			defTarget, ok := r.elements[def.TargetRef]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrElementNotFound, def.TargetRef)
			}
			if !defTarget.IsGateway() {
				out = append(out, defTarget)
			} else {
				if seen[defTarget.ID] {
					return nil, fmt.Errorf("%w: %s", ErrGatewayCycle, defTarget.ID)
				}
				seen[defTarget.ID] = true
				next, err := r.nextElements(defTarget.ID, followGateways, useGatewayDefaults, seen)
				if err != nil {
					return nil, err
				}
				out = append(out, next...)
				delete(seen, defTarget.ID)
			}
			delete(seen, target.ID)
			continue
		}

		next, err := r.nextElements(target.ID, followGateways, useGatewayDefaults, seen)
		if err != nil {
			return nil, err
		}
		out = append(out, next...)
		delete(seen, target.ID)
	}
	return out, nil
}

// GetSequenceFlowsBetween returns the flows of the first path found from currentID to
// nextElementID, descending through gateways only. The path is not necessarily the
// shortest. An empty result means no such path exists.
func (r *Reader) GetSequenceFlowsBetween(currentID, nextElementID string) []types.SequenceFlow {
	return r.flowsBetween(currentID, nextElementID, map[string]bool{})
}

func (r *Reader) flowsBetween(currentID, nextElementID string, seen map[string]bool) []types.SequenceFlow {
	for _, f := range r.GetOutgoingSequenceFlows(currentID) {
		if f.TargetRef == nextElementID {
			return []types.SequenceFlow{f}
		}
		target, ok := r.elements[f.TargetRef]
		if !ok || !target.IsGateway() || seen[target.ID] {
			continue
		}
		seen[target.ID] = true
		if rest := r.flowsBetween(target.ID, nextElementID, seen); len(rest) > 0 {
			return append([]types.SequenceFlow{f}, rest...)
		}
	}
	return nil
}
