package process

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/songzhibin97/process-engine/types"
)

var (
	// ErrInvalidDefinition is returned when a process definition fails its integrity checks.
	ErrInvalidDefinition = fmt.Errorf("%w: invalid process definition", types.ErrConfigurationIntegrity)
	// ErrGatewayCycle is returned when gateways form a loop with no task or event in between.
	ErrGatewayCycle = fmt.Errorf("%w: gateway cycle", types.ErrConfigurationIntegrity)
	// ErrElementNotFound is returned when a referenced element does not exist.
	ErrElementNotFound = errors.New("flow element not found")
)

// LoadFile reads and parses a definition from a YAML or JSON file.
func LoadFile(path string) (*types.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return Parse(data)
}

// Parse decodes a definition document, derives the incoming and outgoing
// edges of every element from the sequence flows and checks the graph.
// JSON documents are accepted as well since they are valid YAML.
func Parse(data []byte) (*types.Definition, error) {
	var def types.Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if err := Normalize(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Normalize rebuilds the element edge lists from the sequence flows and validates the result.
func Normalize(def *types.Definition) error {
	index := make(map[string]int, len(def.Elements))
	var errs error
	for i := range def.Elements {
		el := &def.Elements[i]
		if el.ID == "" {
			errs = multierr.Append(errs, fmt.Errorf("element #%d has no id", i))
			continue
		}
		if _, dup := index[el.ID]; dup {
			errs = multierr.Append(errs, fmt.Errorf("duplicate element id %q", el.ID))
			continue
		}
		index[el.ID] = i
		el.Incoming = nil
		el.Outgoing = nil
	}

	flowIDs := make(map[string]bool, len(def.SequenceFlows))
	for _, f := range def.SequenceFlows {
		if f.ID == "" {
			errs = multierr.Append(errs, fmt.Errorf("sequence flow %s->%s has no id", f.SourceRef, f.TargetRef))
			continue
		}
		if flowIDs[f.ID] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate sequence flow id %q", f.ID))
			continue
		}
		flowIDs[f.ID] = true
		src, okSrc := index[f.SourceRef]
		dst, okDst := index[f.TargetRef]
		if !okSrc {
			errs = multierr.Append(errs, fmt.Errorf("sequence flow %q: unknown source %q", f.ID, f.SourceRef))
		}
		if !okDst {
			errs = multierr.Append(errs, fmt.Errorf("sequence flow %q: unknown target %q", f.ID, f.TargetRef))
		}
		if okSrc && okDst {
			def.Elements[src].Outgoing = append(def.Elements[src].Outgoing, f.ID)
			def.Elements[dst].Incoming = append(def.Elements[dst].Incoming, f.ID)
		}
	}

	starts := 0
	for _, el := range def.Elements {
		switch el.Kind {
		case types.KindStartEvent:
			starts++
		case types.KindTask:
			if el.TaskType == "" {
				errs = multierr.Append(errs, fmt.Errorf("task %q has no task type", el.ID))
			}
		case types.KindExclusiveGateway:
			if el.DefaultFlowID != "" && !contains(el.Outgoing, el.DefaultFlowID) {
				errs = multierr.Append(errs, fmt.Errorf("gateway %q: default flow %q is not one of its outgoing flows", el.ID, el.DefaultFlowID))
			}
		case types.KindEndEvent:
		default:
			errs = multierr.Append(errs, fmt.Errorf("element %q has unknown type %q", el.ID, el.Kind))
			continue
		}
		if el.Kind != types.KindStartEvent && len(el.Incoming) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("element %q has no incoming sequence flow", el.ID))
		}
	}
	if starts == 0 {
		errs = multierr.Append(errs, errors.New("process has no start event"))
	}
	if errs != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, errs)
	}
	return checkGatewayCycles(def, index)
}

// checkGatewayCycles rejects loops that pass through gateways only, since
// resolving such a loop never reaches a task or an event.
func checkGatewayCycles(def *types.Definition, index map[string]int) error {
	targets := make(map[string]string, len(def.SequenceFlows))
	for _, f := range def.SequenceFlows {
		targets[f.ID] = f.TargetRef
	}
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int)
	var visit func(id string) error
	visit = func(id string) error {
		state[id] = visiting
		for _, flowID := range def.Elements[index[id]].Outgoing {
			next := targets[flowID]
			if !def.Elements[index[next]].IsGateway() {
				continue
			}
			switch state[next] {
			case visiting:
				return fmt.Errorf("%w: %s -> %s", ErrGatewayCycle, id, next)
			case unvisited:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		state[id] = done
		return nil
	}
	for _, el := range def.Elements {
		if el.IsGateway() && state[el.ID] == unvisited {
			if err := visit(el.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
