package types

// ElementKind identifies the variant of a flow element.
type ElementKind string

const (
	KindStartEvent       ElementKind = "startEvent"
	KindTask             ElementKind = "task"
	KindExclusiveGateway ElementKind = "exclusiveGateway"
	KindEndEvent         ElementKind = "endEvent"
)

// Definition is the parsed, read-only flow graph of a process.
type Definition struct {
	ID            string         `json:"id" yaml:"id"`
	Name          string         `json:"name,omitempty" yaml:"name,omitempty"`
	Elements      []FlowElement  `json:"elements" yaml:"elements"`
	SequenceFlows []SequenceFlow `json:"sequenceFlows" yaml:"sequenceFlows"`
}

// FlowElement represents a node in the process graph.
// TaskType and Actions are only meaningful for tasks, DefaultFlowID only for gateways.
type FlowElement struct {
	ID            string      `json:"id" yaml:"id"`
	Name          string      `json:"name,omitempty" yaml:"name,omitempty"`
	Kind          ElementKind `json:"type" yaml:"type"`
	Incoming      []string    `json:"incoming,omitempty" yaml:"incoming,omitempty"`
	Outgoing      []string    `json:"outgoing,omitempty" yaml:"outgoing,omitempty"`
	TaskType      string      `json:"taskType,omitempty" yaml:"taskType,omitempty"`
	Actions       []string    `json:"actions,omitempty" yaml:"actions,omitempty"`
	DefaultFlowID string      `json:"default,omitempty" yaml:"default,omitempty"`
}

// IsGateway reports whether the element is an exclusive gateway.
func (e FlowElement) IsGateway() bool { return e.Kind == KindExclusiveGateway }

// IsTask reports whether the element is a process task.
func (e FlowElement) IsTask() bool { return e.Kind == KindTask }

// IsEndEvent reports whether the element is an end event.
func (e FlowElement) IsEndEvent() bool { return e.Kind == KindEndEvent }

// IsStartEvent reports whether the element is a start event.
func (e FlowElement) IsStartEvent() bool { return e.Kind == KindStartEvent }

// AllowsAction reports whether the task explicitly lists action in its configuration.
func (e FlowElement) AllowsAction(action string) bool {
	for _, a := range e.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// SequenceFlow is a directed edge between two flow elements.
// An empty Condition always passes.
type SequenceFlow struct {
	ID        string `json:"id" yaml:"id"`
	SourceRef string `json:"sourceRef" yaml:"sourceRef"`
	TargetRef string `json:"targetRef" yaml:"targetRef"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}
