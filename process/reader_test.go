package process

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/process-engine/types"
)

const sampleDefinition = `
id: sample
elements:
  - {id: Start, type: startEvent}
  - {id: TaskA, type: task, taskType: data}
  - {id: Gw1, type: exclusiveGateway, default: F4}
  - {id: TaskB, type: task, taskType: confirmation, actions: [confirm, reject]}
  - {id: TaskC, type: task, taskType: signing}
  - {id: Gw2, type: exclusiveGateway}
  - {id: End, type: endEvent}
sequenceFlows:
  - {id: F1, sourceRef: Start, targetRef: TaskA}
  - {id: F2, sourceRef: TaskA, targetRef: Gw1}
  - {id: F3, sourceRef: Gw1, targetRef: TaskB, condition: "amount > 100"}
  - {id: F4, sourceRef: Gw1, targetRef: Gw2}
  - {id: F5, sourceRef: Gw2, targetRef: TaskC}
  - {id: F6, sourceRef: Gw2, targetRef: End}
  - {id: F7, sourceRef: TaskB, targetRef: End}
  - {id: F8, sourceRef: TaskC, targetRef: End}
`

func newSampleReader(t *testing.T) *Reader {
	t.Helper()
	def, err := Parse([]byte(sampleDefinition))
	require.NoError(t, err)
	r, err := NewReader(def)
	require.NoError(t, err)
	return r
}

func elementIDs(elements []types.FlowElement) []string {
	out := make([]string, 0, len(elements))
	for _, el := range elements {
		out = append(out, el.ID)
	}
	return out
}

func flowIDs(flows []types.SequenceFlow) []string {
	out := make([]string, 0, len(flows))
	for _, f := range flows {
		out = append(out, f.ID)
	}
	return out
}

func TestReader_Lists(t *testing.T) {
	r := newSampleReader(t)

	assert.Equal(t, []string{"Start"}, r.GetStartEventIDs())
	assert.Equal(t, []string{"TaskA", "TaskB", "TaskC"}, r.GetTaskIDs())
	assert.Equal(t, []string{"Gw1", "Gw2"}, r.GetGatewayIDs())
	assert.Equal(t, []string{"End"}, r.GetEndEventIDs())
	assert.Equal(t, []string{"F1", "F2", "F3", "F4", "F5", "F6", "F7", "F8"}, r.GetSequenceFlowIDs())
	assert.Len(t, r.GetSequenceFlows(), 8)

	el, ok := r.GetFlowElement("TaskB")
	require.True(t, ok)
	assert.Equal(t, "confirmation", el.TaskType)
	assert.True(t, el.AllowsAction("reject"))

	_, ok = r.GetFlowElement("nope")
	assert.False(t, ok)

	task, ok := r.GetTask("TaskC")
	require.True(t, ok)
	assert.Equal(t, "signing", task.TaskType)
	_, ok = r.GetTask("Gw1")
	assert.False(t, ok)

	assert.True(t, r.IsStartEvent("Start"))
	assert.True(t, r.IsTask("TaskA"))
	assert.True(t, r.IsGateway("Gw2"))
	assert.True(t, r.IsEndEvent("End"))
	assert.False(t, r.IsTask("Gw1"))
}

func TestReader_GetNextElements(t *testing.T) {
	r := newSampleReader(t)

	tests := []struct {
		name           string
		current        string
		followGateways bool
		useDefaults    bool
		want           []string
	}{
		{name: "direct", current: "TaskA", want: []string{"Gw1"}},
		{name: "follow gateways", current: "TaskA", followGateways: true, want: []string{"TaskB", "TaskC", "End"}},
		{name: "follow gateway defaults", current: "TaskA", followGateways: true, useDefaults: true, want: []string{"TaskC", "End"}},
		{name: "defaults ignored without follow", current: "TaskA", useDefaults: true, want: []string{"Gw1"}},
		{name: "to end event", current: "TaskB", followGateways: true, want: []string{"End"}},
		{name: "end event has no successors", current: "End", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.GetNextElements(tt.current, tt.followGateways, tt.useDefaults)
			require.NoError(t, err)
			assert.Equal(t, tt.want, elementIDs(got))
		})
	}
}

func TestReader_GetNextElementsIsPure(t *testing.T) {
	r := newSampleReader(t)
	first, err := r.GetNextElements("Gw1", false, false)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := r.GetNextElements("Gw1", false, false)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestReader_GetNextElementsUnknown(t *testing.T) {
	r := newSampleReader(t)
	_, err := r.GetNextElements("missing", true, false)
	assert.True(t, errors.Is(err, ErrElementNotFound))
}

func TestReader_GetNextElementsCycleGuard(t *testing.T) {
	// Built by hand: Parse would reject the cycle.
	def := &types.Definition{
		Elements: []types.FlowElement{
			{ID: "Start", Kind: types.KindStartEvent},
			{ID: "G1", Kind: types.KindExclusiveGateway},
			{ID: "G2", Kind: types.KindExclusiveGateway},
		},
		SequenceFlows: []types.SequenceFlow{
			{ID: "a", SourceRef: "Start", TargetRef: "G1"},
			{ID: "b", SourceRef: "G1", TargetRef: "G2"},
			{ID: "c", SourceRef: "G2", TargetRef: "G1"},
		},
	}
	r, err := NewReader(def)
	require.NoError(t, err)

	_, err = r.GetNextElements("Start", true, false)
	assert.True(t, errors.Is(err, ErrGatewayCycle))
	assert.True(t, errors.Is(err, types.ErrConfigurationIntegrity))

	assert.Empty(t, r.GetSequenceFlowsBetween("Start", "End"))
}

func TestReader_GetSequenceFlowsBetween(t *testing.T) {
	r := newSampleReader(t)

	assert.Equal(t, []string{"F1"}, flowIDs(r.GetSequenceFlowsBetween("Start", "TaskA")))
	assert.Equal(t, []string{"F2", "F3"}, flowIDs(r.GetSequenceFlowsBetween("TaskA", "TaskB")))
	assert.Equal(t, []string{"F2", "F4", "F6"}, flowIDs(r.GetSequenceFlowsBetween("TaskA", "End")))
	assert.Empty(t, r.GetSequenceFlowsBetween("TaskB", "TaskC"))
	// Tasks are not traversed.
	assert.Empty(t, r.GetSequenceFlowsBetween("Start", "End"))
}

func TestNewReader_Nil(t *testing.T) {
	_, err := NewReader(nil)
	assert.True(t, errors.Is(err, ErrInvalidDefinition))
}
