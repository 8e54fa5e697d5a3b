package types

import (
	"time"

	"github.com/google/uuid"
)

// Flow types recorded on the current task.
const (
	FlowTypeCompleteCurrentMoveToNext = "CompleteCurrentMoveToNext"
	FlowTypeAbandonCurrentMoveToNext  = "AbandonCurrentMoveToNext"
)

// Instance is one in-progress execution of a process.
type Instance struct {
	ID              string                 `json:"id"`
	AppID           string                 `json:"app_id"`
	InstanceOwnerID string                 `json:"instance_owner_id"`
	Process         *ProcessState          `json:"process,omitempty"`
	Data            map[string]interface{} `json:"data,omitempty"`
	CreatedAt       int64                  `json:"created_at"`
	UpdatedAt       int64                  `json:"updated_at"`
}

// NewInstance returns an instance with a fresh identifier and no process state.
func NewInstance(appID, ownerID string, data map[string]interface{}) *Instance {
	now := time.Now().UnixMilli()
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Instance{
		ID:              uuid.NewString(),
		AppID:           appID,
		InstanceOwnerID: ownerID,
		Data:            data,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a copy whose process state can be mutated independently.
// Data values are shared.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	c := *i
	c.Process = i.Process.Clone()
	if i.Data != nil {
		c.Data = make(map[string]interface{}, len(i.Data))
		for k, v := range i.Data {
			c.Data[k] = v
		}
	}
	return &c
}

// ProcessState is the process position of an instance.
// CurrentTask is nil before start and after the process ended.
type ProcessState struct {
	Started     *time.Time          `json:"started,omitempty"`
	StartEvent  string              `json:"start_event,omitempty"`
	CurrentTask *ProcessElementInfo `json:"current_task,omitempty"`
	Ended       *time.Time          `json:"ended,omitempty"`
	EndEvent    string              `json:"end_event,omitempty"`
}

// ProcessElementInfo describes the element the process currently sits on.
type ProcessElementInfo struct {
	Flow      int        `json:"flow"`
	Started   *time.Time `json:"started,omitempty"`
	ElementID string     `json:"element_id"`
	Name      string     `json:"name,omitempty"`
	TaskType  string     `json:"task_type,omitempty"`
	FlowType  string     `json:"flow_type,omitempty"`
}

// Clone deep copies the state.
func (s *ProcessState) Clone() *ProcessState {
	if s == nil {
		return nil
	}
	c := *s
	c.Started = cloneTime(s.Started)
	c.Ended = cloneTime(s.Ended)
	if s.CurrentTask != nil {
		t := *s.CurrentTask
		t.Started = cloneTime(s.CurrentTask.Started)
		c.CurrentTask = &t
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
