package types

import "time"

// Instance event types.
const (
	EventProcessStartEvent = "process_StartEvent"
	EventProcessStartTask  = "process_StartTask"
	EventProcessEndTask    = "process_EndTask"
	EventProcessAbandon    = "process_AbandonTask"
	EventProcessEndEvent   = "process_EndEvent"
	EventSubmitted         = "Submitted"
)

// PlatformUser is the acting principal recorded on an event.
// Which fields are populated depends on the principal kind.
type PlatformUser struct {
	UserID                 int    `json:"user_id,omitempty"`
	OrgID                  string `json:"org_id,omitempty"`
	SystemUserID           string `json:"system_user_id,omitempty"`
	SystemUserOwnerOrgNo   string `json:"system_user_owner_org_no,omitempty"`
	AuthenticationLevel    int    `json:"authentication_level"`
	NationalIdentityNumber string `json:"national_identity_number,omitempty"`
}

// InstanceEvent is an append-only audit record. It is never mutated after creation.
type InstanceEvent struct {
	ID              uint64        `json:"id"`
	InstanceID      string        `json:"instance_id"`
	InstanceOwnerID string        `json:"instance_owner_id"`
	EventType       string        `json:"event_type"`
	Created         time.Time     `json:"created"`
	User            PlatformUser  `json:"user"`
	ProcessInfo     *ProcessState `json:"process_info,omitempty"`
}

// ProcessStateChange is the outcome of a transition: the state before and after,
// plus the events generated in order.
type ProcessStateChange struct {
	OldProcessState *ProcessState   `json:"old_process_state,omitempty"`
	NewProcessState *ProcessState   `json:"new_process_state,omitempty"`
	Events          []InstanceEvent `json:"events"`
}
