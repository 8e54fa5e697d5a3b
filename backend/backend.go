package backend

import (
	"context"
	"errors"
	"time"

	"github.com/songzhibin97/process-engine/types"
)

var (
	// ErrBackendFailure indicates the backend reported a canceled or failed job.
	ErrBackendFailure = errors.New("backend failed to process transition")
	// ErrBackendTimeout indicates the job did not finish within the polling budget.
	ErrBackendTimeout = errors.New("timed out waiting for backend")
	// ErrJobInFlight indicates a transition for the instance is still being processed.
	ErrJobInFlight = errors.New("transition already in flight for instance")
	// ErrStaleTransition indicates the change was computed from a state that is no longer stored.
	ErrStaleTransition = errors.New("transition computed from a stale process state")
)

// JobStatus is the state of a dispatched transition.
type JobStatus string

const (
	StatusEnqueued   JobStatus = "Enqueued"
	StatusProcessing JobStatus = "Processing"
	StatusRequeued   JobStatus = "Requeued"
	StatusCompleted  JobStatus = "Completed"
	StatusCanceled   JobStatus = "Canceled"
	StatusFailed     JobStatus = "Failed"
)

// Pending reports whether the job may still change status.
func (s JobStatus) Pending() bool {
	switch s {
	case StatusEnqueued, StatusProcessing, StatusRequeued:
		return true
	}
	return false
}

// Job is the backend's record of a dispatched transition.
type Job struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	Status     JobStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	Created    time.Time `json:"created"`
	Updated    time.Time `json:"updated"`
}

// Backend durably executes process state changes.
type Backend interface {
	// DispatchTransition hands the change and its events over for execution.
	DispatchTransition(ctx context.Context, instance *types.Instance, change *types.ProcessStateChange) error

	// GetJobStatus returns the latest job of an instance, or nil when there is none.
	GetJobStatus(ctx context.Context, instanceID string) (*Job, error)
}
