package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/songzhibin97/process-engine/storage"
	"github.com/songzhibin97/process-engine/types"
)

// EventHandler receives the events of a transition before it is committed.
// events.Delegator satisfies it.
type EventHandler interface {
	HandleEvents(ctx context.Context, instance *types.Instance, events []types.InstanceEvent) error
}

// Local is an in-process Backend. Each dispatched transition runs in its own goroutine:
// the event handler runs first, then the events are appended and the instance is saved.
type Local struct {
	store   storage.Storage
	events  storage.EventStore
	handler EventHandler
	logger  *zap.Logger
	now     func() time.Time

	mu   sync.Mutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

var _ Backend = (*Local)(nil)

// LocalOption configures a Local backend.
type LocalOption func(*Local)

// WithEventHandler sets the handler run for every transition.
func WithEventHandler(handler EventHandler) LocalOption {
	return func(l *Local) {
		l.handler = handler
	}
}

// WithLocalLogger sets the logger.
func WithLocalLogger(logger *zap.Logger) LocalOption {
	return func(l *Local) {
		l.logger = logger
	}
}

// NewLocal creates a Local backend persisting into the given stores.
func NewLocal(store storage.Storage, eventStore storage.EventStore, opts ...LocalOption) (*Local, error) {
	if store == nil || eventStore == nil {
		return nil, errors.New("instance store and event store are required")
	}
	l := &Local{
		store:  store,
		events: eventStore,
		logger: zap.NewNop(),
		now:    time.Now,
		jobs:   make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	return l, nil
}

// DispatchTransition enqueues the change. It fails with ErrJobInFlight while an
// earlier transition of the same instance has not settled, and with
// ErrStaleTransition when the change does not start from the stored state.
func (l *Local) DispatchTransition(ctx context.Context, instance *types.Instance, change *types.ProcessStateChange) error {
	if instance == nil || change == nil {
		return errors.New("instance and change are required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	if job, ok := l.jobs[instance.ID]; ok && job.Status.Pending() {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s (job %s)", ErrJobInFlight, instance.ID, job.ID)
	}
	if err := l.checkCurrent(ctx, instance.ID, change.OldProcessState); err != nil {
		l.mu.Unlock()
		return err
	}
	now := l.now()
	job := &Job{
		ID:         uuid.NewString(),
		InstanceID: instance.ID,
		Status:     StatusEnqueued,
		Created:    now,
		Updated:    now,
	}
	l.jobs[instance.ID] = job
	l.mu.Unlock()

	target := instance.Clone()
	target.Process = change.NewProcessState.Clone()
	events := make([]types.InstanceEvent, len(change.Events))
	copy(events, change.Events)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(context.WithoutCancel(ctx), job.ID, target, events)
	}()
	return nil
}

// checkCurrent compares the stored position of the instance with the one the
// change was computed from. An instance that was never stored has no process.
func (l *Local) checkCurrent(ctx context.Context, instanceID string, old *types.ProcessState) error {
	var stored *types.ProcessState
	inst, err := l.store.GetInstance(ctx, instanceID)
	switch {
	case errors.Is(err, storage.ErrInstanceNotFound):
	case err != nil:
		return fmt.Errorf("failed to load instance %s: %w", instanceID, err)
	default:
		stored = inst.Process
	}
	if !samePosition(stored, old) {
		return fmt.Errorf("%w: %s is at %s, change starts at %s",
			ErrStaleTransition, instanceID, position(stored), position(old))
	}
	return nil
}

func samePosition(a, b *types.ProcessState) bool {
	if a == nil || b == nil {
		return a == b
	}
	if (a.Ended == nil) != (b.Ended == nil) {
		return false
	}
	if a.CurrentTask == nil || b.CurrentTask == nil {
		return a.CurrentTask == b.CurrentTask
	}
	return a.CurrentTask.ElementID == b.CurrentTask.ElementID && a.CurrentTask.Flow == b.CurrentTask.Flow
}

func position(state *types.ProcessState) string {
	switch {
	case state == nil:
		return "not started"
	case state.Ended != nil:
		return "ended"
	case state.CurrentTask == nil:
		return "no current task"
	}
	return fmt.Sprintf("%s (flow %d)", state.CurrentTask.ElementID, state.CurrentTask.Flow)
}

func (l *Local) run(ctx context.Context, jobID string, instance *types.Instance, events []types.InstanceEvent) {
	l.setStatus(instance.ID, jobID, StatusProcessing, "")

	if err := l.commit(ctx, instance, events); err != nil {
		l.logger.Error("transition failed",
			zap.String("instance_id", instance.ID),
			zap.String("job_id", jobID),
			zap.Error(err))
		l.setStatus(instance.ID, jobID, StatusFailed, err.Error())
		return
	}
	l.setStatus(instance.ID, jobID, StatusCompleted, "")
}

func (l *Local) commit(ctx context.Context, instance *types.Instance, events []types.InstanceEvent) error {
	if l.handler != nil {
		if err := l.handler.HandleEvents(ctx, instance, events); err != nil {
			return fmt.Errorf("failed to handle events: %w", err)
		}
	}
	if err := l.events.AppendEvents(ctx, events); err != nil {
		return fmt.Errorf("failed to append events: %w", err)
	}
	instance.UpdatedAt = l.now().UnixMilli()
	if err := l.store.SaveInstance(ctx, *instance); err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}
	return nil
}

func (l *Local) setStatus(instanceID, jobID string, status JobStatus, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[instanceID]
	if !ok || job.ID != jobID {
		return
	}
	job.Status = status
	job.Error = msg
	job.Updated = l.now()
}

// GetJobStatus returns a copy of the latest job of the instance.
func (l *Local) GetJobStatus(ctx context.Context, instanceID string) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[instanceID]
	if !ok {
		return nil, nil
	}
	c := *job
	return &c, nil
}

// Stop waits for all running transitions to finish.
func (l *Local) Stop() {
	l.wg.Wait()
}
