package events

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/songzhibin97/process-engine/registry"
	"github.com/songzhibin97/process-engine/types"
)

// TaskHook reacts to the lifecycle of tasks of a single task type.
type TaskHook interface {
	// Type is the task type label the hook serves.
	Type() string
	Start(ctx context.Context, taskID string, instance *types.Instance) error
	End(ctx context.Context, taskID string, instance *types.Instance) error
	Abandon(ctx context.Context, taskID string, instance *types.Instance) error
}

// EndEventHook runs when a process reaches an end event.
type EndEventHook interface {
	OnEndEvent(ctx context.Context, endEventID string, instance *types.Instance) error
}

// NopTaskHook is a TaskHook that does nothing. It can be embedded to implement a subset of the hooks.
type NopTaskHook struct {
	TaskType string
}

func (h NopTaskHook) Type() string                                         { return h.TaskType }
func (NopTaskHook) Start(context.Context, string, *types.Instance) error   { return nil }
func (NopTaskHook) End(context.Context, string, *types.Instance) error     { return nil }
func (NopTaskHook) Abandon(context.Context, string, *types.Instance) error { return nil }

// Delegator dispatches generated instance events to the matching task and end-event hooks.
type Delegator struct {
	hooks    *registry.Registry[TaskHook]
	endHooks []EndEventHook
	logger   *zap.Logger
}

// NewDelegator creates a Delegator without hooks.
func NewDelegator(logger *zap.Logger) *Delegator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Delegator{
		hooks:  registry.New[TaskHook]("task hook"),
		logger: logger,
	}
}

// RegisterTaskHook registers a hook under its task type.
func (d *Delegator) RegisterTaskHook(hook TaskHook) error {
	if hook == nil {
		return fmt.Errorf("task hook: %w", registry.ErrInvalid)
	}
	return d.hooks.Register(hook.Type(), hook)
}

// RegisterEndEventHook adds a hook run for every end event.
func (d *Delegator) RegisterEndEventHook(hook EndEventHook) {
	d.endHooks = append(d.endHooks, hook)
}

// HandleEvents runs the hooks for each event in order and stops at the first failure.
// An event naming a task type without a registered hook is an integrity error.
func (d *Delegator) HandleEvents(ctx context.Context, instance *types.Instance, events []types.InstanceEvent) error {
	for _, event := range events {
		if err := d.handle(ctx, instance, event); err != nil {
			return fmt.Errorf("%s: %w", event.EventType, err)
		}
	}
	return nil
}

func (d *Delegator) handle(ctx context.Context, instance *types.Instance, event types.InstanceEvent) error {
	switch event.EventType {
	case types.EventProcessStartTask, types.EventProcessEndTask, types.EventProcessAbandon:
		if event.ProcessInfo == nil || event.ProcessInfo.CurrentTask == nil {
			return nil
		}
		task := event.ProcessInfo.CurrentTask
		hook, err := d.taskHook(task.TaskType)
		if err != nil || hook == nil {
			return err
		}
		d.logger.Debug("running task hook",
			zap.String("event_type", event.EventType),
			zap.String("task_id", task.ElementID),
			zap.String("task_type", task.TaskType))
		switch event.EventType {
		case types.EventProcessStartTask:
			return hook.Start(ctx, task.ElementID, instance)
		case types.EventProcessEndTask:
			return hook.End(ctx, task.ElementID, instance)
		default:
			return hook.Abandon(ctx, task.ElementID, instance)
		}
	case types.EventProcessEndEvent:
		endEvent := ""
		if event.ProcessInfo != nil {
			endEvent = event.ProcessInfo.EndEvent
		}
		for _, hook := range d.endHooks {
			if err := hook.OnEndEvent(ctx, endEvent, instance); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Delegator) taskHook(taskType string) (TaskHook, error) {
	if taskType == "" {
		return nil, nil
	}
	hook, ok := d.hooks.Lookup(taskType)
	if !ok {
		return nil, fmt.Errorf("%w: no task hook registered for task type %q", types.ErrConfigurationIntegrity, taskType)
	}
	return hook, nil
}

// ValidateTaskTypes reports every task type in tasks that has no registered hook.
func (d *Delegator) ValidateTaskTypes(tasks []types.FlowElement) error {
	var errs error
	reported := map[string]bool{}
	for _, task := range tasks {
		if task.TaskType == "" || reported[task.TaskType] {
			continue
		}
		if _, ok := d.hooks.Lookup(task.TaskType); !ok {
			reported[task.TaskType] = true
			errs = multierr.Append(errs, fmt.Errorf("%w: task %q uses task type %q, which has no task hook", types.ErrConfigurationIntegrity, task.ID, task.TaskType))
		}
	}
	return errs
}
