package auth

import (
	"context"

	"go.uber.org/zap"

	"github.com/songzhibin97/process-engine/types"
)

// Process actions.
const (
	ActionWrite   = "write"
	ActionPay     = "pay"
	ActionConfirm = "confirm"
	ActionSign    = "sign"
	ActionReject  = "reject"
)

// Request is a single authorization question.
type Request struct {
	AppID           string
	InstanceID      string
	InstanceOwnerID string
	TaskID          string
	Action          string
	Principal       Authenticated
}

// Client answers authorization questions, usually by calling a policy decision point.
type Client interface {
	Authorize(ctx context.Context, req Request) (bool, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (bool, error)

// Authorize implements Client.
func (f ClientFunc) Authorize(ctx context.Context, req Request) (bool, error) {
	return f(ctx, req)
}

// ActionsForTaskType returns the actions that allow moving a task of the given
// type forward when the caller names no action.
func ActionsForTaskType(taskType string) []string {
	switch taskType {
	case "payment":
		return []string{ActionPay, ActionWrite}
	case "confirmation":
		return []string{ActionConfirm}
	case "signing":
		return []string{ActionSign, ActionWrite}
	default:
		return []string{ActionWrite}
	}
}

// ProcessEngineAuthorizer decides whether a principal may move an instance forward.
type ProcessEngineAuthorizer struct {
	client Client
	logger *zap.Logger
}

// NewProcessEngineAuthorizer creates an authorizer backed by client.
func NewProcessEngineAuthorizer(client Client, logger *zap.Logger) *ProcessEngineAuthorizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessEngineAuthorizer{client: client, logger: logger}
}

// Authorize checks action against the instance's current task. Without an action
// the caller needs at least one of the task type's default actions. An instance
// without a current task is never authorized.
func (a *ProcessEngineAuthorizer) Authorize(ctx context.Context, instance *types.Instance, principal Authenticated, action string) (bool, error) {
	if instance == nil || instance.Process == nil || instance.Process.CurrentTask == nil {
		id := ""
		if instance != nil {
			id = instance.ID
		}
		a.logger.Warn("authorization denied, instance has no current task", zap.String("instance_id", id))
		return false, nil
	}
	task := instance.Process.CurrentTask
	req := Request{
		AppID:           instance.AppID,
		InstanceID:      instance.ID,
		InstanceOwnerID: instance.InstanceOwnerID,
		TaskID:          task.ElementID,
		Principal:       principal,
	}

	if action != "" {
		req.Action = action
		return a.client.Authorize(ctx, req)
	}

	for _, candidate := range ActionsForTaskType(task.TaskType) {
		req.Action = candidate
		ok, err := a.client.Authorize(ctx, req)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	a.logger.Debug("no default action authorized",
		zap.String("instance_id", instance.ID),
		zap.String("task_type", task.TaskType))
	return false, nil
}
