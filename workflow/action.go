package workflow

import (
	"context"

	"github.com/songzhibin97/process-engine/auth"
	"github.com/songzhibin97/process-engine/registry"
	"github.com/songzhibin97/process-engine/types"
)

// ActionContext is handed to a UserActionHandler.
type ActionContext struct {
	Instance  *types.Instance
	Principal auth.Authenticated
	TaskID    string
	Action    string
	Language  string
}

// UserActionHandler runs when a caller moves a task forward with a named action.
// A returned error fails the request with a BadRequest result carrying its message.
type UserActionHandler interface {
	HandleAction(ctx context.Context, actx ActionContext) error
}

// UserActionHandlerFunc adapts a function to UserActionHandler.
type UserActionHandlerFunc func(ctx context.Context, actx ActionContext) error

// HandleAction implements UserActionHandler.
func (f UserActionHandlerFunc) HandleAction(ctx context.Context, actx ActionContext) error {
	return f(ctx, actx)
}

// ServiceTaskContext is handed to a ServiceTaskHandler.
type ServiceTaskContext struct {
	Instance  *types.Instance
	Principal auth.Authenticated
	TaskID    string
	TaskType  string
}

// ServiceTaskHandler performs the work of an automated task type. Tasks whose type
// has a handler are service tasks: user actions and validation do not apply to them.
type ServiceTaskHandler interface {
	Execute(ctx context.Context, stx ServiceTaskContext) error
}

// ServiceTaskHandlerFunc adapts a function to ServiceTaskHandler.
type ServiceTaskHandlerFunc func(ctx context.Context, stx ServiceTaskContext) error

// Execute implements ServiceTaskHandler.
func (f ServiceTaskHandlerFunc) Execute(ctx context.Context, stx ServiceTaskContext) error {
	return f(ctx, stx)
}

// Validator validates the data of an instance at a task.
type Validator interface {
	ValidateTask(ctx context.Context, instance *types.Instance, taskID, language string) ([]types.ValidationIssue, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, instance *types.Instance, taskID, language string) ([]types.ValidationIssue, error)

// ValidateTask implements Validator.
func (f ValidatorFunc) ValidateTask(ctx context.Context, instance *types.Instance, taskID, language string) ([]types.ValidationIssue, error) {
	return f(ctx, instance, taskID, language)
}

// Authorizer decides whether a principal may perform action on the current task.
// auth.ProcessEngineAuthorizer implements it.
type Authorizer interface {
	Authorize(ctx context.Context, instance *types.Instance, principal auth.Authenticated, action string) (bool, error)
}

// NewUserActionRegistry creates an empty registry of handlers keyed by action name.
func NewUserActionRegistry() *registry.Registry[UserActionHandler] {
	return registry.New[UserActionHandler]("user action handler")
}

// NewServiceTaskRegistry creates an empty registry of handlers keyed by task type.
func NewServiceTaskRegistry() *registry.Registry[ServiceTaskHandler] {
	return registry.New[ServiceTaskHandler]("service task handler")
}
