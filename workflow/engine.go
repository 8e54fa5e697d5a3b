package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/songzhibin97/gkit/generator"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/songzhibin97/process-engine/auth"
	"github.com/songzhibin97/process-engine/backend"
	"github.com/songzhibin97/process-engine/events"
	"github.com/songzhibin97/process-engine/gateway"
	"github.com/songzhibin97/process-engine/process"
	"github.com/songzhibin97/process-engine/registry"
	"github.com/songzhibin97/process-engine/tracing"
	"github.com/songzhibin97/process-engine/types"
)

// Standard error definitions
var (
	ErrNoNextElement        = fmt.Errorf("%w: no next element", types.ErrConfigurationIntegrity)
	ErrAmbiguousNextElement = fmt.Errorf("%w: more than one next element", types.ErrConfigurationIntegrity)
	ErrNilInstance          = errors.New("instance cannot be nil")
)

// Result messages
const (
	msgAlreadyStarted   = "Process is already started. Use next."
	msgNotStarted       = "Process is not started. Use start!"
	msgEnded            = "Process is ended."
	msgNoCurrentTask    = "Instance does not have current task information!"
	msgNoTaskType       = "Instance does not have current task type information!"
	msgUnknownStart     = "Start event %q is not a start event of the process"
	msgUnknownTask      = "Current task %q is not a task of the process"
	msgUnauthorized     = "User is not authorized to perform action %q on task %q"
	msgValidationFailed = "Validation of task %q failed"
	msgInFlight         = "A transition of this instance is still being processed"
	msgStale            = "The process state of the instance has changed. Reload the instance."
)

// StartRequest starts the process of an instance.
type StartRequest struct {
	Instance  *types.Instance
	Principal auth.Authenticated
	// StartEventID selects the start event. Empty uses the first one declared.
	StartEventID string
	// Dryrun computes the change without dispatching it or touching the instance.
	Dryrun bool
}

// NextRequest moves the process of an instance to its next element.
type NextRequest struct {
	Instance  *types.Instance
	Principal auth.Authenticated
	Action    string
	Language  string
}

// ProcessEngine moves instances through a process definition.
//
// Start and Next mutate Instance.Process only after the backend committed the
// change. Calls for the same instance must not run concurrently.
type ProcessEngine struct {
	reader       *process.Reader
	resolver     *gateway.Resolver
	generate     generator.Generator
	backend      backend.Backend
	waiter       *backend.Waiter
	authorizer   Authorizer
	validator    Validator
	userActions  *registry.Registry[UserActionHandler]
	serviceTasks *registry.Registry[ServiceTaskHandler]
	filters      *registry.Registry[gateway.FilterPlugin]
	eventBus     *events.EventBus
	syncEvents   bool
	logger       *zap.Logger
	now          func() time.Time
	waiterOpts   []backend.WaiterOption
}

// Option configures a ProcessEngine.
type Option func(*ProcessEngine)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *ProcessEngine) {
		e.logger = logger
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *ProcessEngine) {
		e.now = now
	}
}

// WithEventBus publishes every committed event on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(e *ProcessEngine) {
		e.eventBus = bus
	}
}

// WithSynchronousEvents delivers committed events to the bus subscribers before
// Start or Next returns. Subscriber errors are logged and never fail the call.
func WithSynchronousEvents() Option {
	return func(e *ProcessEngine) {
		e.syncEvents = true
	}
}

// WithValidator sets the task validator. Without one every task validates.
func WithValidator(v Validator) Option {
	return func(e *ProcessEngine) {
		e.validator = v
	}
}

// WithGatewayFilters sets the gateway filters keyed by gateway id.
func WithGatewayFilters(filters *registry.Registry[gateway.FilterPlugin]) Option {
	return func(e *ProcessEngine) {
		e.filters = filters
	}
}

// WithUserActions sets the user action handlers keyed by action name.
func WithUserActions(handlers *registry.Registry[UserActionHandler]) Option {
	return func(e *ProcessEngine) {
		e.userActions = handlers
	}
}

// WithServiceTasks sets the service task handlers keyed by task type.
func WithServiceTasks(handlers *registry.Registry[ServiceTaskHandler]) Option {
	return func(e *ProcessEngine) {
		e.serviceTasks = handlers
	}
}

// WithWaiterOptions configures how the engine polls the backend.
func WithWaiterOptions(opts ...backend.WaiterOption) Option {
	return func(e *ProcessEngine) {
		e.waiterOpts = append(e.waiterOpts, opts...)
	}
}

// NewProcessEngine creates a ProcessEngine for the process read by reader.
func NewProcessEngine(reader *process.Reader, generate generator.Generator, b backend.Backend, authorizer Authorizer, opts ...Option) (*ProcessEngine, error) {
	if reader == nil {
		return nil, errors.New("process reader is required")
	}
	if generate == nil {
		return nil, errors.New("generator is required")
	}
	if b == nil {
		return nil, errors.New("backend is required")
	}
	if authorizer == nil {
		return nil, errors.New("authorizer is required")
	}

	e := &ProcessEngine{
		reader:     reader,
		generate:   generate,
		backend:    b,
		authorizer: authorizer,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.resolver = gateway.NewResolver(reader, e.filters)
	e.waiter = backend.NewWaiter(b, append([]backend.WaiterOption{backend.WithWaiterLogger(e.logger)}, e.waiterOpts...)...)
	return e, nil
}

// ValidateRegistrations checks the composed plugins against the process graph.
// Gateway filters and conditional gateways must match, and every task type
// needs a task hook. A nil filter registry counts as empty.
func ValidateRegistrations(reader *process.Reader, filters *registry.Registry[gateway.FilterPlugin], delegator *events.Delegator) error {
	errs := gateway.ValidateFilters(reader, filters)
	if delegator != nil {
		errs = multierr.Append(errs, delegator.ValidateTaskTypes(reader.GetTasks()))
	}
	return errs
}

// Start starts the process of an instance and moves it to its first task.
func (e *ProcessEngine) Start(ctx context.Context, req StartRequest) (result types.ProcessChangeResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.Start")
	defer func() { tracing.EndSpan(span, err) }()

	inst := req.Instance
	if inst == nil {
		return types.ProcessChangeResult{}, ErrNilInstance
	}
	span.WithAttributes(map[string]string{"instance_id": inst.ID})

	if inst.Process != nil {
		return types.Failed(types.ErrorTypeConflict, msgAlreadyStarted), nil
	}

	startEventID, ok := e.startEvent(req.StartEventID)
	if !ok {
		return types.Failed(types.ErrorTypeConflict, fmt.Sprintf(msgUnknownStart, req.StartEventID)), nil
	}
	startEvent, _ := e.reader.GetFlowElement(startEventID)

	user, err := auth.ToPlatformUser(req.Principal)
	if err != nil {
		return types.ProcessChangeResult{}, fmt.Errorf("failed to resolve acting user: %w", err)
	}

	now := e.now()
	state := &types.ProcessState{
		Started:    &now,
		StartEvent: startEventID,
		CurrentTask: &types.ProcessElementInfo{
			Flow:      1,
			Started:   &now,
			ElementID: startEventID,
			Name:      startEvent.Name,
		},
	}

	startEv, err := e.newEvent(inst, types.EventProcessStartEvent, user, state, now)
	if err != nil {
		return types.ProcessChangeResult{}, err
	}
	moved, err := e.transition(ctx, inst, state, user, "", now)
	if err != nil {
		return types.ProcessChangeResult{}, err
	}
	change := &types.ProcessStateChange{
		NewProcessState: moved.NewProcessState,
		Events:          append([]types.InstanceEvent{startEv}, moved.Events...),
	}

	if req.Dryrun {
		e.logger.Debug("dry run start", zap.String("instance_id", inst.ID), zap.Int("events", len(change.Events)))
		return types.ProcessChangeResult{Success: true, ProcessStateChange: change}, nil
	}
	return e.commit(ctx, inst, change)
}

// Next moves the process of an instance from its current task to the next one.
// Expected business failures are returned as unsuccessful results; errors
// indicate integrity or backend failures.
func (e *ProcessEngine) Next(ctx context.Context, req NextRequest) (result types.ProcessChangeResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.Next")
	defer func() { tracing.EndSpan(span, err) }()

	inst := req.Instance
	if inst == nil {
		return types.ProcessChangeResult{}, ErrNilInstance
	}
	span.WithAttributes(map[string]string{"instance_id": inst.ID, "action": req.Action})

	if failed, ok := e.checkPreconditions(inst); !ok {
		return failed, nil
	}
	current := inst.Process.CurrentTask
	task, ok := e.reader.GetTask(current.ElementID)
	if !ok {
		return types.Failed(types.ErrorTypeConflict, fmt.Sprintf(msgUnknownTask, current.ElementID)), nil
	}
	logger := e.logger.With(
		zap.String("instance_id", inst.ID),
		zap.String("task_id", task.ID),
		zap.String("action", req.Action))

	allowed, err := e.authorize(ctx, inst, req)
	if err != nil {
		return types.ProcessChangeResult{}, err
	}
	if !allowed {
		logger.Info("transition not authorized")
		return types.Failed(types.ErrorTypeUnauthorized, fmt.Sprintf(msgUnauthorized, actionOrDefault(req.Action), task.ID)), nil
	}

	isReject := req.Action == auth.ActionReject
	serviceTask, isServiceTask := e.serviceTasks.Lookup(task.TaskType)

	if !isReject {
		if failed, ok := e.runTaskHook(ctx, inst, req, task, serviceTask, isServiceTask); !ok {
			logger.Info("task hook failed", zap.String("error", failed.ErrorMessage))
			return failed, nil
		}
	}

	skipValidation := (isReject && task.AllowsAction(auth.ActionReject)) || isServiceTask
	if !skipValidation {
		issues, err := e.validate(ctx, inst, task.ID, req.Language)
		if err != nil {
			return types.ProcessChangeResult{}, err
		}
		if types.HasErrors(issues) {
			logger.Info("validation failed", zap.Int("issues", len(issues)))
			failed := types.Failed(types.ErrorTypeConflict, fmt.Sprintf(msgValidationFailed, task.ID))
			failed.ValidationIssues = issues
			return failed, nil
		}
	}

	user, err := auth.ToPlatformUser(req.Principal)
	if err != nil {
		return types.ProcessChangeResult{}, fmt.Errorf("failed to resolve acting user: %w", err)
	}
	change, err := e.transition(ctx, inst, inst.Process, user, req.Action, e.now())
	if err != nil {
		return types.ProcessChangeResult{}, err
	}
	return e.commit(ctx, inst, change)
}

// checkPreconditions returns a failed result when the instance cannot move.
func (e *ProcessEngine) checkPreconditions(inst *types.Instance) (types.ProcessChangeResult, bool) {
	switch {
	case inst.Process == nil:
		return types.Failed(types.ErrorTypeConflict, msgNotStarted), false
	case inst.Process.Ended != nil:
		return types.Failed(types.ErrorTypeConflict, msgEnded), false
	case inst.Process.CurrentTask == nil:
		return types.Failed(types.ErrorTypeConflict, msgNoCurrentTask), false
	case inst.Process.CurrentTask.TaskType == "":
		return types.Failed(types.ErrorTypeConflict, msgNoTaskType), false
	}
	return types.ProcessChangeResult{}, true
}

func (e *ProcessEngine) authorize(ctx context.Context, inst *types.Instance, req NextRequest) (ok bool, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.authorize")
	defer func() { tracing.EndSpan(span, err) }()
	return e.authorizer.Authorize(ctx, inst, req.Principal, req.Action)
}

// runTaskHook runs the service task handler, or the handler of the requested action.
func (e *ProcessEngine) runTaskHook(ctx context.Context, inst *types.Instance, req NextRequest, task types.FlowElement, serviceTask ServiceTaskHandler, isServiceTask bool) (types.ProcessChangeResult, bool) {
	if isServiceTask {
		err := serviceTask.Execute(ctx, ServiceTaskContext{
			Instance:  inst,
			Principal: req.Principal,
			TaskID:    task.ID,
			TaskType:  task.TaskType,
		})
		if err != nil {
			return types.Failed(types.ErrorTypeFailure, err.Error()), false
		}
		return types.ProcessChangeResult{}, true
	}

	if req.Action == "" {
		return types.ProcessChangeResult{}, true
	}
	handler, ok := e.userActions.Lookup(req.Action)
	if !ok {
		return types.ProcessChangeResult{}, true
	}
	err := handler.HandleAction(ctx, ActionContext{
		Instance:  inst,
		Principal: req.Principal,
		TaskID:    task.ID,
		Action:    req.Action,
		Language:  req.Language,
	})
	if err != nil {
		return types.Failed(types.ErrorTypeFailure, err.Error()), false
	}
	return types.ProcessChangeResult{}, true
}

func (e *ProcessEngine) validate(ctx context.Context, inst *types.Instance, taskID, language string) (issues []types.ValidationIssue, err error) {
	if e.validator == nil {
		return nil, nil
	}
	ctx, span := tracing.StartSpan(ctx, "workflow.validate")
	defer func() { tracing.EndSpan(span, err) }()

	issues, err = e.validator.ValidateTask(ctx, inst, taskID, language)
	if err != nil {
		return nil, fmt.Errorf("failed to validate task %s: %w", taskID, err)
	}
	return issues, nil
}

// transition computes the move from the element current sits on to the next task
// or end event. current is not modified.
func (e *ProcessEngine) transition(ctx context.Context, inst *types.Instance, current *types.ProcessState, user types.PlatformUser, action string, now time.Time) (*types.ProcessStateChange, error) {
	from := current.CurrentTask
	target, err := e.nextElement(ctx, inst, from.ElementID, action)
	if err != nil {
		return nil, err
	}

	flowType := types.FlowTypeCompleteCurrentMoveToNext
	if action == auth.ActionReject {
		flowType = types.FlowTypeAbandonCurrentMoveToNext
	}

	var generated []types.InstanceEvent
	emit := func(eventType string, snapshot *types.ProcessState) error {
		ev, err := e.newEvent(inst, eventType, user, snapshot, now)
		if err != nil {
			return err
		}
		generated = append(generated, ev)
		return nil
	}

	if e.reader.IsTask(from.ElementID) {
		left := current.Clone()
		left.CurrentTask.FlowType = flowType
		eventType := types.EventProcessEndTask
		if action == auth.ActionReject {
			eventType = types.EventProcessAbandon
		}
		if err := emit(eventType, left); err != nil {
			return nil, err
		}
	}

	next := current.Clone()
	flow := from.Flow + 1
	switch {
	case target.IsEndEvent():
		next.CurrentTask = nil
		next.Ended = &now
		next.EndEvent = target.ID
		if err := emit(types.EventProcessEndEvent, next); err != nil {
			return nil, err
		}
		if err := emit(types.EventSubmitted, next); err != nil {
			return nil, err
		}
	case target.IsTask():
		next.CurrentTask = &types.ProcessElementInfo{
			Flow:      flow,
			Started:   &now,
			ElementID: target.ID,
			Name:      target.Name,
			TaskType:  target.TaskType,
			FlowType:  flowType,
		}
		if err := emit(types.EventProcessStartTask, next); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s leads to %s element %s", ErrNoNextElement, from.ElementID, target.Kind, target.ID)
	}

	return &types.ProcessStateChange{
		OldProcessState: current.Clone(),
		NewProcessState: next,
		Events:          generated,
	}, nil
}

// nextElement resolves the single task or end event following elementID.
func (e *ProcessEngine) nextElement(ctx context.Context, inst *types.Instance, elementID, action string) (types.FlowElement, error) {
	direct, err := e.reader.GetNextElements(elementID, false, false)
	if err != nil {
		return types.FlowElement{}, err
	}
	resolved, err := e.resolver.Resolve(ctx, inst, direct, gateway.GatewayInfo{Action: action})
	if err != nil {
		return types.FlowElement{}, fmt.Errorf("failed to resolve gateways after %s: %w", elementID, err)
	}
	switch len(resolved) {
	case 0:
		return types.FlowElement{}, fmt.Errorf("%w: after %s", ErrNoNextElement, elementID)
	case 1:
		return resolved[0], nil
	default:
		ids := make([]string, len(resolved))
		for i, el := range resolved {
			ids[i] = el.ID
		}
		return types.FlowElement{}, fmt.Errorf("%w: after %s: %v", ErrAmbiguousNextElement, elementID, ids)
	}
}

func (e *ProcessEngine) newEvent(inst *types.Instance, eventType string, user types.PlatformUser, snapshot *types.ProcessState, now time.Time) (types.InstanceEvent, error) {
	id, err := e.generate.NextID()
	if err != nil {
		return types.InstanceEvent{}, fmt.Errorf("failed to generate event ID: %w", err)
	}
	return types.InstanceEvent{
		ID:              id,
		InstanceID:      inst.ID,
		InstanceOwnerID: inst.InstanceOwnerID,
		EventType:       eventType,
		Created:         now,
		User:            user,
		ProcessInfo:     snapshot.Clone(),
	}, nil
}

// commit dispatches the change, waits for the backend and applies it to inst.
func (e *ProcessEngine) commit(ctx context.Context, inst *types.Instance, change *types.ProcessStateChange) (result types.ProcessChangeResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.dispatch")
	defer func() { tracing.EndSpan(span, err) }()

	if err := e.backend.DispatchTransition(ctx, inst, change); err != nil {
		switch {
		case errors.Is(err, backend.ErrJobInFlight):
			return types.Failed(types.ErrorTypeConflict, msgInFlight), nil
		case errors.Is(err, backend.ErrStaleTransition):
			return types.Failed(types.ErrorTypeConflict, msgStale), nil
		}
		return types.ProcessChangeResult{}, fmt.Errorf("failed to dispatch transition: %w", err)
	}
	if err := e.waiter.Wait(ctx, inst.ID); err != nil {
		return types.ProcessChangeResult{}, err
	}

	inst.Process = change.NewProcessState.Clone()
	inst.UpdatedAt = e.now().UnixMilli()
	e.logger.Info("process state changed",
		zap.String("instance_id", inst.ID),
		zap.String("current_task", currentTaskID(inst.Process)),
		zap.Bool("ended", inst.Process.Ended != nil),
		zap.Int("events", len(change.Events)))

	e.publish(ctx, change.Events)
	return types.ProcessChangeResult{Success: true, ProcessStateChange: change}, nil
}

func (e *ProcessEngine) publish(ctx context.Context, committed []types.InstanceEvent) {
	if e.eventBus == nil {
		return
	}
	for _, ev := range committed {
		var errs []error
		if e.syncEvents {
			errs = e.eventBus.PublishSync(ctx, ev)
		} else if err := e.eventBus.Publish(ctx, ev); err != nil {
			errs = []error{err}
		}
		for _, err := range errs {
			if errors.Is(err, events.ErrNoHandler) {
				continue
			}
			e.logger.Warn("failed to publish event",
				zap.String("instance_id", ev.InstanceID),
				zap.String("event_type", ev.EventType),
				zap.Error(err))
		}
	}
}

// startEvent returns requested when it is a start event, or the first start event when requested is empty.
func (e *ProcessEngine) startEvent(requested string) (string, bool) {
	if requested != "" {
		return requested, e.reader.IsStartEvent(requested)
	}
	ids := e.reader.GetStartEventIDs()
	if len(ids) == 0 {
		return "", false
	}
	return ids[0], true
}

func currentTaskID(state *types.ProcessState) string {
	if state == nil || state.CurrentTask == nil {
		return ""
	}
	return state.CurrentTask.ElementID
}

func actionOrDefault(action string) string {
	if action == "" {
		return auth.ActionWrite
	}
	return action
}
