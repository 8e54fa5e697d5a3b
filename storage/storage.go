package storage

import (
	"context"
	"errors"

	"github.com/songzhibin97/process-engine/types"
)

// Errors
var (
	ErrInstanceNotFound = errors.New("instance not found")
)

// Storage defines the interface for persisting and retrieving process instances.
type Storage interface {
	// SaveInstance saves an instance, replacing any previous version.
	SaveInstance(ctx context.Context, inst types.Instance) error

	// GetInstance retrieves an instance by ID.
	GetInstance(ctx context.Context, id string) (types.Instance, error)
}

// EventStore is the append-only log of instance events.
type EventStore interface {
	// AppendEvents appends events in order.
	AppendEvents(ctx context.Context, events []types.InstanceEvent) error

	// ListEvents returns the events of an instance in append order.
	ListEvents(ctx context.Context, instanceID string) ([]types.InstanceEvent, error)
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}

func isEnded(inst types.Instance) bool {
	return inst.Process != nil && inst.Process.Ended != nil
}
