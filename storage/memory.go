package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/songzhibin97/process-engine/types"
)

// MemoryStorage is an in-memory implementation of Storage and EventStore.
type MemoryStorage struct {
	instances map[string]types.Instance
	events    map[string][]types.InstanceEvent
	mu        sync.RWMutex
}

var (
	_ Storage    = (*MemoryStorage)(nil)
	_ EventStore = (*MemoryStorage)(nil)
)

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		instances: make(map[string]types.Instance),
		events:    make(map[string][]types.InstanceEvent),
	}
}

// SaveInstance saves an instance to memory. The process state is copied.
func (s *MemoryStorage) SaveInstance(ctx context.Context, inst types.Instance) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		inst.Process = inst.Process.Clone()
		s.instances[inst.ID] = inst
		return nil
	})
}

// GetInstance retrieves an instance from memory.
func (s *MemoryStorage) GetInstance(ctx context.Context, id string) (types.Instance, error) {
	return withContext(ctx, func() (types.Instance, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		inst, ok := s.instances[id]
		if !ok {
			return types.Instance{}, fmt.Errorf("%w: id=%s", ErrInstanceNotFound, id)
		}
		inst.Process = inst.Process.Clone()
		return inst, nil
	})
}

// ClearEnded removes instances whose process has ended.
func (s *MemoryStorage) ClearEnded(ctx context.Context) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		for id, inst := range s.instances {
			if isEnded(inst) {
				delete(s.instances, id)
			}
		}
		return nil
	})
}

// AppendEvents appends events to the in-memory log.
func (s *MemoryStorage) AppendEvents(ctx context.Context, events []types.InstanceEvent) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, ev := range events {
			ev.ProcessInfo = ev.ProcessInfo.Clone()
			s.events[ev.InstanceID] = append(s.events[ev.InstanceID], ev)
		}
		return nil
	})
}

// ListEvents returns a copy of the events of an instance.
func (s *MemoryStorage) ListEvents(ctx context.Context, instanceID string) ([]types.InstanceEvent, error) {
	return withContext(ctx, func() ([]types.InstanceEvent, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		stored := s.events[instanceID]
		out := make([]types.InstanceEvent, len(stored))
		copy(out, stored)
		return out, nil
	})
}
