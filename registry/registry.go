// Package registry holds string-keyed plugin tables that are filled at
// composition time and injected into the engine.
package registry

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

var (
	// ErrDuplicate is returned when a key is registered twice.
	ErrDuplicate = errors.New("already registered")
	// ErrInvalid is returned for an empty key or a nil value.
	ErrInvalid = errors.New("key and value are required")
)

// Registry maps string keys to plugins of type T.
type Registry[T any] struct {
	kind  string
	items map[string]T
	mu    sync.RWMutex
}

// New creates an empty registry. kind names the plugin type in error messages.
func New[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:  kind,
		items: make(map[string]T),
	}
}

// Register adds a plugin under key.
func (r *Registry[T]) Register(key string, item T) error {
	if key == "" || isNil(item) {
		return fmt.Errorf("%s: %w", r.kind, ErrInvalid)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[key]; exists {
		return fmt.Errorf("%s %q: %w", r.kind, key, ErrDuplicate)
	}
	r.items[key] = item
	return nil
}

// MustRegister is like Register but panics on error. It is meant for composition roots.
func (r *Registry[T]) MustRegister(key string, item T) {
	if err := r.Register(key, item); err != nil {
		panic(err)
	}
}

// Lookup returns the plugin registered under key.
func (r *Registry[T]) Lookup(key string) (T, bool) {
	if r == nil {
		var zero T
		return zero, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[key]
	return item, ok
}

// Keys returns the registered keys in sorted order.
func (r *Registry[T]) Keys() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.items))
	for k := range r.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered plugins.
func (r *Registry[T]) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// isNil also catches typed nil pointers, funcs and maps stored in an interface.
func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Interface, reflect.Chan, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
