package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/songzhibin97/process-engine/types"
)

func TestEventBus_Subscribe(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	handler := &mockHandler{}
	eb.Subscribe("test_event", handler)

	eb.mu.RLock()
	handlers, ok := eb.handlers["test_event"]
	eb.mu.RUnlock()

	if !ok {
		t.Fatal("Expected handlers for test_event, but none found")
	}

	if len(handlers) != 1 {
		t.Fatalf("Expected 1 handler, got %d", len(handlers))
	}
}

func TestEventBus_Publish(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	var wg sync.WaitGroup
	wg.Add(1)

	handler := &mockHandler{
		handleFunc: func(ctx context.Context, event types.InstanceEvent) error {
			defer wg.Done()
			if event.EventType != "test_event" {
				t.Errorf("Expected event type 'test_event', got '%s'", event.EventType)
			}
			if event.InstanceID != "inst-123" {
				t.Errorf("Expected instance ID inst-123, got %s", event.InstanceID)
			}
			return nil
		},
	}

	eb.Subscribe("test_event", handler)

	event := types.InstanceEvent{
		EventType:  "test_event",
		InstanceID: "inst-123",
		ProcessInfo: &types.ProcessState{
			StartEvent: "StartEvent_1",
		},
	}

	err := eb.Publish(context.Background(), event)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// Wait for the handler to be called
	waitWithTimeout(&wg, 1*time.Second)
}

func TestEventBus_PublishSync(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	handler := &mockHandler{
		handleFunc: func(ctx context.Context, event types.InstanceEvent) error {
			return errors.New("test error")
		},
	}

	eb.Subscribe("test_event", handler)

	event := types.InstanceEvent{
		EventType:  "test_event",
		InstanceID: "inst-123",
	}

	errs := eb.PublishSync(context.Background(), event)
	if len(errs) != 1 {
		t.Fatalf("Expected 1 error, got %d", len(errs))
	}

	if errs[0].Error() != "test error" {
		t.Errorf("Expected 'test error', got '%v'", errs[0])
	}
}

func TestEventBus_PublishNoHandlers(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	event := types.InstanceEvent{
		EventType:  "unknown_event",
		InstanceID: "inst-123",
	}

	err := eb.Publish(context.Background(), event)
	if err != ErrNoHandler {
		t.Fatalf("Expected ErrNoHandler, got %v", err)
	}
}

func TestEventBus_PublishAfterStop(t *testing.T) {
	eb := NewEventBus()
	eb.Stop()

	event := types.InstanceEvent{
		EventType:  "test_event",
		InstanceID: "inst-123",
	}

	err := eb.Publish(context.Background(), event)
	if err != ErrBusClosed {
		t.Fatalf("Expected ErrBusClosed, got %v", err)
	}
}

func TestEventBus_HasSubscribers(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	// Initially no subscribers
	if eb.HasSubscribers("test_event") {
		t.Fatal("HasSubscribers should return false for non-existent event type")
	}

	// Add a subscriber
	handler := &mockHandler{}
	eb.Subscribe("test_event", handler)

	if !eb.HasSubscribers("test_event") {
		t.Fatal("HasSubscribers should return true after subscription")
	}

	if eb.HasSubscribers("other_event") {
		t.Fatal("HasSubscribers should return false for other event types")
	}
}

func TestEventBus_SubscribeFunc(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	var handlerCalled bool
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(1)

	eb.SubscribeFunc("test_event", func(ctx context.Context, event types.InstanceEvent) error {
		defer wg.Done()
		mu.Lock()
		handlerCalled = true
		mu.Unlock()
		return nil
	})

	event := types.InstanceEvent{
		EventType:  "test_event",
		InstanceID: "inst-123",
	}

	err := eb.Publish(context.Background(), event)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// Wait for the handler to be called
	waitWithTimeout(&wg, 1*time.Second)

	mu.Lock()
	if !handlerCalled {
		t.Fatal("Handler function was not called")
	}
	mu.Unlock()
}

func TestEventBus_WithOptions(t *testing.T) {
	var customErrorCalled bool
	var customErrorMu sync.Mutex

	customErrorHandler := func(event types.InstanceEvent, err error) {
		customErrorMu.Lock()
		customErrorCalled = true
		customErrorMu.Unlock()
	}

	eb := NewEventBus(
		WithBufferSize(200),
		WithErrorHandler(customErrorHandler),
	)
	defer eb.Stop()

	// Test custom buffer size
	if cap(eb.eventCh) != 200 {
		t.Fatalf("Expected buffer size 200, got %d", cap(eb.eventCh))
	}

	// Test custom error handler
	var wg sync.WaitGroup
	wg.Add(1)

	eb.Subscribe("test_event", &mockHandler{
		handleFunc: func(ctx context.Context, event types.InstanceEvent) error {
			defer wg.Done()
			return errors.New("test error")
		},
	})

	event := types.InstanceEvent{
		EventType:  "test_event",
		InstanceID: "inst-123",
	}

	err := eb.Publish(context.Background(), event)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// Wait for the handler to be called
	waitWithTimeout(&wg, 1*time.Second)
	time.Sleep(100 * time.Millisecond) // Give time for error handler to be called

	customErrorMu.Lock()
	if !customErrorCalled {
		t.Fatal("Custom error handler was not called")
	}
	customErrorMu.Unlock()
}

func TestEventBus_CancelledContext(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	// First add a handler so we pass the "no handlers" check
	eb.Subscribe("test_event", &mockHandler{})

	// Now create and cancel a context
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel the context immediately

	event := types.InstanceEvent{
		EventType:  "test_event",
		InstanceID: "inst-123",
	}

	err := eb.Publish(ctx, event)
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled error, got %v", err)
	}
}

// Helper types and functions

type mockHandler struct {
	handleFunc func(ctx context.Context, event types.InstanceEvent) error
}

func (m *mockHandler) Handle(ctx context.Context, event types.InstanceEvent) error {
	if m.handleFunc != nil {
		return m.handleFunc(ctx, event)
	}
	return nil
}

func waitWithTimeout(wg *sync.WaitGroup, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(timeout):
		// Test will fail but we need to continue execution
		return
	}
}

func TestEventBus_AllEvents(t *testing.T) {
	eb := NewEventBus()
	defer eb.Stop()

	var mu sync.Mutex
	var seen []string
	var wg sync.WaitGroup
	wg.Add(2)

	eb.SubscribeFunc(AllEvents, func(ctx context.Context, event types.InstanceEvent) error {
		defer wg.Done()
		mu.Lock()
		seen = append(seen, event.EventType)
		mu.Unlock()
		return nil
	})

	if !eb.HasSubscribers(types.EventProcessStartTask) {
		t.Fatal("wildcard subscriber should count for every event type")
	}

	for _, typ := range []string{types.EventProcessStartTask, types.EventSubmitted} {
		if err := eb.Publish(context.Background(), types.InstanceEvent{EventType: typ, InstanceID: "inst-1"}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	waitWithTimeout(&wg, 1*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != types.EventProcessStartTask || seen[1] != types.EventSubmitted {
		t.Fatalf("unexpected deliveries: %v", seen)
	}
}
