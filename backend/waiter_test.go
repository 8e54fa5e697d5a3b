package backend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/process-engine/types"
)

// scriptedBackend returns the scripted statuses in order and repeats the last one.
type scriptedBackend struct {
	mu       sync.Mutex
	statuses []JobStatus
	err      error
	calls    int
}

func (b *scriptedBackend) DispatchTransition(context.Context, *types.Instance, *types.ProcessStateChange) error {
	return nil
}

func (b *scriptedBackend) GetJobStatus(_ context.Context, instanceID string) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	if len(b.statuses) == 0 {
		return nil, nil
	}
	i := b.calls - 1
	if i >= len(b.statuses) {
		i = len(b.statuses) - 1
	}
	return &Job{ID: "job-1", InstanceID: instanceID, Status: b.statuses[i]}, nil
}

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func (r *sleepRecorder) total() time.Duration {
	var sum time.Duration
	for _, d := range r.delays {
		sum += d
	}
	return sum
}

func TestWaiter(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []JobStatus
		wantErr   error
		wantSleep []time.Duration
	}{
		{
			name:     "NoJobCountsAsCompleted",
			statuses: nil,
		},
		{
			name:     "CompletedImmediately",
			statuses: []JobStatus{StatusCompleted},
		},
		{
			name:      "CompletedAfterPolling",
			statuses:  []JobStatus{StatusEnqueued, StatusProcessing, StatusRequeued, StatusProcessing, StatusCompleted},
			wantSleep: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond},
		},
		{
			name:      "Failed",
			statuses:  []JobStatus{StatusProcessing, StatusFailed},
			wantErr:   ErrBackendFailure,
			wantSleep: []time.Duration{100 * time.Millisecond},
		},
		{
			name:     "Canceled",
			statuses: []JobStatus{StatusCanceled},
			wantErr:  ErrBackendFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &sleepRecorder{}
			w := NewWaiter(&scriptedBackend{statuses: tt.statuses}, WithSleep(rec.sleep))

			err := w.Wait(context.Background(), "inst-1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantSleep, rec.delays)
		})
	}
}

func TestWaiterBackoffSchedule(t *testing.T) {
	rec := &sleepRecorder{}
	b := &scriptedBackend{statuses: []JobStatus{StatusProcessing}}
	w := NewWaiter(b, WithSleep(rec.sleep))

	err := w.Wait(context.Background(), "inst-1")
	require.ErrorIs(t, err, ErrBackendTimeout)

	require.GreaterOrEqual(t, len(rec.delays), 6)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
		2000 * time.Millisecond,
	}, rec.delays[:6])
	for _, d := range rec.delays[5:] {
		assert.Equal(t, 2*time.Second, d)
	}

	last := rec.delays[len(rec.delays)-1]
	assert.GreaterOrEqual(t, rec.total(), DefaultTimeout)
	assert.Less(t, rec.total()-last, DefaultTimeout)
	assert.Equal(t, len(rec.delays)+1, b.calls)
}

func TestWaiterStatusError(t *testing.T) {
	w := NewWaiter(&scriptedBackend{err: errors.New("connection refused")}, WithSleep((&sleepRecorder{}).sleep))
	err := w.Wait(context.Background(), "inst-1")
	assert.ErrorIs(t, err, ErrBackendFailure)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWaiterContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewWaiter(&scriptedBackend{statuses: []JobStatus{StatusProcessing}})
	err := w.Wait(ctx, "inst-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaiterCustomDelays(t *testing.T) {
	rec := &sleepRecorder{}
	w := NewWaiter(&scriptedBackend{statuses: []JobStatus{StatusProcessing}},
		WithSleep(rec.sleep),
		WithDelays(time.Millisecond, 4*time.Millisecond, 10*time.Millisecond))

	err := w.Wait(context.Background(), "inst-1")
	assert.ErrorIs(t, err, ErrBackendTimeout)
	assert.Equal(t, []time.Duration{
		time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond,
	}, rec.delays)
}
