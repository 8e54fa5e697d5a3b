package backend

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Default polling schedule.
const (
	DefaultInitialDelay = 100 * time.Millisecond
	DefaultMaxDelay     = 2 * time.Second
	DefaultTimeout      = 100 * time.Second
)

// Waiter polls a Backend with exponential backoff until a job settles.
type Waiter struct {
	backend      Backend
	initialDelay time.Duration
	maxDelay     time.Duration
	timeout      time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	logger       *zap.Logger
}

// WaiterOption configures a Waiter.
type WaiterOption func(*Waiter)

// WithDelays overrides the backoff schedule. Non-positive values keep the defaults.
func WithDelays(initial, max, timeout time.Duration) WaiterOption {
	return func(w *Waiter) {
		if initial > 0 {
			w.initialDelay = initial
		}
		if max > 0 {
			w.maxDelay = max
		}
		if timeout > 0 {
			w.timeout = timeout
		}
	}
}

// WithSleep replaces the function used to wait between polls.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) WaiterOption {
	return func(w *Waiter) {
		w.sleep = sleep
	}
}

// WithWaiterLogger sets the logger.
func WithWaiterLogger(logger *zap.Logger) WaiterOption {
	return func(w *Waiter) {
		w.logger = logger
	}
}

// NewWaiter creates a Waiter using the default schedule of 100ms doubling up to 2s, for at most 100s.
func NewWaiter(b Backend, opts ...WaiterOption) *Waiter {
	w := &Waiter{
		backend:      b,
		initialDelay: DefaultInitialDelay,
		maxDelay:     DefaultMaxDelay,
		timeout:      DefaultTimeout,
		sleep:        sleepContext,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w
}

// Wait blocks until the latest job of the instance completes.
// A missing job counts as completed. Canceled and failed jobs return ErrBackendFailure,
// and exhausting the timeout returns ErrBackendTimeout.
func (w *Waiter) Wait(ctx context.Context, instanceID string) error {
	delay := w.initialDelay
	var waited time.Duration
	for {
		job, err := w.backend.GetJobStatus(ctx, instanceID)
		if err != nil {
			return fmt.Errorf("%w: get job status: %v", ErrBackendFailure, err)
		}
		if job == nil || job.Status == StatusCompleted {
			return nil
		}
		switch job.Status {
		case StatusCanceled, StatusFailed:
			w.logger.Error("backend job did not complete",
				zap.String("instance_id", instanceID),
				zap.String("job_id", job.ID),
				zap.String("status", string(job.Status)),
				zap.String("error", job.Error))
			return fmt.Errorf("%w: job %s is %s: %s", ErrBackendFailure, job.ID, job.Status, job.Error)
		}

		if waited >= w.timeout {
			return fmt.Errorf("%w: job %s still %s after %s", ErrBackendTimeout, job.ID, job.Status, waited)
		}
		w.logger.Debug("waiting for backend job",
			zap.String("instance_id", instanceID),
			zap.String("status", string(job.Status)),
			zap.Duration("delay", delay))
		if err := w.sleep(ctx, delay); err != nil {
			return err
		}
		waited += delay
		delay *= 2
		if delay > w.maxDelay {
			delay = w.maxDelay
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
