package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flowtrack/internal/flowstate"
	"flowtrack/internal/logging"
	"flowtrack/internal/services"
)

// ErrPanic marks errors recovered from a panicking step.
var ErrPanic = errors.New("operation panicked")

const cancelledDetail = "operation cancelled"

// OperationError reports a guarded step that failed and was recorded on the
// job. It unwraps to the step's own error.
type OperationError struct {
	JobID     string
	Operation string
	State     flowstate.State
	Err       error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s failed for job %s: %v", e.Operation, e.JobID, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// GuardOption configures Guard and GuardErr.
type GuardOption func(*guardOptions)

type guardOptions struct {
	propagate    bool
	failureState flowstate.State
}

// WithPropagate controls whether the wrapped function returns the error after
// recording it. The default is true.
func WithPropagate(propagate bool) GuardOption {
	return func(o *guardOptions) { o.propagate = propagate }
}

// WithFailureState selects the state the job settles in when the step fails.
// Configuration errors always settle in Error.
func WithFailureState(state flowstate.State) GuardOption {
	return func(o *guardOptions) { o.failureState = state }
}

// Guard wraps fn so that an error, panic, or cancellation is recorded on jobID
// through tracker.FailWith. Each failure is recorded once even when guarded
// steps are nested.
func Guard[T any](tracker *Tracker, jobID, operation string, fn func(context.Context) (T, error), opts ...GuardOption) func(context.Context) (T, error) {
	cfg := guardOptions{propagate: true, failureState: flowstate.StateError}
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(ctx context.Context) (result T, err error) {
		started := time.Now()
		defer func() {
			if r := recover(); r != nil {
				var zero T
				result = zero
				err = fmt.Errorf("%w: %v", ErrPanic, r)
			}
			tracker.metrics.ObserveStep(operation, time.Since(started), err)
			if err == nil {
				return
			}
			var zero T
			result = zero
			err = tracker.recordFailure(ctx, jobID, operation, cfg, err)
		}()
		return fn(ctx)
	}
}

// GuardErr is Guard for steps that return only an error.
func GuardErr(tracker *Tracker, jobID, operation string, fn func(context.Context) error, opts ...GuardOption) func(context.Context) error {
	guarded := Guard(tracker, jobID, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	return func(ctx context.Context) error {
		_, err := guarded(ctx)
		return err
	}
}

func (t *Tracker) recordFailure(ctx context.Context, jobID, operation string, cfg guardOptions, err error) error {
	var opErr *OperationError
	if errors.As(err, &opErr) && opErr.JobID == jobID {
		if !cfg.propagate {
			return nil
		}
		return err
	}

	detail := err.Error()
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		detail = cancelledDetail
	}
	state := services.FailureState(err, cfg.failureState)
	if errors.Is(err, ErrPanic) {
		t.jobLogger(ctx, jobID).Error("guarded step panicked",
			logging.Alert("step_panic"),
			logging.String("operation", operation),
			logging.Error(err),
		)
	}
	t.FailWith(context.WithoutCancel(ctx), jobID, state, detail, operation)

	if !cfg.propagate {
		return nil
	}
	return &OperationError{JobID: jobID, Operation: operation, State: state, Err: err}
}
