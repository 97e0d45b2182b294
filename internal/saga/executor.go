package saga

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"
)

// RetryPolicy controls retry behavior for saga steps.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// DefaultRetryPolicy is tuned for flaky external calls: five attempts with
// exponential backoff from 1s, capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       5,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        10 * time.Second,
	}
}

// Backoff returns the delay scheduled after the given failed attempt
// (1-based). The delay grows by the multiplier per retry and never exceeds
// MaxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.InitialBackoff <= 0 || attempt < 1 {
		return 0
	}
	mult := p.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	delay := time.Duration(float64(p.InitialBackoff) * math.Pow(mult, float64(attempt-1)))
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		delay = p.MaxBackoff
	}
	return delay
}

// StepDescriptor names one externally-effecting step and bounds its execution.
type StepDescriptor struct {
	Name    string
	Timeout time.Duration
	Retry   RetryPolicy
}

// StepFailure reports a step that exhausted its retry policy. It wraps the
// last attempt's error.
type StepFailure struct {
	Step     string
	Attempts int
	Err      error
}

func (f *StepFailure) Error() string {
	return fmt.Sprintf("step %s failed after %d attempts: %v", f.Step, f.Attempts, f.Err)
}

func (f *StepFailure) Unwrap() error { return f.Err }

// Executor runs steps under a per-attempt timeout and the step's retry
// policy. A timed-out attempt counts as a failed attempt; the in-flight
// operation is cancelled through its context and abandoned.
type Executor struct {
	logf    func(format string, args ...any)
	sleep   func(context.Context, time.Duration) error
	observe func(step string, attempt int, elapsed time.Duration, err error)
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogf sets the attempt-failure logger.
func WithExecutorLogf(logf func(format string, args ...any)) ExecutorOption {
	return func(e *Executor) { e.logf = logf }
}

// WithExecutorSleep replaces the backoff sleep, for tests.
func WithExecutorSleep(sleep func(context.Context, time.Duration) error) ExecutorOption {
	return func(e *Executor) { e.sleep = sleep }
}

// WithStepObserver registers a callback invoked after every attempt,
// including retried ones, so no failure is silently swallowed.
func WithStepObserver(observe func(step string, attempt int, elapsed time.Duration, err error)) ExecutorOption {
	return func(e *Executor) { e.observe = observe }
}

// NewExecutor constructs an Executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		logf:  log.Printf,
		sleep: sleepWithContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the operation until it succeeds, the retry policy is
// exhausted, or ctx ends. On exhaustion it returns a *StepFailure carrying
// the last error. Results are captured by the caller's closure.
func (e *Executor) Execute(ctx context.Context, step StepDescriptor, op func(context.Context) error) error {
	attempts := step.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		err := e.runAttempt(ctx, step, op)
		if e.observe != nil {
			e.observe(step.Name, attempt, time.Since(start), err)
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		e.logf("step %s attempt %d/%d failed: %v", step.Name, attempt, attempts, err)

		if attempt == attempts {
			break
		}
		if delay := step.Retry.Backoff(attempt); delay > 0 {
			if err := e.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}

	return &StepFailure{Step: step.Name, Attempts: attempts, Err: lastErr}
}

// runAttempt invokes op once, enforcing the step timeout. The operation runs
// on its own goroutine so a stalled call cannot hold up the driver past the
// deadline; it must honor ctx to release its resources.
func (e *Executor) runAttempt(ctx context.Context, step StepDescriptor, op func(context.Context) error) error {
	attemptCtx := ctx
	cancel := func() {}
	if step.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, step.Timeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(attemptCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		return attemptCtx.Err()
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
