package saga

import (
	"context"
	"sync"
	"time"
)

// Instance is one running or completed execution of a saga definition.
// Exactly one driver goroutine mutates stage and outcome; signals and
// queries arrive concurrently from any number of callers.
type Instance struct {
	id         string
	definition Definition
	lane       string
	mailbox    *Mailbox
	startedAt  time.Time

	// onSignal, when set, runs on the delivery path for non-terminal
	// instances. The order driver uses it to launch address-update steps
	// outside the main stage sequence. It is installed before the instance
	// is published and never changes afterwards.
	onSignal func(Signal)

	mu             sync.Mutex
	stage          Stage
	history        []Stage
	outcome        *Result
	finishedAt     time.Time
	dispatchFailed bool
	frozen         QueryResult

	done chan struct{}
}

func newInstance(id string, def Definition, lane string) *Instance {
	in := &Instance{
		id:         id,
		definition: def,
		lane:       lane,
		mailbox:    NewMailbox(),
		startedAt:  time.Now(),
		stage:      StageInitialized,
		done:       make(chan struct{}),
	}
	in.history = append(in.history, StageInitialized)
	return in
}

// ID returns the instance's stable identity.
func (in *Instance) ID() string { return in.id }

// Definition returns which saga the instance runs.
func (in *Instance) Definition() Definition { return in.definition }

// Lane returns the logical execution lane the instance was started on.
func (in *Instance) Lane() string { return in.lane }

// Mailbox returns the instance's signal mailbox.
func (in *Instance) Mailbox() *Mailbox { return in.mailbox }

// StartedAt returns when the instance was created.
func (in *Instance) StartedAt() time.Time { return in.startedAt }

// Stage returns the most recently entered stage.
func (in *Instance) Stage() Stage {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.stage
}

// History returns a copy of every stage entered, in order.
func (in *Instance) History() []Stage {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]Stage, len(in.history))
	copy(out, in.history)
	return out
}

// Terminal reports whether the instance has reached its outcome.
func (in *Instance) Terminal() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.outcome != nil
}

// Outcome returns the terminal result, if set.
func (in *Instance) Outcome() (Result, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.outcome == nil {
		return Result{}, false
	}
	return *in.outcome, true
}

// Done is closed when the instance reaches a terminal outcome.
func (in *Instance) Done() <-chan struct{} { return in.done }

// Result blocks until the saga terminates or ctx ends.
func (in *Instance) Result(ctx context.Context) (Result, error) {
	select {
	case <-in.done:
		res, _ := in.Outcome()
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Signal delivers a signal to the instance. Terminal instances accept the
// signal but it has no effect and is not reflected in any output.
func (in *Instance) Signal(sig Signal) {
	if in.Terminal() {
		return
	}
	in.mailbox.Deliver(sig)
	if in.onSignal != nil {
		in.onSignal(sig)
	}
}

// Query returns an immutable snapshot of the instance without blocking on or
// mutating the driver. Once terminal the snapshot is frozen: late signal
// deliveries no longer show up.
func (in *Instance) Query() QueryResult {
	in.mu.Lock()
	if in.outcome != nil {
		defer in.mu.Unlock()
		return in.frozen
	}
	stage := in.stage
	dispatchFailed := in.dispatchFailed
	in.mu.Unlock()

	return QueryResult{
		Stage:            stage,
		Cancelled:        in.mailbox.Cancelled(),
		ApprovalReceived: in.mailbox.Approved(),
		AddressUpdates:   in.mailbox.AddressUpdateCount(),
		DispatchFailed:   dispatchFailed || len(in.mailbox.ChildFailures()) > 0,
	}
}

// enterStage advances the instance to the named stage. Stages only move
// forward through the definition's ordering and never change after the
// outcome is set; violations are ignored and reported as false.
func (in *Instance) enterStage(st Stage) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.outcome != nil {
		return false
	}
	if stageRank(in.definition, st) < stageRank(in.definition, in.stage) {
		return false
	}
	in.stage = st
	in.history = append(in.history, st)
	return true
}

// noteDispatchFailed marks the shipping instance's own dispatch failure.
func (in *Instance) noteDispatchFailed() {
	in.mu.Lock()
	in.dispatchFailed = true
	in.mu.Unlock()
}

// finish sets the terminal outcome exactly once, freezes the query snapshot,
// and releases waiters. A completed saga also lands on the completed stage.
func (in *Instance) finish(res Result) bool {
	in.mu.Lock()
	if in.outcome != nil {
		in.mu.Unlock()
		return false
	}
	if res.Status == StatusCompleted {
		in.stage = StageCompleted
		in.history = append(in.history, StageCompleted)
	}
	in.outcome = &res
	in.finishedAt = time.Now()
	in.frozen = QueryResult{
		Stage:            in.stage,
		Cancelled:        in.mailbox.Cancelled(),
		ApprovalReceived: in.mailbox.Approved(),
		AddressUpdates:   in.mailbox.AddressUpdateCount(),
		DispatchFailed:   in.dispatchFailed || len(in.mailbox.ChildFailures()) > 0,
	}
	in.mu.Unlock()
	close(in.done)
	return true
}

// restoreTerminal rebuilds a retired instance from a journal entry so its
// snapshot stays queryable across restarts.
func (in *Instance) restoreTerminal(stage Stage, res Result) {
	in.mu.Lock()
	in.stage = stage
	in.history = append(in.history, stage)
	in.outcome = &res
	in.finishedAt = time.Now()
	in.frozen = QueryResult{Stage: stage}
	in.mu.Unlock()
	close(in.done)
}
