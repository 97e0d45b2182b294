package saga

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Supervisor creates and looks up saga instances by identity, drives each
// one on its own goroutine, and routes child failure notices back to parent
// mailboxes. Its lifetime is owned by the process entry point; drivers run
// against the supervisor's root context, not the caller's.
type Supervisor struct {
	cfg     Config
	acts    OrderActivities
	exec    *Executor
	logf    func(format string, args ...any)
	sink    EventSink
	journal Journal

	rootCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.Mutex
	instances map[string]*Instance
	parents   map[string]string
}

// SupervisorOption customizes a Supervisor.
type SupervisorOption func(*Supervisor)

// WithLogf sets the supervisor's logger.
func WithLogf(logf func(format string, args ...any)) SupervisorOption {
	return func(s *Supervisor) { s.logf = logf }
}

// WithSink wires an event sink for saga lifecycle events.
func WithSink(sink EventSink) SupervisorOption {
	return func(s *Supervisor) { s.sink = sink }
}

// WithJournal wires a durable journal for stage transitions and outcomes.
func WithJournal(j Journal) SupervisorOption {
	return func(s *Supervisor) { s.journal = j }
}

// WithExecutor replaces the step executor, for tests that need to control
// sleeping or observe attempts.
func WithExecutor(exec *Executor) SupervisorOption {
	return func(s *Supervisor) { s.exec = exec }
}

// NewSupervisor constructs a Supervisor around the given activities.
func NewSupervisor(acts OrderActivities, cfg Config, opts ...SupervisorOption) *Supervisor {
	ctx, stop := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:       cfg,
		acts:      acts,
		logf:      log.Printf,
		rootCtx:   ctx,
		stop:      stop,
		instances: make(map[string]*Instance),
		parents:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.exec == nil {
		s.exec = NewExecutor(WithExecutorLogf(s.logf))
	}
	return s
}

// StartOrder begins driving a new order saga. It fails with ErrAlreadyRunning
// when an active instance exists for the same order.
func (s *Supervisor) StartOrder(orderID string, input OrderInput) (*Instance, error) {
	// Address updates run outside the main stage sequence, as soon as the
	// signal arrives. The handler is installed before the instance is
	// published so a signal racing the start cannot slip past it.
	in, err := s.register(OrderSagaID(orderID), DefinitionOrder, "main", func(in *Instance) {
		in.onSignal = func(sig Signal) {
			if sig.Kind != SignalUpdateAddress {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.runAddressUpdate(in, orderID, sig.Payload)
			}()
		}
	})
	if err != nil {
		return nil, err
	}

	s.logf("saga %s: starting order workflow", in.ID())
	s.emit(newEvent(in, EventStarted))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runOrder(in, orderID, input)
	}()
	return in, nil
}

// startShipping spawns the child shipping saga on its own lane and links it
// to the parent so dispatch failures can be routed back.
func (s *Supervisor) startShipping(parentID, orderID string) (*Instance, error) {
	// Inbound dispatch-failed signals are recorded in the child's own
	// status only; they do not alter its stage progression.
	in, err := s.register(ShippingSagaID(orderID), DefinitionShipping, "shipping", func(in *Instance) {
		s.parents[in.ID()] = parentID
		in.onSignal = func(sig Signal) {
			if sig.Kind == SignalDispatchFailed {
				in.noteDispatchFailed()
			}
		}
	})
	if err != nil {
		return nil, err
	}

	s.logf("saga %s: starting shipping workflow for parent %s", in.ID(), parentID)
	s.emit(newEvent(in, EventStarted))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runShipping(in, orderID)
	}()
	return in, nil
}

// Lookup returns the instance for an identity, running or retired.
func (s *Supervisor) Lookup(id string) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return in, nil
}

// Signal delivers a signal to the identified instance. Delivery to a
// terminal instance succeeds and has no effect.
func (s *Supervisor) Signal(id string, sig Signal) error {
	in, err := s.Lookup(id)
	if err != nil {
		return err
	}
	in.Signal(sig)

	ev := newEvent(in, EventSignalReceived)
	ev.Signal = sig.Kind
	s.emit(ev)
	return nil
}

// Restore registers journal state from a previous run: terminal sagas become
// retired, queryable instances, and the identities of interrupted sagas are
// returned so the operator can re-drive them (steps are retry-safe).
func (s *Supervisor) Restore(entries []JournalEntry) []string {
	latest := make(map[string]JournalEntry)
	var order []string
	for _, e := range entries {
		if _, seen := latest[e.SagaID]; !seen {
			order = append(order, e.SagaID)
		}
		latest[e.SagaID] = e
	}

	var incomplete []string
	for _, id := range order {
		e := latest[id]
		if e.Status == "" || e.Result == nil {
			incomplete = append(incomplete, id)
			continue
		}
		in := newInstance(e.SagaID, e.Definition, e.Lane)
		in.restoreTerminal(e.Stage, *e.Result)
		s.mu.Lock()
		s.instances[e.SagaID] = in
		s.mu.Unlock()
	}
	return incomplete
}

// Running returns the number of instances that have not reached a terminal
// outcome.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, in := range s.instances {
		if !in.Terminal() {
			n++
		}
	}
	return n
}

// Shutdown stops accepting work, cancels running drivers, and waits for them
// to unwind or for ctx to end. No pending timer or retry can mutate an
// instance afterwards.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// register creates an instance and publishes it under the supervisor lock.
// configure runs inside the critical section, before the instance is visible
// to Lookup, so signal handlers and parent links are in place by the time any
// concurrent caller can reach the instance.
func (s *Supervisor) register(id string, def Definition, lane string, configure func(*Instance)) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.instances[id]; ok && !existing.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	in := newInstance(id, def, lane)
	if configure != nil {
		configure(in)
	}
	s.instances[id] = in
	return in, nil
}

// notifyParent forwards a child's failure notice to its parent's mailbox,
// best effort: a missing parent is logged, never escalated.
func (s *Supervisor) notifyParent(childID string, payload map[string]any) {
	s.mu.Lock()
	parentID, linked := s.parents[childID]
	parent := s.instances[parentID]
	s.mu.Unlock()

	if !linked || parent == nil {
		s.logf("saga %s: no parent to notify about dispatch failure", childID)
		return
	}
	parent.Signal(Signal{Kind: SignalDispatchFailed, Payload: payload})
	s.logf("saga %s: notified parent %s of dispatch failure", childID, parentID)
}

// step builds the descriptor shared by all externally-effecting stages.
func (s *Supervisor) step(name string) StepDescriptor {
	return StepDescriptor{Name: name, Timeout: s.cfg.StepTimeout, Retry: s.cfg.Retry}
}

// enter advances the instance's stage and records the transition.
func (s *Supervisor) enter(in *Instance, stage Stage) {
	if !in.enterStage(stage) {
		return
	}
	s.record(JournalEntry{
		SagaID:     in.ID(),
		Definition: in.Definition(),
		Lane:       in.Lane(),
		Stage:      stage,
		At:         time.Now(),
	})
	ev := newEvent(in, EventStageEntered)
	ev.Stage = stage
	s.emit(ev)
}

// finish sets the instance's terminal outcome and records it.
func (s *Supervisor) finish(in *Instance, res Result) {
	if !in.finish(res) {
		return
	}
	s.logf("saga %s: finished with status %s", in.ID(), res.Status)
	s.record(JournalEntry{
		SagaID:     in.ID(),
		Definition: in.Definition(),
		Lane:       in.Lane(),
		Stage:      in.Stage(),
		Status:     res.Status,
		Result:     &res,
		At:         time.Now(),
	})
	ev := newEvent(in, EventFinished)
	ev.Stage = in.Stage()
	ev.Status = res.Status
	s.emit(ev)
}

func (s *Supervisor) emit(ev Event) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Publish(s.rootCtx, ev); err != nil {
		s.logf("saga %s: publish %s event: %v", ev.SagaID, ev.Type, err)
	}
}

func (s *Supervisor) record(entry JournalEntry) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(s.rootCtx, entry); err != nil {
		s.logf("saga %s: journal write failed: %v", entry.SagaID, err)
	}
}
