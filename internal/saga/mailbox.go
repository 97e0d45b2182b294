package saga

import "sync"

// SignalKind enumerates the signals a saga instance accepts. The closed set
// replaces name-based handler dispatch: every delivery goes through one
// Deliver entry point and flips typed state.
type SignalKind string

const (
	SignalCancel         SignalKind = "cancel_order"
	SignalApprove        SignalKind = "approve_order"
	SignalUpdateAddress  SignalKind = "update_address"
	SignalDispatchFailed SignalKind = "dispatch_failed"
)

// Signal is an asynchronous, fire-and-forget message for a saga instance.
type Signal struct {
	Kind    SignalKind
	Payload map[string]any
}

// Mailbox buffers signals delivered to one saga instance. Delivery never
// blocks and never fails; the driver observes the buffered state at its
// checkpoints. Readers and the driver may interleave freely: all state is
// guarded by one mutex and the wake channel carries no data.
type Mailbox struct {
	mu             sync.Mutex
	cancelled      bool
	approved       bool
	addressUpdates []map[string]any
	childFailures  []map[string]any
	received       []Signal

	wake chan struct{}
}

// NewMailbox constructs an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{wake: make(chan struct{}, 1)}
}

// Deliver records the signal and wakes a suspended driver. Unknown kinds are
// logged into the received list only.
func (m *Mailbox) Deliver(sig Signal) {
	m.mu.Lock()
	m.received = append(m.received, sig)
	switch sig.Kind {
	case SignalCancel:
		m.cancelled = true
	case SignalApprove:
		m.approved = true
	case SignalUpdateAddress:
		m.addressUpdates = append(m.addressUpdates, sig.Payload)
	case SignalDispatchFailed:
		m.childFailures = append(m.childFailures, sig.Payload)
	}
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Cancelled reports whether a cancel signal has been received.
func (m *Mailbox) Cancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

// Approved reports whether an approval signal has been received.
func (m *Mailbox) Approved() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.approved
}

// AddressUpdateCount returns how many address updates have arrived.
func (m *Mailbox) AddressUpdateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.addressUpdates)
}

// ChildFailures returns a copy of the child-failure notices received.
func (m *Mailbox) ChildFailures() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, len(m.childFailures))
	copy(out, m.childFailures)
	return out
}

// Received returns a copy of every signal delivered, in arrival order.
func (m *Mailbox) Received() []Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Signal, len(m.received))
	copy(out, m.received)
	return out
}

// Wake exposes the channel a suspended driver selects on. It is signalled
// (coalesced) on every delivery.
func (m *Mailbox) Wake() <-chan struct{} { return m.wake }
