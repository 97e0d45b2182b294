package orders

import (
	"context"
	"sync"
	"time"

	"orderline/internal/saga"
)

// NewMemoryStore constructs an in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]Order),
		payments: make(map[string]Payment),
	}
}

// MemoryStore keeps orders, payments and events in memory. It is the
// fallback when no Postgres DSN is configured, and the store used in tests.
type MemoryStore struct {
	mu       sync.Mutex
	orders   map[string]Order
	payments map[string]Payment
	events   []Event
}

func (s *MemoryStore) CreateOrder(ctx context.Context, o Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.orders[o.ID]; ok {
		// Re-creating is an upsert of items and address; the state machine
		// position is preserved across retries.
		existing.Items = o.Items
		existing.Address = o.Address
		existing.UpdatedAt = now
		s.orders[o.ID] = existing
		return nil
	}
	o.CreatedAt = now
	o.UpdatedAt = now
	if o.State == "" {
		o.State = OrderStateReceived
	}
	s.orders[o.ID] = o
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, orderID string) (Order, bool, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	return o, ok, nil
}

func (s *MemoryStore) UpdateOrderState(ctx context.Context, orderID, state string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		o = Order{ID: orderID, CreatedAt: time.Now().UTC()}
	}
	o.State = state
	o.UpdatedAt = time.Now().UTC()
	s.orders[orderID] = o
	return nil
}

func (s *MemoryStore) UpdateAddress(ctx context.Context, orderID string, address map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		o = Order{ID: orderID, CreatedAt: time.Now().UTC()}
	}
	o.Address = address
	o.UpdatedAt = time.Now().UTC()
	s.orders[orderID] = o
	return nil
}

func (s *MemoryStore) FindPayment(ctx context.Context, paymentID string) (Payment, bool, error) {
	if err := ctx.Err(); err != nil {
		return Payment{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	return p, ok, nil
}

func (s *MemoryStore) UpsertPayment(ctx context.Context, p Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.PaymentID] = p
	return nil
}

func (s *MemoryStore) RecordEvent(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// OrderState returns the persisted state of an order, if any
// (for testing/inspection).
func (s *MemoryStore) OrderState(orderID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	return o.State, ok
}

// PaymentStatus returns the persisted status of a payment, if any
// (for testing/inspection).
func (s *MemoryStore) PaymentStatus(paymentID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	return p.Status, ok
}

// Events returns the recorded event types for an order in record order
// (for testing/inspection).
func (s *MemoryStore) Events(orderID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, ev := range s.events {
		if ev.OrderID == orderID {
			out = append(out, ev.Type)
		}
	}
	return out
}

// Address returns the persisted shipping address of an order
// (for testing/inspection).
func (s *MemoryStore) Address(orderID string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[orderID].Address
}

// Items returns the persisted line items of an order
// (for testing/inspection).
func (s *MemoryStore) Items(orderID string) []saga.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[orderID].Items
}
