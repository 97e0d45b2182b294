// Package orders implements the order-fulfillment activities the saga engine
// drives: the persistence contract, the concrete activity implementations,
// the payment idempotency guard, and the unreliable-collaborator simulator.
package orders

import (
	"context"
	"time"

	"orderline/internal/saga"
)

// Order states as persisted.
const (
	OrderStateReceived  = "received"
	OrderStateValidated = "validated"
	OrderStatePaid      = "paid"
	OrderStateShipped   = "shipped"
)

// Payment statuses as persisted.
const (
	PaymentPending = "pending"
	PaymentCharged = "charged"
)

// Event types recorded per activity.
const (
	EventOrderReceived     = "order_received"
	EventOrderValidated    = "order_validated"
	EventPaymentCharged    = "payment_charged"
	EventPackagePrepared   = "package_prepared"
	EventCarrierDispatched = "carrier_dispatched"
	EventOrderShipped      = "order_shipped"
	EventAddressUpdated    = "address_updated"
)

// Order is the persisted order row.
type Order struct {
	ID        string
	State     string
	Items     []saga.Item
	Address   map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Payment is the persisted payment row, keyed by the idempotency token.
type Payment struct {
	PaymentID string
	OrderID   string
	Status    string
	Amount    float64
}

// Event is one audit row recorded against an order.
type Event struct {
	OrderID string
	Type    string
	Payload map[string]any
}

// Store is the persistence collaborator. Every operation commits atomically
// and is safe to call repeatedly; the saga relies on this for retry safety
// of steps that are not idempotency guarded.
type Store interface {
	CreateOrder(ctx context.Context, o Order) error
	GetOrder(ctx context.Context, orderID string) (Order, bool, error)
	UpdateOrderState(ctx context.Context, orderID, state string) error
	UpdateAddress(ctx context.Context, orderID string, address map[string]any) error
	FindPayment(ctx context.Context, paymentID string) (Payment, bool, error)
	UpsertPayment(ctx context.Context, p Payment) error
	RecordEvent(ctx context.Context, ev Event) error
}
