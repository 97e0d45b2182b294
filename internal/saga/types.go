// Package saga drives long-running order-fulfillment processes through a
// fixed sequence of stages. Each stage executes a fallible external step with
// retry and timeout policy, and a running saga accepts asynchronous signals
// (cancel, approve, address updates, child failures) and answers synchronous
// status queries without blocking the driver.
package saga

import (
	"errors"
	"time"
)

// Definition identifies which saga an instance runs.
type Definition string

const (
	DefinitionOrder    Definition = "order"
	DefinitionShipping Definition = "shipping"
)

// Stage is a named step or wait-point in a saga's fixed sequence.
type Stage string

const (
	StageInitialized        Stage = "initialized"
	StageReceiving          Stage = "receiving"
	StageValidating         Stage = "validating"
	StageAwaitingApproval   Stage = "awaiting_approval"
	StageChargingPayment    Stage = "charging_payment"
	StageShipping           Stage = "shipping"
	StagePreparingPackage   Stage = "preparing_package"
	StageDispatchingCarrier Stage = "dispatching_carrier"
	StageMarkingShipped     Stage = "marking_shipped"
	StageCompleted          Stage = "completed"
)

// Status is a saga's terminal outcome class.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var (
	// ErrAlreadyRunning is returned when starting a saga whose identity is active.
	ErrAlreadyRunning = errors.New("saga already running")
	// ErrNotFound is returned when no saga exists for an identity.
	ErrNotFound = errors.New("saga not found")
)

// Item is one ordered line item.
type Item struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

// OrderInput is the payload used to start an order saga.
type OrderInput struct {
	PaymentID string         `json:"payment_id"`
	Items     []Item         `json:"items,omitempty"`
	Address   map[string]any `json:"address,omitempty"`
}

// OrderData is the result of the receive-order step.
type OrderData struct {
	OrderID string `json:"order_id"`
	Items   []Item `json:"items"`
	State   string `json:"state"`
}

// PaymentResult is the result of the charge-payment step.
type PaymentResult struct {
	Status    string  `json:"status"`
	Amount    float64 `json:"amount"`
	PaymentID string  `json:"payment_id"`
}

// Result is a saga's terminal outcome. Order sagas populate the order,
// payment, and shipping fields on success; shipping sagas populate the
// package, dispatch, and shipped fields. Failure and cancellation carry the
// step at which they occurred.
type Result struct {
	Status      Status         `json:"status"`
	Step        string         `json:"step,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Error       string         `json:"error,omitempty"`
	NeedsRefund bool           `json:"needs_refund,omitempty"`
	Order       *OrderData     `json:"order_data,omitempty"`
	Payment     *PaymentResult `json:"payment,omitempty"`
	Shipping    *Result        `json:"shipping,omitempty"`
	Package     string         `json:"package,omitempty"`
	Dispatch    string         `json:"dispatch,omitempty"`
	Shipped     string         `json:"shipped,omitempty"`
}

// QueryResult is a point-in-time, non-blocking view of a saga instance.
// Order sagas report the cancel/approval/address fields; shipping sagas
// report DispatchFailed.
type QueryResult struct {
	Stage            Stage `json:"state"`
	Cancelled        bool  `json:"cancelled"`
	ApprovalReceived bool  `json:"approval_received"`
	AddressUpdates   int   `json:"address_updates"`
	DispatchFailed   bool  `json:"dispatch_failed"`
}

// stageOrder fixes the forward ordering of stages per definition. Terminal
// side exits (failed, cancelled) do not appear: they are outcomes, not stages.
var stageOrder = map[Definition][]Stage{
	DefinitionOrder: {
		StageInitialized,
		StageReceiving,
		StageValidating,
		StageAwaitingApproval,
		StageChargingPayment,
		StageShipping,
		StageCompleted,
	},
	DefinitionShipping: {
		StageInitialized,
		StagePreparingPackage,
		StageDispatchingCarrier,
		StageMarkingShipped,
		StageCompleted,
	},
}

// stageRank returns the position of a stage within its definition's ordering,
// or -1 for stages the definition does not know.
func stageRank(def Definition, st Stage) int {
	for i, s := range stageOrder[def] {
		if s == st {
			return i
		}
	}
	return -1
}

// OrderSagaID derives the saga identity for an order.
func OrderSagaID(orderID string) string { return "order-" + orderID }

// ShippingSagaID derives the child saga identity for an order's shipment.
func ShippingSagaID(orderID string) string { return "shipping-" + orderID }

// Config controls saga timing and retry behavior.
type Config struct {
	StepTimeout     time.Duration
	ApprovalTimeout time.Duration
	AddressTimeout  time.Duration
	Retry           RetryPolicy
}

// DefaultConfig mirrors the timings the order process was designed around:
// 30s per step, a 10s manual-approval window, and the default retry policy.
func DefaultConfig() Config {
	return Config{
		StepTimeout:     30 * time.Second,
		ApprovalTimeout: 10 * time.Second,
		AddressTimeout:  10 * time.Second,
		Retry:           DefaultRetryPolicy(),
	}
}
