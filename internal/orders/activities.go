package orders

import (
	"context"
	"fmt"
	"log"

	"orderline/internal/saga"
)

// Activities implements the saga step bodies against a Store, with every
// downstream touch routed through the fault injector first.
type Activities struct {
	store  Store
	faults FaultInjector
	guard  *PaymentGuard
	logf   func(format string, args ...any)
}

// NewActivities constructs the activity set.
func NewActivities(store Store, faults FaultInjector, logf func(format string, args ...any)) *Activities {
	if faults == nil {
		faults = NoFaults{}
	}
	if logf == nil {
		logf = log.Printf
	}
	return &Activities{
		store:  store,
		faults: faults,
		guard:  NewPaymentGuard(store, logf),
		logf:   logf,
	}
}

func (a *Activities) ReceiveOrder(ctx context.Context, orderID string, items []saga.Item, address map[string]any) (saga.OrderData, error) {
	if err := a.faults.Call(ctx, "receive_order"); err != nil {
		return saga.OrderData{}, err
	}
	o := Order{ID: orderID, State: OrderStateReceived, Items: items, Address: address}
	if err := a.store.CreateOrder(ctx, o); err != nil {
		return saga.OrderData{}, fmt.Errorf("create order %s: %w", orderID, err)
	}
	if err := a.store.RecordEvent(ctx, Event{OrderID: orderID, Type: EventOrderReceived, Payload: map[string]any{"items": items}}); err != nil {
		return saga.OrderData{}, fmt.Errorf("record receipt of %s: %w", orderID, err)
	}
	a.logf("order %s received with %d items", orderID, len(items))
	return saga.OrderData{OrderID: orderID, Items: items, State: OrderStateReceived}, nil
}

func (a *Activities) ValidateOrder(ctx context.Context, orderID string) (bool, error) {
	if err := a.faults.Call(ctx, "validate_order"); err != nil {
		return false, err
	}
	o, found, err := a.store.GetOrder(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if !found || len(o.Items) == 0 {
		return false, nil
	}
	// An omitted quantity is tolerated and charged as one unit; only a
	// negative quantity invalidates the order.
	for _, item := range o.Items {
		if item.SKU == "" || item.Qty < 0 {
			return false, nil
		}
	}
	if err := a.store.UpdateOrderState(ctx, orderID, OrderStateValidated); err != nil {
		return false, fmt.Errorf("mark %s validated: %w", orderID, err)
	}
	if err := a.store.RecordEvent(ctx, Event{OrderID: orderID, Type: EventOrderValidated}); err != nil {
		return false, fmt.Errorf("record validation of %s: %w", orderID, err)
	}
	return true, nil
}

// ChargePayment charges the order total, one currency unit per item quantity.
// The guard consults the payment record before the fault injector runs, so a
// retry after a crash between charge and acknowledgement never double-bills.
func (a *Activities) ChargePayment(ctx context.Context, orderID, paymentID string) (saga.PaymentResult, error) {
	o, found, err := a.store.GetOrder(ctx, orderID)
	if err != nil {
		return saga.PaymentResult{}, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if !found {
		return saga.PaymentResult{}, fmt.Errorf("charge for unknown order %s", orderID)
	}
	var amount float64
	for _, item := range o.Items {
		qty := item.Qty
		if qty == 0 {
			qty = 1
		}
		amount += float64(qty)
	}

	p, err := a.guard.Charge(ctx, orderID, paymentID, amount, func(ctx context.Context) error {
		if err := a.faults.Call(ctx, "charge_payment"); err != nil {
			return err
		}
		charged := Payment{PaymentID: paymentID, OrderID: orderID, Status: PaymentCharged, Amount: amount}
		if err := a.store.UpsertPayment(ctx, charged); err != nil {
			return fmt.Errorf("record charge %s: %w", paymentID, err)
		}
		if err := a.store.UpdateOrderState(ctx, orderID, OrderStatePaid); err != nil {
			return fmt.Errorf("mark %s paid: %w", orderID, err)
		}
		return a.store.RecordEvent(ctx, Event{OrderID: orderID, Type: EventPaymentCharged, Payload: map[string]any{"payment_id": paymentID, "amount": amount}})
	})
	if err != nil {
		return saga.PaymentResult{}, err
	}
	return saga.PaymentResult{Status: p.Status, Amount: p.Amount, PaymentID: p.PaymentID}, nil
}

// UpdateAddress persists a new shipping address. It deliberately skips the
// fault injector: address updates run outside the main sequence and their
// failures are only logged, so injected chaos there would just be noise.
func (a *Activities) UpdateAddress(ctx context.Context, orderID string, address map[string]any) error {
	if err := a.store.UpdateAddress(ctx, orderID, address); err != nil {
		return fmt.Errorf("update address of %s: %w", orderID, err)
	}
	return a.store.RecordEvent(ctx, Event{OrderID: orderID, Type: EventAddressUpdated, Payload: address})
}

func (a *Activities) PreparePackage(ctx context.Context, orderID string) (string, error) {
	if err := a.faults.Call(ctx, "prepare_package"); err != nil {
		return "", err
	}
	if err := a.store.RecordEvent(ctx, Event{OrderID: orderID, Type: EventPackagePrepared}); err != nil {
		return "", fmt.Errorf("record package for %s: %w", orderID, err)
	}
	return "ready", nil
}

func (a *Activities) DispatchCarrier(ctx context.Context, orderID string) (string, error) {
	if err := a.faults.Call(ctx, "dispatch_carrier"); err != nil {
		return "", err
	}
	if err := a.store.RecordEvent(ctx, Event{OrderID: orderID, Type: EventCarrierDispatched}); err != nil {
		return "", fmt.Errorf("record dispatch for %s: %w", orderID, err)
	}
	return "dispatched", nil
}

func (a *Activities) ShipOrder(ctx context.Context, orderID string) (string, error) {
	if err := a.faults.Call(ctx, "ship_order"); err != nil {
		return "", err
	}
	if err := a.store.UpdateOrderState(ctx, orderID, OrderStateShipped); err != nil {
		return "", fmt.Errorf("mark %s shipped: %w", orderID, err)
	}
	if err := a.store.RecordEvent(ctx, Event{OrderID: orderID, Type: EventOrderShipped}); err != nil {
		return "", fmt.Errorf("record shipment of %s: %w", orderID, err)
	}
	return "shipped", nil
}
