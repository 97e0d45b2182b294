package orders

import (
	"context"
	"fmt"
)

// PaymentGuard makes charging idempotent across retries. The payment ID is
// the idempotency token: a charge already recorded as charged is returned
// without touching the payment rail again, a pending record means the
// previous attempt died mid-flight and the charge is retried, and an absent
// record is a first attempt.
type PaymentGuard struct {
	store Store
	logf  func(format string, args ...any)
}

// NewPaymentGuard constructs a PaymentGuard over the given store.
func NewPaymentGuard(store Store, logf func(format string, args ...any)) *PaymentGuard {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &PaymentGuard{store: store, logf: logf}
}

// Charge runs op under the guard. op performs the actual charge and must
// record the payment as charged before returning nil; the guard itself only
// ever writes the pending marker.
func (g *PaymentGuard) Charge(ctx context.Context, orderID, paymentID string, amount float64, op func(ctx context.Context) error) (Payment, error) {
	existing, found, err := g.store.FindPayment(ctx, paymentID)
	if err != nil {
		return Payment{}, fmt.Errorf("find payment %s: %w", paymentID, err)
	}
	if found && existing.Status == PaymentCharged {
		g.logf("payment %s already charged, skipping", paymentID)
		return existing, nil
	}
	if found {
		g.logf("payment %s pending from a prior attempt, retrying charge", paymentID)
	} else {
		pending := Payment{PaymentID: paymentID, OrderID: orderID, Status: PaymentPending, Amount: amount}
		if err := g.store.UpsertPayment(ctx, pending); err != nil {
			return Payment{}, fmt.Errorf("record pending payment %s: %w", paymentID, err)
		}
	}

	if err := op(ctx); err != nil {
		return Payment{}, err
	}

	charged, found, err := g.store.FindPayment(ctx, paymentID)
	if err != nil {
		return Payment{}, fmt.Errorf("reload payment %s: %w", paymentID, err)
	}
	if !found {
		return Payment{}, fmt.Errorf("payment %s vanished after charge", paymentID)
	}
	return charged, nil
}
