package saga

import (
	"context"
	"time"
)

// OrderActivities are the externally-effecting operations the order and
// shipping sagas execute. Implementations write through the persistence
// collaborator and may fail transiently or stall; each call must be safe to
// repeat (upsert semantics or idempotency guarded).
type OrderActivities interface {
	ReceiveOrder(ctx context.Context, orderID string, items []Item, address map[string]any) (OrderData, error)
	ValidateOrder(ctx context.Context, orderID string) (bool, error)
	ChargePayment(ctx context.Context, orderID, paymentID string) (PaymentResult, error)
	UpdateAddress(ctx context.Context, orderID string, address map[string]any) error
	PreparePackage(ctx context.Context, orderID string) (string, error)
	DispatchCarrier(ctx context.Context, orderID string) (string, error)
	ShipOrder(ctx context.Context, orderID string) (string, error)
}

// runOrder drives one order saga from receipt to a terminal outcome. It is
// the instance's only writer of stage and outcome; every exit path ends in
// exactly one of completed, failed, or cancelled, except a supervisor
// shutdown, which leaves the saga incomplete for the journal to report.
func (s *Supervisor) runOrder(in *Instance, orderID string, input OrderInput) {
	ctx := s.rootCtx

	items := input.Items
	if len(items) == 0 {
		items = []Item{{SKU: "DEFAULT", Qty: 1}}
	}

	s.enter(in, StageReceiving)
	var orderData OrderData
	err := s.exec.Execute(ctx, s.step("receive_order"), func(ctx context.Context) error {
		var err error
		orderData, err = s.acts.ReceiveOrder(ctx, orderID, items, input.Address)
		return err
	})
	if err != nil {
		s.failOrder(in, err)
		return
	}
	if in.mailbox.Cancelled() {
		s.logf("saga %s: cancelled during receive", in.ID())
		s.finish(in, Result{Status: StatusCancelled, Step: "receive"})
		return
	}

	s.enter(in, StageValidating)
	var valid bool
	err = s.exec.Execute(ctx, s.step("validate_order"), func(ctx context.Context) error {
		var err error
		valid, err = s.acts.ValidateOrder(ctx, orderID)
		return err
	})
	if err != nil {
		s.failOrder(in, err)
		return
	}
	if !valid {
		// A false validation is a semantic failure, not a transient error:
		// it is never retried.
		s.logf("saga %s: order validation failed", in.ID())
		s.finish(in, Result{Status: StatusFailed, Step: "validation", Reason: "Invalid order"})
		return
	}
	if in.mailbox.Cancelled() {
		s.logf("saga %s: cancelled during validation", in.ID())
		s.finish(in, Result{Status: StatusCancelled, Step: "validation"})
		return
	}

	s.enter(in, StageAwaitingApproval)
	s.logf("saga %s: waiting for manual approval", in.ID())
	approved, cancelled, err := s.awaitApproval(ctx, in)
	if err != nil {
		s.failOrder(in, err)
		return
	}
	if cancelled {
		s.logf("saga %s: cancelled during manual approval", in.ID())
		s.finish(in, Result{Status: StatusCancelled, Step: "manual_approval"})
		return
	}
	if !approved {
		s.logf("saga %s: manual approval timeout", in.ID())
		s.finish(in, Result{Status: StatusFailed, Step: "manual_approval", Reason: "Approval timeout"})
		return
	}

	s.enter(in, StageChargingPayment)
	var payment PaymentResult
	err = s.exec.Execute(ctx, s.step("charge_payment"), func(ctx context.Context) error {
		var err error
		payment, err = s.acts.ChargePayment(ctx, orderID, input.PaymentID)
		return err
	})
	if err != nil {
		s.failOrder(in, err)
		return
	}
	if in.mailbox.Cancelled() {
		// Payment has already been captured; a complete system would run a
		// refund compensation here.
		s.logf("saga %s: cancelled after payment, needs refund", in.ID())
		s.finish(in, Result{Status: StatusCancelled, Step: "post_payment", NeedsRefund: true})
		return
	}

	s.enter(in, StageShipping)
	child, err := s.startShipping(in.ID(), orderID)
	if err != nil {
		s.failOrder(in, err)
		return
	}
	shipping, err := child.Result(ctx)
	if err != nil {
		s.failOrder(in, err)
		return
	}

	// A failed shipping sub-result folds into the completed order result;
	// the child has already routed its failure back through the mailbox.
	s.finish(in, Result{
		Status:   StatusCompleted,
		Order:    &orderData,
		Payment:  &payment,
		Shipping: &shipping,
	})
}

// awaitApproval suspends until approval or cancellation arrives, or until
// the approval deadline elapses. This wait is a pure timer/signal race; no
// external step runs.
func (s *Supervisor) awaitApproval(ctx context.Context, in *Instance) (approved, cancelled bool, err error) {
	timer := time.NewTimer(s.cfg.ApprovalTimeout)
	defer timer.Stop()

	for {
		if in.mailbox.Cancelled() {
			return false, true, nil
		}
		if in.mailbox.Approved() {
			return true, false, nil
		}
		select {
		case <-in.mailbox.Wake():
		case <-timer.C:
			return false, false, nil
		case <-ctx.Done():
			return false, false, ctx.Err()
		}
	}
}

// runAddressUpdate executes the update-address step for one signal arrival.
// It is fire-and-forget relative to the main sequence: its failure is logged
// and does not fail the saga.
func (s *Supervisor) runAddressUpdate(in *Instance, orderID string, address map[string]any) {
	if in.Terminal() {
		return
	}
	step := StepDescriptor{Name: "update_address", Timeout: s.cfg.AddressTimeout, Retry: s.cfg.Retry}
	err := s.exec.Execute(s.rootCtx, step, func(ctx context.Context) error {
		return s.acts.UpdateAddress(ctx, orderID, address)
	})
	if err != nil {
		s.logf("saga %s: address update failed: %v", in.ID(), err)
		return
	}
	s.logf("saga %s: address updated", in.ID())
}

// failOrder converts a step failure into the saga's failed outcome, tagged
// with the stage at failure time. A supervisor shutdown is not an outcome:
// the saga is left incomplete for journal recovery.
func (s *Supervisor) failOrder(in *Instance, err error) {
	if s.rootCtx.Err() != nil {
		s.logf("saga %s: driver stopped before completion: %v", in.ID(), err)
		return
	}
	s.logf("saga %s: failed at %s: %v", in.ID(), in.Stage(), err)
	s.finish(in, Result{Status: StatusFailed, Step: string(in.Stage()), Error: err.Error()})
}
