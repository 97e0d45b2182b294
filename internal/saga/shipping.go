package saga

import "context"

// runShipping drives the child shipping saga. A dispatch failure terminates
// the child and notifies the parent's mailbox; the other steps fail the
// child the ordinary way.
func (s *Supervisor) runShipping(in *Instance, orderID string) {
	ctx := s.rootCtx

	s.enter(in, StagePreparingPackage)
	var pkg string
	err := s.exec.Execute(ctx, s.step("prepare_package"), func(ctx context.Context) error {
		var err error
		pkg, err = s.acts.PreparePackage(ctx, orderID)
		return err
	})
	if err != nil {
		s.failShipping(in, err)
		return
	}

	s.enter(in, StageDispatchingCarrier)
	var dispatch string
	err = s.exec.Execute(ctx, s.step("dispatch_carrier"), func(ctx context.Context) error {
		var err error
		dispatch, err = s.acts.DispatchCarrier(ctx, orderID)
		return err
	})
	if err != nil {
		if s.rootCtx.Err() != nil {
			s.logf("saga %s: driver stopped before completion: %v", in.ID(), err)
			return
		}
		s.logf("saga %s: carrier dispatch failed: %v", in.ID(), err)
		in.noteDispatchFailed()
		s.notifyParent(in.ID(), map[string]any{"reason": err.Error()})
		s.finish(in, Result{
			Status:  StatusFailed,
			Step:    "dispatch",
			Package: pkg,
			Error:   err.Error(),
		})
		return
	}

	s.enter(in, StageMarkingShipped)
	var shipped string
	err = s.exec.Execute(ctx, s.step("ship_order"), func(ctx context.Context) error {
		var err error
		shipped, err = s.acts.ShipOrder(ctx, orderID)
		return err
	})
	if err != nil {
		s.failShipping(in, err)
		return
	}

	s.finish(in, Result{
		Status:   StatusCompleted,
		Package:  pkg,
		Dispatch: dispatch,
		Shipped:  shipped,
	})
}

func (s *Supervisor) failShipping(in *Instance, err error) {
	if s.rootCtx.Err() != nil {
		s.logf("saga %s: driver stopped before completion: %v", in.ID(), err)
		return
	}
	s.logf("saga %s: failed at %s: %v", in.ID(), in.Stage(), err)
	s.finish(in, Result{Status: StatusFailed, Step: string(in.Stage()), Error: err.Error()})
}
