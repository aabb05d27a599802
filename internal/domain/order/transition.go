package order

import (
	"context"
	"fmt"
	"time"
)

// TransitionService moves orders along the state graph. Every transition is
// validated against the graph first, then against per-target business rules,
// and only then persisted together with an audit entry.
type TransitionService struct {
	orders  Repository
	history HistoryRepository
}

// NewTransitionService creates a TransitionService with the required
// persistence dependencies.
func NewTransitionService(orders Repository, history HistoryRepository) *TransitionService {
	return &TransitionService{
		orders:  orders,
		history: history,
	}
}

// TransitionToState attempts to move the order to the target state. On
// success the order's State and UpdatedAt are updated both in the database
// and on the passed aggregate, and a history entry is recorded.
//
// A refused transition returns a *TransitionRejectedError and leaves the
// order untouched. Transitioning an already-cancelled order to Cancelled is
// a no-op success, so concurrent cleanup runs stay idempotent.
func (s *TransitionService) TransitionToState(ctx context.Context, o *Order, target State) error {
	if o.State == StateCancelled && target == StateCancelled {
		return nil
	}

	if err := ValidateTransition(o.State, target); err != nil {
		rej := err.(*TransitionRejectedError)
		rej.OrderCode = o.Code
		return rej
	}
	if err := s.checkRules(o, target); err != nil {
		return err
	}

	from := o.State
	now := time.Now().UTC()
	if err := s.orders.SetState(ctx, o.ID, target, now); err != nil {
		return fmt.Errorf("set state of order %q: %w", o.Code, err)
	}
	o.State = target
	o.UpdatedAt = now

	entry := HistoryEntry{
		OrderID:   o.ID,
		Type:      HistoryStateTransition,
		Message:   fmt.Sprintf("Order transitioned from %s to %s", from, target),
		CreatedAt: now,
	}
	if err := s.history.Append(ctx, entry); err != nil {
		return fmt.Errorf("append history for order %q: %w", o.Code, err)
	}
	return nil
}

// checkRules applies the business rules a graph-legal transition still has
// to pass.
func (s *TransitionService) checkRules(o *Order, target State) error {
	switch target {
	case StatePaymentSettled:
		// Settling is done upstream by the payment handler; the order can
		// only follow once an authorized payment actually exists.
		if o.authorizedPayment() == nil {
			return &TransitionRejectedError{
				OrderCode: o.Code,
				From:      o.State,
				To:        target,
				Reason:    "no authorized payment to settle",
			}
		}
	case StateArrangingPayment:
		if p := o.settledPayment(); p != nil {
			return &TransitionRejectedError{
				OrderCode: o.Code,
				From:      o.State,
				To:        target,
				Reason:    fmt.Sprintf("payment %s is already settled", p.ID),
			}
		}
	}
	return nil
}
