package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound indicates the requested order does not exist.
var ErrNotFound = fmt.Errorf("order not found")

// Order is the storefront order aggregate as seen by the janitor. Only the
// attributes the cleanup and purge passes rely on are loaded; catalog and
// customer details stay out of scope.
type Order struct {
	ID        string
	Code      string
	State     State
	Total     decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time

	Lines    []Line
	Payments []Payment

	// AggregateOrderID links a seller order back to its multivendor
	// aggregate order, when one exists.
	AggregateOrderID string
}

// Line is a single order line.
type Line struct {
	ID        string
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Payment is a payment attached to an order. A payment may carry zero or
// more refunds; any refund anywhere on the order makes it ineligible for
// hard deletion.
type Payment struct {
	ID      string
	Method  string
	State   PaymentState
	Amount  decimal.Decimal
	Refunds []Refund
}

// PaymentState is the lifecycle state of a single payment.
type PaymentState string

// Payment states consulted by the transition rules.
const (
	PaymentCreated    PaymentState = "Created"
	PaymentAuthorized PaymentState = "Authorized"
	PaymentSettled    PaymentState = "Settled"
	PaymentDeclined   PaymentState = "Declined"
	PaymentCancelled  PaymentState = "Cancelled"
)

// Refund references the payment it reverses.
type Refund struct {
	ID        string
	PaymentID string
	Amount    decimal.Decimal
	Reason    string
}

// HasRefunds reports whether any payment on the order carries a refund.
func (o *Order) HasRefunds() bool {
	for _, p := range o.Payments {
		if len(p.Refunds) > 0 {
			return true
		}
	}
	return false
}

// settledPayment returns the first settled payment on the order, or nil.
func (o *Order) settledPayment() *Payment {
	for i := range o.Payments {
		if o.Payments[i].State == PaymentSettled {
			return &o.Payments[i]
		}
	}
	return nil
}

// authorizedPayment returns the first authorized payment on the order, or nil.
func (o *Order) authorizedPayment() *Payment {
	for i := range o.Payments {
		if o.Payments[i].State == PaymentAuthorized {
			return &o.Payments[i]
		}
	}
	return nil
}

// StaleFilter selects orders for a single cleanup page: orders whose state is
// in States and whose UpdatedAt is strictly before UpdatedBefore.
type StaleFilter struct {
	States        []State
	UpdatedBefore time.Time
	Skip          int
	Take          int
}

// Repository defines persistence operations for orders.
//
// SetState is the validated write used by the transition service; ForceState
// is the raw escape-hatch write that bypasses the transition graph and must
// only be reached through the cleanup engine's last-resort path.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Order, error)
	FindStalePage(ctx context.Context, f StaleFilter) ([]Order, error)
	SetState(ctx context.Context, id string, state State, updatedAt time.Time) error
	ForceState(ctx context.Context, id string, state State, updatedAt time.Time) error
}

// HistoryEntry is an audit record appended to an order's history.
type HistoryEntry struct {
	OrderID   string
	Type      string
	Message   string
	CreatedAt time.Time
}

// History entry types written by this service.
const (
	HistoryStateTransition = "ORDER_STATE_TRANSITION"
	HistoryForcedState     = "ORDER_STATE_FORCED"
)

// HistoryRepository appends audit entries to an order's history.
type HistoryRepository interface {
	Append(ctx context.Context, e HistoryEntry) error
}
