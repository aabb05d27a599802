package order

import "fmt"

// State represents the lifecycle state of an order.
type State string

const (
	StateCreated                    State = "Created"
	StateDraft                      State = "Draft"
	StateAddingItems                State = "AddingItems"
	StateArrangingPayment           State = "ArrangingPayment"
	StatePaymentAuthorized          State = "PaymentAuthorized"
	StatePaymentSettled             State = "PaymentSettled"
	StatePartiallyShipped           State = "PartiallyShipped"
	StateShipped                    State = "Shipped"
	StatePartiallyDelivered         State = "PartiallyDelivered"
	StateDelivered                  State = "Delivered"
	StateModifying                  State = "Modifying"
	StateArrangingAdditionalPayment State = "ArrangingAdditionalPayment"
	StateCancelled                  State = "Cancelled"
)

func (s State) String() string { return string(s) }

// IsValid reports whether s is a known order state.
func (s State) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether an order in this state can never move again.
func (s State) IsTerminal() bool {
	return len(transitions[s]) == 0 && s.IsValid()
}

// PendingStates are the non-terminal, payment-pending states a stale order
// can be stuck in. Orders in these states past the age threshold get swept.
var PendingStates = []State{
	StateAddingItems,
	StateArrangingPayment,
	StatePaymentAuthorized,
}

// transitions is the authoritative order state graph. The key is the current
// state; the value lists every state directly reachable from it. An order may
// only move along these edges; ForceState is the sole designed exception.
//
// PaymentAuthorized deliberately has no edge to Cancelled: an authorized
// payment has to be settled or abandoned before the order can be cancelled,
// which is what the cleanup engine's fallback chains walk.
var transitions = map[State][]State{
	StateCreated: {
		StateAddingItems,
		StateDraft,
	},
	StateDraft: {
		StateArrangingPayment,
		StateCancelled,
	},
	StateAddingItems: {
		StateArrangingPayment,
		StateCancelled,
	},
	StateArrangingPayment: {
		StateAddingItems,
		StatePaymentAuthorized,
		StatePaymentSettled,
		StateCancelled,
	},
	StatePaymentAuthorized: {
		StatePaymentSettled,
		StateArrangingPayment,
		StateModifying,
	},
	StatePaymentSettled: {
		StatePartiallyShipped,
		StateShipped,
		StateModifying,
		StateArrangingAdditionalPayment,
		StateCancelled,
	},
	StatePartiallyShipped: {
		StateShipped,
		StatePartiallyDelivered,
		StateCancelled,
	},
	StateShipped: {
		StatePartiallyDelivered,
		StateDelivered,
		StateCancelled,
	},
	StatePartiallyDelivered: {
		StateDelivered,
		StateCancelled,
	},
	StateModifying: {
		StateArrangingAdditionalPayment,
		StatePaymentSettled,
	},
	StateArrangingAdditionalPayment: {
		StatePaymentSettled,
		StateCancelled,
	},
	StateDelivered: {},
	StateCancelled: {},
}

// CanTransition reports whether the graph contains an edge from one state to
// another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a TransitionRejectedError if the edge from→to is
// not in the graph.
func ValidateTransition(from, to State) error {
	if !CanTransition(from, to) {
		return &TransitionRejectedError{
			From:   from,
			To:     to,
			Reason: fmt.Sprintf("no transition from %s to %s", from, to),
		}
	}
	return nil
}

// TransitionRejectedError is the structured rejection returned when a state
// transition is refused, either because the graph has no such edge or because
// a business rule vetoed it.
type TransitionRejectedError struct {
	OrderCode string
	From      State
	To        State
	Reason    string
}

func (e *TransitionRejectedError) Error() string {
	if e.OrderCode != "" {
		return fmt.Sprintf("order %s: transition %s -> %s rejected: %s", e.OrderCode, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("transition %s -> %s rejected: %s", e.From, e.To, e.Reason)
}
