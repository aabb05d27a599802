package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition_CleanupEdges(t *testing.T) {
	// The edges the cleanup engine relies on.
	allowed := []struct{ from, to State }{
		{StateAddingItems, StateCancelled},
		{StateArrangingPayment, StateCancelled},
		{StatePaymentAuthorized, StatePaymentSettled},
		{StatePaymentSettled, StateCancelled},
		{StatePaymentAuthorized, StateArrangingPayment},
	}
	for _, e := range allowed {
		assert.Truef(t, CanTransition(e.from, e.to), "%s -> %s should be legal", e.from, e.to)
	}
}

func TestCanTransition_NoDirectCancelFromPaymentAuthorized(t *testing.T) {
	// Forces the engine's fallback chains: an authorized payment has to be
	// settled or abandoned before the order can be cancelled.
	assert.False(t, CanTransition(StatePaymentAuthorized, StateCancelled))
}

func TestCanTransition_TerminalStates(t *testing.T) {
	assert.True(t, StateCancelled.IsTerminal())
	assert.True(t, StateDelivered.IsTerminal())
	assert.False(t, StateAddingItems.IsTerminal())

	for to := range transitions {
		assert.Falsef(t, CanTransition(StateCancelled, to), "Cancelled must not transition to %s", to)
	}
}

func TestCanTransition_UnknownState(t *testing.T) {
	assert.False(t, CanTransition(State("Bogus"), StateCancelled))
	assert.False(t, State("Bogus").IsValid())
	assert.True(t, StatePaymentAuthorized.IsValid())
}

func TestValidateTransition_Rejection(t *testing.T) {
	err := ValidateTransition(StatePaymentAuthorized, StateCancelled)
	require.Error(t, err)

	var rej *TransitionRejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, StatePaymentAuthorized, rej.From)
	assert.Equal(t, StateCancelled, rej.To)
	assert.Contains(t, rej.Error(), "PaymentAuthorized")
}

func TestValidateTransition_Legal(t *testing.T) {
	require.NoError(t, ValidateTransition(StateArrangingPayment, StateCancelled))
}
