package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaymentStateTransitions(t *testing.T) {
	tests := []struct {
		name string
		from PaymentState
		to   PaymentState
		ok   bool
	}{
		{"write-ahead insert", StateInitialized, StatePending, true},
		{"external accepted", StatePending, StateExternalCreated, true},
		{"bookkeeping committed", StateExternalCreated, StateRecorded, true},
		{"manual method skips external", StatePending, StateRecorded, true},
		{"failure before external", StatePending, StateFailed, true},
		{"failure after external", StateExternalCreated, StateOrphaned, true},
		{"webhook repairs orphan", StateOrphaned, StateRecorded, true},
		{"no rewind from recorded", StateRecorded, StatePending, false},
		{"no rewind from external", StateExternalCreated, StatePending, false},
		{"failed is terminal", StateFailed, StatePending, false},
		{"failed cannot become recorded", StateFailed, StateRecorded, false},
		{"orphan cannot fail", StateOrphaned, StateFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestStatesAllowing(t *testing.T) {
	assert.Equal(t, []PaymentState{StatePending}, StatesAllowing(StateExternalCreated))
	assert.Equal(t, []PaymentState{StateExternalCreated, StateOrphaned, StatePending},
		StatesAllowing(StateRecorded))
	assert.Equal(t, []PaymentState{StateInitialized, StatePending}, StatesAllowing(StateFailed))
	assert.Equal(t, []PaymentState{StateExternalCreated, StatePending}, StatesAllowing(StateOrphaned))
	assert.Empty(t, StatesAllowing(StateInitialized), "nothing precedes the initial state")
}

func TestGatewayCode(t *testing.T) {
	assert.True(t, GatewayBankTransfer.IsManual())
	assert.True(t, GatewayCashOnDelivery.IsManual())
	assert.False(t, GatewayCard.IsManual())
	assert.True(t, GatewayPayFast.Known())
	assert.False(t, GatewayCode("venmo").Known())
}
