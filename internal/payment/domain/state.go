package domain

import "sort"

// PaymentState is the fine-grained compensation lifecycle of a payment
// attempt. The external gateway call and the local database write cannot be
// made atomic, so every attempt is tracked through an explicit state machine:
// the row is inserted before the external call (write-ahead), and a partial
// failure always lands in a state that says which side effect happened.
type PaymentState string

const (
	StateInitialized     PaymentState = "initialized"
	StatePending         PaymentState = "pending"
	StateExternalCreated PaymentState = "external_created"
	// StateRecorded: external success plus all local bookkeeping durably
	// committed. The only state from which the synchronous response reports
	// success.
	StateRecorded PaymentState = "db_recorded"
	// StateFailed: no external side effect occurred.
	StateFailed PaymentState = "failed"
	// StateOrphaned: the external side effect occurred but local bookkeeping
	// did not complete. Needs reconciliation via webhook or operator action.
	StateOrphaned PaymentState = "orphaned"
)

var transitions = map[PaymentState][]PaymentState{
	StateInitialized:     {StatePending, StateFailed},
	StatePending:         {StateExternalCreated, StateRecorded, StateFailed, StateOrphaned},
	StateExternalCreated: {StateRecorded, StateOrphaned},
	// Orphaned rows may be repaired by a webhook that carries the missing
	// external reference.
	StateOrphaned: {StateRecorded},
}

// CanTransition reports whether moving from s to next is legal. paymentState
// never rewinds.
func (s PaymentState) CanTransition(next PaymentState) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// StatesAllowing returns every state from which next is a legal transition,
// in stable order. The storage layer builds its UPDATE guards from this, so
// the SQL and the transition table cannot drift apart.
func StatesAllowing(next PaymentState) []PaymentState {
	var out []PaymentState
	for from := range transitions {
		if from.CanTransition(next) {
			out = append(out, from)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
