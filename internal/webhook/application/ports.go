package application

import (
	"context"

	paydomain "github.com/cargoquote/payments/internal/payment/domain"
	whdomain "github.com/cargoquote/payments/internal/webhook/domain"
)

// EventStore persists received callbacks. Record must be safe under
// concurrent duplicate delivery: the (gateway_code, event_id) uniqueness
// constraint decides, and a conflict reports created=false, not an error.
type EventStore interface {
	Record(ctx context.Context, ev *whdomain.Event) (created bool, err error)
	// Find loads the recorded event; its ProcessedAt tells a retry whether
	// the outcome was already applied or the earlier attempt died partway.
	Find(ctx context.Context, gateway paydomain.GatewayCode, eventID string) (*whdomain.Event, error)
	MarkProcessed(ctx context.Context, gateway paydomain.GatewayCode, eventID, processingError string) error
	// Supersede reopens an event whose only recorded outcome was a failed
	// signature check, so a delivery of the same id that verifies can apply.
	// Reports whether the event was reopened; losing a concurrent race is
	// reported as false, not an error.
	Supersede(ctx context.Context, gateway paydomain.GatewayCode, eventID string) (bool, error)
}

// Reconciliation is the ledger surface the reconciler drives. Complete and
// Fail apply the business outcome; they never rewind paymentState.
type Reconciliation interface {
	Get(ctx context.Context, transactionID string) (*paydomain.PaymentTransaction, error)
	// Complete marks the transaction completed, repairs an orphaned
	// paymentState, transitions the quotes to paid and enqueues the
	// completion event, all in one storage transaction.
	Complete(ctx context.Context, transactionID, gatewayTxnID string, quoteIDs []string) error
	// Fail marks the business status failed and leaves quotes unchanged.
	Fail(ctx context.Context, transactionID, reason string) error
}

// Deduper is the advisory fast-path in front of the storage constraint.
type Deduper interface {
	Key(gateway, eventID string) string
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string)
}
