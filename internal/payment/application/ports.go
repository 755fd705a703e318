package application

import (
	"context"
	"encoding/json"

	"github.com/cargoquote/payments/internal/payment/domain"
	"github.com/cargoquote/payments/internal/quote"
	"github.com/cargoquote/payments/internal/session"
)

// Ledger persists payment transactions and drives the compensation state
// machine. Implementations must enforce the transition rules in
// domain.PaymentState and must never delete rows.
type Ledger interface {
	// Insert writes the write-ahead row in state pending, before any
	// external call is made.
	Insert(ctx context.Context, tx *domain.PaymentTransaction) error
	// MarkExternalCreated records the gateway's acceptance, capturing its
	// transaction id and raw response verbatim.
	MarkExternalCreated(ctx context.Context, transactionID, gatewayTxnID string, raw json.RawMessage) error
	// MarkRecorded commits the final local bookkeeping; the only state from
	// which the synchronous response reports success.
	MarkRecorded(ctx context.Context, transactionID string, metadata map[string]string) error
	// MarkFailed classifies an attempt where no external side effect
	// occurred.
	MarkFailed(ctx context.Context, transactionID, step, errCtx string) error
	// MarkOrphaned classifies an attempt where the external side effect
	// occurred but local bookkeeping did not complete.
	MarkOrphaned(ctx context.Context, transactionID, step, errCtx string) error
	Get(ctx context.Context, transactionID string) (*domain.PaymentTransaction, error)
}

// QuoteReader loads the quotes a payment references.
type QuoteReader interface {
	GetQuotes(ctx context.Context, ids []string) ([]quote.Quote, error)
}

// SessionValidator resolves the caller's identity. The orchestrator treats
// the verdict as opaque and applies the ownership rules itself.
type SessionValidator interface {
	Resolve(ctx context.Context, bearer, guestToken string) (session.Verdict, error)
}

// RateLimiter guards per-caller payment-creation rate.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
