package application

import (
	"context"
	"log/slog"
	"time"

	paydomain "github.com/cargoquote/payments/internal/payment/domain"
	whdomain "github.com/cargoquote/payments/internal/webhook/domain"
)

// Reconciler applies asynchronous gateway callbacks to the ledger, exactly
// once per event id. Every delivery is recorded for audit before any
// processing decision, including deliveries that fail verification.
type Reconciler struct {
	log    *slog.Logger
	events EventStore
	ledger Reconciliation
	dedup  Deduper
}

func NewReconciler(log *slog.Logger, events EventStore, ledger Reconciliation, dedup Deduper) *Reconciler {
	return &Reconciler{log: log, events: events, ledger: ledger, dedup: dedup}
}

// Process handles one delivery. It returns an error only for transient
// storage failures, where a gateway retry is the right recovery; every other
// outcome (duplicate, bad signature, unparseable reference) is terminal and
// reported as success so the gateway stops retrying.
//
// Deduplication keys on the event being processed, not merely recorded: an
// event whose earlier attempt recorded the audit row but failed before the
// ledger outcome committed is reapplied on retry, and an event whose only
// recorded outcome was a signature mismatch is superseded by a delivery of
// the same id that verifies. Complete and Fail are idempotent, so reapplying
// a finished outcome is a no-op. The Redis fast-path key is released on
// every error return so a gateway retry is never short-circuited past a
// transient failure.
func (r *Reconciler) Process(ctx context.Context, cb whdomain.CallbackResult, payload []byte, verified bool) error {
	key := r.dedup.Key(string(cb.Gateway), cb.EventID)
	if seen, err := r.dedup.Seen(ctx, key); err != nil {
		r.log.Warn("webhook dedup fast-path unavailable", "err", err)
	} else if seen {
		r.log.Info("duplicate webhook skipped", "gateway", cb.Gateway, "event_id", cb.EventID)
		return nil
	}

	ev := whdomain.Event{
		GatewayCode: cb.Gateway,
		EventID:     cb.EventID,
		PayloadHash: whdomain.HashPayload(payload),
		Verified:    verified,
		ReceivedAt:  time.Now().UTC(),
	}
	created, err := r.events.Record(ctx, &ev)
	if err != nil {
		r.dedup.Forget(ctx, key)
		return err
	}
	if !created {
		prev, err := r.events.Find(ctx, cb.Gateway, cb.EventID)
		if err != nil {
			r.dedup.Forget(ctx, key)
			return err
		}
		switch {
		case prev.ProcessedAt == nil:
			// Recorded but never applied: an earlier attempt failed between
			// the audit insert and the ledger outcome. Carry this one
			// through.
			r.log.Info("resuming interrupted webhook", "gateway", cb.Gateway, "event_id", cb.EventID)
		case verified && !prev.Verified:
			// The recorded outcome was a signature mismatch. A delivery of
			// the same id that verifies takes over; a forged or mangled
			// earlier attempt does not burn the event id.
			reopened, err := r.events.Supersede(ctx, cb.Gateway, cb.EventID)
			if err != nil {
				r.dedup.Forget(ctx, key)
				return err
			}
			if !reopened {
				return nil
			}
			r.log.Info("verified webhook supersedes unverified event",
				"gateway", cb.Gateway, "event_id", cb.EventID)
		default:
			r.log.Info("webhook already processed", "gateway", cb.Gateway, "event_id", cb.EventID)
			return nil
		}
	}

	if !verified {
		// Recorded for audit, never applied: a forged callback must not be
		// able to mark a payment paid.
		r.log.Warn("webhook signature mismatch",
			"gateway", cb.Gateway, "event_id", cb.EventID, "payload_hash", ev.PayloadHash)
		if err := r.events.MarkProcessed(ctx, cb.Gateway, cb.EventID, "signature mismatch"); err != nil {
			r.dedup.Forget(ctx, key)
			return err
		}
		// The fast-path key must not outlive this disposition: a later
		// delivery of the same id that verifies has to reach the store,
		// where Supersede decides.
		r.dedup.Forget(ctx, key)
		return nil
	}

	if err := r.apply(ctx, cb); err != nil {
		r.dedup.Forget(ctx, key)
		return err
	}
	return nil
}

// Acknowledge records a delivery this service takes no action on, so the
// audit trail still shows receipt, and immediately marks it processed with a
// note explaining why nothing was applied.
func (r *Reconciler) Acknowledge(ctx context.Context, cb whdomain.CallbackResult, payload []byte, verified bool, note string) error {
	key := r.dedup.Key(string(cb.Gateway), cb.EventID)
	if seen, err := r.dedup.Seen(ctx, key); err != nil {
		r.log.Warn("webhook dedup fast-path unavailable", "err", err)
	} else if seen {
		return nil
	}

	ev := whdomain.Event{
		GatewayCode: cb.Gateway,
		EventID:     cb.EventID,
		PayloadHash: whdomain.HashPayload(payload),
		Verified:    verified,
		ReceivedAt:  time.Now().UTC(),
	}
	if _, err := r.events.Record(ctx, &ev); err != nil {
		r.dedup.Forget(ctx, key)
		return err
	}
	if err := r.events.MarkProcessed(ctx, cb.Gateway, cb.EventID, note); err != nil {
		r.dedup.Forget(ctx, key)
		return err
	}
	return nil
}

// apply carries a recorded, verified event through ledger lookup and the
// confirmed outcome. Terminal dispositions mark the event processed and
// return nil; only storage failures propagate.
func (r *Reconciler) apply(ctx context.Context, cb whdomain.CallbackResult) error {
	if cb.TransactionID == "" {
		r.log.Warn("webhook carries no transaction reference", "gateway", cb.Gateway, "event_id", cb.EventID)
		return r.events.MarkProcessed(ctx, cb.Gateway, cb.EventID, "missing transaction reference")
	}
	txn, err := r.ledger.Get(ctx, cb.TransactionID)
	if err != nil {
		r.log.Warn("webhook references unknown transaction",
			"gateway", cb.Gateway, "event_id", cb.EventID, "transaction_id", cb.TransactionID, "err", err)
		return r.events.MarkProcessed(ctx, cb.Gateway, cb.EventID, "unknown transaction "+cb.TransactionID)
	}

	quoteIDs, ok := whdomain.ParseReference(cb.Reference)
	if !ok {
		r.log.Warn("webhook reference unparseable",
			"gateway", cb.Gateway, "event_id", cb.EventID, "reference", cb.Reference)
		return r.events.MarkProcessed(ctx, cb.Gateway, cb.EventID, "unparseable reference")
	}
	if quoteIDs == nil {
		quoteIDs = txn.QuoteIDs
	}

	gatewayTxnID := cb.GatewayTxnID
	if gatewayTxnID == "" {
		gatewayTxnID = txn.GatewayTransactionID
	}

	if cb.Succeeded {
		if txn.PaymentState != paydomain.StateRecorded &&
			!txn.PaymentState.CanTransition(paydomain.StateRecorded) {
			// A failed row means no external side effect occurred; a success
			// callback cannot complete it.
			r.log.Warn("success callback for non-completable transaction",
				"gateway", cb.Gateway, "event_id", cb.EventID,
				"transaction_id", txn.TransactionID, "payment_state", txn.PaymentState)
			return r.events.MarkProcessed(ctx, cb.Gateway, cb.EventID,
				"transaction "+txn.TransactionID+" in state "+string(txn.PaymentState))
		}
		if err := r.ledger.Complete(ctx, txn.TransactionID, gatewayTxnID, quoteIDs); err != nil {
			return err
		}
		r.log.Info("payment confirmed",
			"transaction_id", txn.TransactionID, "gateway", cb.Gateway, "quotes", quoteIDs)
	} else {
		if err := r.ledger.Fail(ctx, txn.TransactionID, cb.RawStatus); err != nil {
			return err
		}
		r.log.Info("payment failure confirmed",
			"transaction_id", txn.TransactionID, "gateway", cb.Gateway, "status", cb.RawStatus)
	}

	return r.events.MarkProcessed(ctx, cb.Gateway, cb.EventID, "")
}
