package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cargoquote/payments/internal/payment/domain"
	"github.com/cargoquote/payments/pkg/tracing"
)

// Repository is the transaction ledger. It serves both the orchestrator's
// synchronous state transitions and the webhook reconciler's confirmed
// outcomes; the latter commit the payment update, the quote transition and
// the outbox event in one database transaction.
type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) Insert(ctx context.Context, t *domain.PaymentTransaction) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.WrapError(domain.KindPersistence, "ledger insert tx begin failed", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO payments (transaction_id, gateway_code, quote_ids, amount_minor, amount_major,
			currency, status, payment_state, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, t.TransactionID, t.GatewayCode, t.QuoteIDs, t.AmountMinor, t.AmountMajor,
		t.Currency, t.Status, t.PaymentState, t.Metadata, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return domain.WrapError(domain.KindPersistence, "ledger insert failed", err)
	}

	payload, _ := json.Marshal(domain.PaymentInitiated{
		TransactionID: t.TransactionID,
		GatewayCode:   t.GatewayCode,
		QuoteIDs:      t.QuoteIDs,
		AmountMinor:   t.AmountMinor,
		Currency:      t.Currency,
	})
	if err := r.enqueue(ctx, tx, t.TransactionID, "PaymentInitiated", payload); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.WrapError(domain.KindPersistence, "ledger insert commit failed", err)
	}
	return nil
}

func (r *Repository) MarkExternalCreated(ctx context.Context, transactionID, gatewayTxnID string, raw json.RawMessage) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payments
		SET payment_state = 'external_created', gateway_transaction_id = $2,
			gateway_response = $3, updated_at = $4
		WHERE transaction_id = $1 AND payment_state = ANY($5)
	`, transactionID, gatewayTxnID, raw, time.Now().UTC(),
		stateList(domain.StatesAllowing(domain.StateExternalCreated)))
	if err != nil {
		return domain.WrapError(domain.KindPersistence, "external_created update failed", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.KindPersistence, "transaction "+transactionID+" not in pending state")
	}
	return nil
}

func (r *Repository) MarkRecorded(ctx context.Context, transactionID string, metadata map[string]string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payments
		SET payment_state = 'db_recorded', metadata = $2, updated_at = $3
		WHERE transaction_id = $1 AND payment_state = ANY($4)
	`, transactionID, metadata, time.Now().UTC(),
		stateList(domain.StatesAllowing(domain.StateRecorded)))
	if err != nil {
		return domain.WrapError(domain.KindPersistence, "db_recorded update failed", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.KindPersistence, "transaction "+transactionID+" not recordable")
	}
	return nil
}

func (r *Repository) MarkFailed(ctx context.Context, transactionID, step, errCtx string) error {
	return r.terminate(ctx, transactionID, domain.StateFailed, step, errCtx)
}

func (r *Repository) MarkOrphaned(ctx context.Context, transactionID, step, errCtx string) error {
	return r.terminate(ctx, transactionID, domain.StateOrphaned, step, errCtx)
}

// terminate stamps a terminal compensation state, preserving which step was
// last completed and the error context in metadata. The discriminator is what
// tells an operator whether to retry the local update or reconcile against
// the gateway.
func (r *Repository) terminate(ctx context.Context, transactionID string, state domain.PaymentState, step, errCtx string) error {
	marker := map[string]string{
		domain.MetaFailedStep:   step,
		domain.MetaErrorContext: errCtx,
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE payments
		SET payment_state = $2, status = 'failed',
			metadata = metadata || $3, updated_at = $4
		WHERE transaction_id = $1 AND payment_state = ANY($5)
	`, transactionID, state, marker, time.Now().UTC(),
		stateList(domain.StatesAllowing(state)))
	if err != nil {
		return domain.WrapError(domain.KindPersistence, "terminal state update failed", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, transactionID string) (*domain.PaymentTransaction, error) {
	var t domain.PaymentTransaction
	var gatewayTxnID *string
	err := r.pool.QueryRow(ctx, `
		SELECT transaction_id, gateway_code, quote_ids, amount_minor, amount_major, currency,
			status, payment_state, gateway_transaction_id, gateway_response, metadata,
			created_at, updated_at
		FROM payments
		WHERE transaction_id = $1
	`, transactionID).Scan(&t.TransactionID, &t.GatewayCode, &t.QuoteIDs, &t.AmountMinor,
		&t.AmountMajor, &t.Currency, &t.Status, &t.PaymentState, &gatewayTxnID,
		&t.GatewayResponse, &t.Metadata, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, domain.WrapError(domain.KindPersistence, "ledger read failed", err)
	}
	if gatewayTxnID != nil {
		t.GatewayTransactionID = *gatewayTxnID
	}
	return &t, nil
}

// Complete applies a webhook-confirmed success: business status completed, an
// orphaned paymentState repaired to db_recorded, quotes transitioned to paid
// and the completion event enqueued on the outbox. Reapplying to an already
// completed transaction is a no-op, and a row whose paymentState cannot reach
// db_recorded (terminally failed) is never completed.
func (r *Repository) Complete(ctx context.Context, transactionID, gatewayTxnID string, quoteIDs []string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.WrapError(domain.KindPersistence, "completion tx begin failed", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	now := time.Now().UTC()
	completable := append(domain.StatesAllowing(domain.StateRecorded), domain.StateRecorded)
	var gatewayCode domain.GatewayCode
	var amountMinor int64
	var currency string
	err = tx.QueryRow(ctx, `
		UPDATE payments
		SET status = 'completed', payment_state = 'db_recorded',
			gateway_transaction_id = COALESCE(NULLIF($2, ''), gateway_transaction_id),
			updated_at = $3
		WHERE transaction_id = $1 AND status <> 'completed' AND payment_state = ANY($4)
		RETURNING gateway_code, amount_minor, currency
	`, transactionID, gatewayTxnID, now, stateList(completable)).Scan(&gatewayCode, &amountMinor, &currency)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already completed by an earlier delivery, or db_recorded is not
		// reachable from the row's state.
		var status string
		var state domain.PaymentState
		if qerr := tx.QueryRow(ctx, `
			SELECT status, payment_state FROM payments WHERE transaction_id = $1
		`, transactionID).Scan(&status, &state); qerr == nil && status != string(domain.StatusCompleted) {
			r.log.Warn("completion skipped for non-completable transaction",
				"transaction_id", transactionID, "payment_state", state)
		}
		return tx.Commit(ctx)
	}
	if err != nil {
		return domain.WrapError(domain.KindPersistence, "completion update failed", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE quotes
		SET status = 'paid', payment_transaction_id = $2, paid_at = $3, updated_at = $3
		WHERE id = ANY($1) AND status <> 'paid'
	`, quoteIDs, transactionID, now)
	if err != nil {
		return domain.WrapError(domain.KindPersistence, "quote paid update failed", err)
	}

	payload, _ := json.Marshal(domain.PaymentCompleted{
		TransactionID:        transactionID,
		GatewayCode:          gatewayCode,
		GatewayTransactionID: gatewayTxnID,
		QuoteIDs:             quoteIDs,
		AmountMinor:          amountMinor,
		Currency:             currency,
	})
	if err := r.enqueue(ctx, tx, transactionID, "PaymentCompleted", payload); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.WrapError(domain.KindPersistence, "completion commit failed", err)
	}
	return nil
}

// Fail applies a webhook-confirmed failure. Quotes stay untouched and
// paymentState is never rewound; only the business status moves.
func (r *Repository) Fail(ctx context.Context, transactionID, reason string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.WrapError(domain.KindPersistence, "failure tx begin failed", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var gatewayCode domain.GatewayCode
	var quoteIDs []string
	err = tx.QueryRow(ctx, `
		UPDATE payments
		SET status = 'failed', updated_at = $2
		WHERE transaction_id = $1 AND status NOT IN ('completed', 'failed')
		RETURNING gateway_code, quote_ids
	`, transactionID, time.Now().UTC()).Scan(&gatewayCode, &quoteIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return tx.Commit(ctx)
	}
	if err != nil {
		return domain.WrapError(domain.KindPersistence, "failure update failed", err)
	}

	payload, _ := json.Marshal(domain.PaymentFailed{
		TransactionID: transactionID,
		GatewayCode:   gatewayCode,
		QuoteIDs:      quoteIDs,
		Reason:        reason,
	})
	if err := r.enqueue(ctx, tx, transactionID, "PaymentFailed", payload); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.WrapError(domain.KindPersistence, "failure commit failed", err)
	}
	return nil
}

func stateList(states []domain.PaymentState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

func (r *Repository) enqueue(ctx context.Context, tx pgx.Tx, aggregateID, eventType string, payload []byte) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, traceparent, status)
		VALUES ('payment', $1, $2, $3, $4, 'pending')
	`, aggregateID, eventType, payload, tracing.Traceparent(ctx))
	if err != nil {
		return domain.WrapError(domain.KindPersistence, "outbox enqueue failed", err)
	}
	return nil
}
