package application

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cargoquote/payments/internal/gateway"
	"github.com/cargoquote/payments/internal/payment/domain"
	"github.com/cargoquote/payments/internal/quote"
	"github.com/cargoquote/payments/internal/session"
	"github.com/cargoquote/payments/pkg/currency"
	"github.com/cargoquote/payments/pkg/logging"
)

// Compensation step markers recorded when an attempt fails partway.
const (
	stepExternalCall = "external_call"
	stepLedgerUpdate = "ledger_update"
	stepRecordAudit  = "record_audit"
)

const genericFailure = "payment could not be processed"

// CreatePaymentRequest is the validated-shape input from the checkout UI.
type CreatePaymentRequest struct {
	QuoteIDs      []string
	Gateway       domain.GatewayCode
	SuccessURL    string
	CancelURL     string
	Amount        string // optional decimal string; derived from quotes when empty
	Currency      string // optional; defaults to the quotes' currency
	CustomerName  string
	CustomerEmail string
	BearerToken   string
	GuestToken    string
	Metadata      map[string]string
}

// CreatePaymentResponse is the caller-facing result. Exactly one of
// ClientSecret, RedirectURL or FormFields is set on success for external
// gateways; Manual marks methods with no client-side tracking.
type CreatePaymentResponse struct {
	Success       bool
	TransactionID string
	ClientSecret  string
	RedirectURL   string
	FormEndpoint  string
	FormFields    map[string]string
	Manual        bool
	Error         string
}

// Orchestrator is the payment-creation entry point: it validates input,
// resolves authorization, normalizes the amount, writes the write-ahead
// ledger row, invokes the gateway adapter and classifies every failure into
// the compensation state machine.
type Orchestrator struct {
	log      *slog.Logger
	ledger   Ledger
	quotes   QuoteReader
	sessions SessionValidator
	limiter  RateLimiter
	registry *gateway.Registry
}

func NewOrchestrator(log *slog.Logger, ledger Ledger, quotes QuoteReader, sessions SessionValidator, limiter RateLimiter, registry *gateway.Registry) *Orchestrator {
	return &Orchestrator{
		log:      log,
		ledger:   ledger,
		quotes:   quotes,
		sessions: sessions,
		limiter:  limiter,
		registry: registry,
	}
}

// CreatePayment runs one payment attempt. Validation and authorization
// failures return before any ledger row exists; everything after the
// write-ahead insert is caught and classified, never silently lost.
func (o *Orchestrator) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResponse, error) {
	if len(req.QuoteIDs) == 0 {
		return nil, domain.NewError(domain.KindValidation, "at least one quote id required")
	}
	if !req.Gateway.Known() {
		return nil, domain.NewError(domain.KindUnsupported, "unsupported gateway "+string(req.Gateway))
	}
	adapter, err := o.registry.Resolve(req.Gateway)
	if err != nil {
		return nil, err
	}

	verdict, err := o.sessions.Resolve(ctx, req.BearerToken, req.GuestToken)
	if err != nil {
		return nil, err
	}

	limitKey := verdict.UserID
	if limitKey == "" {
		limitKey = "guest:" + verdict.GuestQuoteID
	}
	if ok, err := o.limiter.Allow(ctx, limitKey); err != nil {
		o.log.Error("rate limiter unavailable", "err", err)
	} else if !ok {
		return nil, domain.NewError(domain.KindValidation, "too many payment attempts, try again shortly")
	}

	quotes, err := o.quotes.GetQuotes(ctx, req.QuoteIDs)
	if err != nil {
		return nil, err
	}
	if err := o.checkOwnership(verdict, quotes); err != nil {
		return nil, err
	}
	for _, q := range quotes {
		// Read-then-act without a lock: a terminal status observed here
		// aborts before any external call. Concurrent races settle at the
		// webhook's idempotent reconciliation.
		if !q.Status.Payable() {
			return nil, domain.NewError(domain.KindValidation, "quote "+q.ID+" is not payable (status "+string(q.Status)+")")
		}
	}

	amountMajor, curr, err := o.resolveAmount(req, quotes)
	if err != nil {
		return nil, err
	}
	amountMinor, err := currency.ToMinorUnits(amountMajor, curr)
	if err != nil {
		return nil, err
	}
	if amountMinor <= 0 {
		return nil, domain.NewError(domain.KindValidation, "amount must be positive")
	}

	txnID := "TXN-" + uuid.NewString()
	txn := domain.NewTransaction(txnID, req.Gateway, req.QuoteIDs, amountMinor, amountMajor.String(), curr)
	if req.GuestToken != "" {
		txn.Metadata[domain.MetaGuestSession] = req.GuestToken
	}
	if req.CustomerName != "" {
		txn.Metadata[domain.MetaCustomerName] = req.CustomerName
	}
	if req.CustomerEmail != "" {
		txn.Metadata[domain.MetaCustomerEmail] = req.CustomerEmail
	}
	for k, v := range req.Metadata {
		txn.Metadata[k] = v
	}

	// Write-ahead: the row exists before the gateway sees anything, so an
	// external success can never occur without a local record to reconcile
	// against.
	if err := o.ledger.Insert(ctx, &txn); err != nil {
		return nil, err
	}

	res, err := adapter.CreatePayment(ctx, gateway.Request{
		TransactionID: txnID,
		QuoteIDs:      req.QuoteIDs,
		AmountMinor:   amountMinor,
		AmountMajor:   currency.FormatMajor(amountMajor),
		Currency:      curr,
		Description:   describeQuotes(req.QuoteIDs),
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
	})
	if err != nil {
		return o.failAttempt(ctx, txnID, stepExternalCall, err)
	}

	if !req.Gateway.IsManual() {
		if err := o.ledger.MarkExternalCreated(ctx, txnID, res.GatewayTransactionID, res.Raw); err != nil {
			// The charge attempt exists upstream; losing the local update
			// must leave a discoverable trace, not a silent success.
			return o.orphanAttempt(ctx, txnID, stepLedgerUpdate, err)
		}
	}
	if err := o.ledger.MarkRecorded(ctx, txnID, txn.Metadata); err != nil {
		if req.Gateway.IsManual() {
			return o.failAttempt(ctx, txnID, stepRecordAudit, err)
		}
		return o.orphanAttempt(ctx, txnID, stepRecordAudit, err)
	}

	o.log.Info("payment created",
		"transaction_id", txnID,
		"gateway", req.Gateway,
		"amount_minor", amountMinor,
		"currency", curr,
		"customer", logging.MaskEmail(req.CustomerEmail),
	)
	return &CreatePaymentResponse{
		Success:       true,
		TransactionID: txnID,
		ClientSecret:  res.ClientSecret,
		RedirectURL:   res.RedirectURL,
		FormEndpoint:  res.FormEndpoint,
		FormFields:    res.FormFields,
		Manual:        req.Gateway.IsManual(),
	}, nil
}

// GetTransaction returns a ledger row for status display.
func (o *Orchestrator) GetTransaction(ctx context.Context, transactionID string) (*domain.PaymentTransaction, error) {
	return o.ledger.Get(ctx, transactionID)
}

// checkOwnership applies the authorization rules: an authenticated user may
// pay only for quotes they own; a guest session may pay for exactly the one
// quote it is bound to.
func (o *Orchestrator) checkOwnership(v session.Verdict, quotes []quote.Quote) error {
	if v.Authenticated {
		for _, q := range quotes {
			if q.OwnerID != v.UserID {
				return domain.NewError(domain.KindForbidden, "quote "+q.ID+" does not belong to the caller")
			}
		}
		return nil
	}
	if len(quotes) != 1 || quotes[0].ID != v.GuestQuoteID {
		return domain.NewError(domain.KindAuthorization, "guest session is not bound to the requested quotes")
	}
	return nil
}

func (o *Orchestrator) resolveAmount(req CreatePaymentRequest, quotes []quote.Quote) (decimal.Decimal, string, error) {
	if req.Amount != "" {
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			return decimal.Decimal{}, "", domain.WrapError(domain.KindValidation, "malformed amount", err)
		}
		curr := req.Currency
		if curr == "" {
			curr = quotes[0].Currency
		}
		return amt, curr, nil
	}

	curr := quotes[0].Currency
	total := decimal.Zero
	for _, q := range quotes {
		if q.Currency != curr {
			return decimal.Decimal{}, "", domain.NewError(domain.KindValidation, "quotes span multiple currencies")
		}
		amt, err := decimal.NewFromString(q.FinalTotal)
		if err != nil {
			return decimal.Decimal{}, "", domain.WrapError(domain.KindValidation, "quote "+q.ID+" has malformed total", err)
		}
		total = total.Add(amt)
	}
	return total, curr, nil
}

// failAttempt classifies an error where no external side effect occurred,
// recording which step broke. A timed-out external call is the exception:
// the charge may exist upstream, so the row is orphaned for webhook or
// operator reconciliation instead. Replaying the call here would risk a
// double charge.
func (o *Orchestrator) failAttempt(ctx context.Context, txnID, step string, cause error) (*CreatePaymentResponse, error) {
	if step == stepExternalCall && isTimeout(cause) {
		return o.orphanAttempt(ctx, txnID, step, cause)
	}
	o.log.Error("payment attempt failed", "transaction_id", txnID, "step", step, "err", cause)
	if err := o.ledger.MarkFailed(ctx, txnID, step, cause.Error()); err != nil {
		o.log.Error("failed-state write failed", "transaction_id", txnID, "err", err)
	}
	return o.failureResponse(txnID, cause), nil
}

func (o *Orchestrator) orphanAttempt(ctx context.Context, txnID, step string, cause error) (*CreatePaymentResponse, error) {
	o.log.Error("payment attempt orphaned", "transaction_id", txnID, "step", step, "err", cause)
	if err := o.ledger.MarkOrphaned(ctx, txnID, step, cause.Error()); err != nil {
		o.log.Error("orphaned-state write failed", "transaction_id", txnID, "err", err)
	}
	return o.failureResponse(txnID, cause), nil
}

// failureResponse maps an internal error to the caller-facing shape. Gateway
// and persistence detail stays in the logs.
func (o *Orchestrator) failureResponse(txnID string, cause error) *CreatePaymentResponse {
	msg := genericFailure
	if kind := domain.KindOf(cause); domain.UserSafe(kind) {
		var pe *domain.Error
		if errors.As(cause, &pe) {
			msg = pe.Msg
		}
	}
	return &CreatePaymentResponse{TransactionID: txnID, Error: msg}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func describeQuotes(ids []string) string {
	desc := "shipping quote"
	if len(ids) > 1 {
		desc += "s"
	}
	for i, id := range ids {
		if i == 0 {
			desc += " " + id
		} else {
			desc += ", " + id
		}
	}
	return desc
}
