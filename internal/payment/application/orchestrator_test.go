package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cargoquote/payments/internal/gateway"
	"github.com/cargoquote/payments/internal/payment/domain"
	"github.com/cargoquote/payments/internal/quote"
	"github.com/cargoquote/payments/internal/session"
	"github.com/cargoquote/payments/pkg/logging"
)

type fakeLedger struct {
	inserted    *domain.PaymentTransaction
	insertErr   error
	externalErr error
	recordedErr error

	markedExternal bool
	gatewayTxnID   string
	recorded       bool
	failedStep     string
	orphanedStep   string
}

func (f *fakeLedger) Insert(_ context.Context, tx *domain.PaymentTransaction) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = tx
	return nil
}

func (f *fakeLedger) MarkExternalCreated(_ context.Context, _, gatewayTxnID string, _ json.RawMessage) error {
	if f.externalErr != nil {
		return f.externalErr
	}
	f.markedExternal = true
	f.gatewayTxnID = gatewayTxnID
	return nil
}

func (f *fakeLedger) MarkRecorded(_ context.Context, _ string, _ map[string]string) error {
	if f.recordedErr != nil {
		return f.recordedErr
	}
	f.recorded = true
	return nil
}

func (f *fakeLedger) MarkFailed(_ context.Context, _, step, _ string) error {
	f.failedStep = step
	return nil
}

func (f *fakeLedger) MarkOrphaned(_ context.Context, _, step, _ string) error {
	f.orphanedStep = step
	return nil
}

func (f *fakeLedger) Get(_ context.Context, _ string) (*domain.PaymentTransaction, error) {
	return f.inserted, nil
}

type fakeQuotes struct {
	quotes []quote.Quote
	err    error
}

func (f *fakeQuotes) GetQuotes(_ context.Context, _ []string) ([]quote.Quote, error) {
	return f.quotes, f.err
}

type fakeSessions struct {
	verdict session.Verdict
	err     error
}

func (f *fakeSessions) Resolve(_ context.Context, _, _ string) (session.Verdict, error) {
	return f.verdict, f.err
}

type fakeLimiter struct{ deny bool }

func (f *fakeLimiter) Allow(_ context.Context, _ string) (bool, error) {
	return !f.deny, nil
}

type fakeAdapter struct {
	code   domain.GatewayCode
	result *gateway.Result
	err    error
	called bool
}

func (f *fakeAdapter) Code() domain.GatewayCode { return f.code }

func (f *fakeAdapter) CreatePayment(_ context.Context, _ gateway.Request) (*gateway.Result, error) {
	f.called = true
	return f.result, f.err
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func userQuote(id, owner string) quote.Quote {
	return quote.Quote{ID: id, Status: quote.StatusApproved, FinalTotal: "100.00", Currency: "USD", OwnerID: owner}
}

func newTestOrchestrator(ledger *fakeLedger, quotes *fakeQuotes, sessions *fakeSessions, limiter *fakeLimiter, adapters ...gateway.Adapter) *Orchestrator {
	return NewOrchestrator(logging.New(), ledger, quotes, sessions, limiter, gateway.NewRegistry(adapters...))
}

func authedReq(gw domain.GatewayCode, quoteIDs ...string) CreatePaymentRequest {
	return CreatePaymentRequest{
		QuoteIDs:    quoteIDs,
		Gateway:     gw,
		BearerToken: "tok",
		SuccessURL:  "https://shop.example.com/ok",
		CancelURL:   "https://shop.example.com/no",
	}
}

func TestCreatePaymentHappyPath(t *testing.T) {
	ledger := &fakeLedger{}
	adapter := &fakeAdapter{
		code: domain.GatewayCard,
		result: &gateway.Result{
			Success:              true,
			GatewayTransactionID: "pi_123",
			ClientSecret:         "pi_123_secret",
		},
	}
	o := newTestOrchestrator(ledger,
		&fakeQuotes{quotes: []quote.Quote{userQuote("Q1", "user-1")}},
		&fakeSessions{verdict: session.Verdict{Authenticated: true, UserID: "user-1"}},
		&fakeLimiter{}, adapter)

	resp, err := o.CreatePayment(context.Background(), authedReq(domain.GatewayCard, "Q1"))
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.TransactionID)
	assert.Equal(t, "pi_123_secret", resp.ClientSecret)
	require.NotNil(t, ledger.inserted)
	assert.Equal(t, domain.StatePending, ledger.inserted.PaymentState)
	assert.Equal(t, int64(10000), ledger.inserted.AmountMinor)
	assert.True(t, ledger.markedExternal)
	assert.Equal(t, "pi_123", ledger.gatewayTxnID)
	assert.True(t, ledger.recorded)
}

func TestCreatePaymentManualSkipsExternalState(t *testing.T) {
	ledger := &fakeLedger{}
	adapter := &fakeAdapter{code: domain.GatewayBankTransfer, result: &gateway.Result{Success: true}}
	o := newTestOrchestrator(ledger,
		&fakeQuotes{quotes: []quote.Quote{userQuote("Q1", "user-1")}},
		&fakeSessions{verdict: session.Verdict{Authenticated: true, UserID: "user-1"}},
		&fakeLimiter{}, adapter)

	resp, err := o.CreatePayment(context.Background(), authedReq(domain.GatewayBankTransfer, "Q1"))
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.True(t, resp.Manual)
	assert.False(t, ledger.markedExternal)
	assert.True(t, ledger.recorded)
}

func TestCreatePaymentGuestMustMatchBoundQuote(t *testing.T) {
	ledger := &fakeLedger{}
	adapter := &fakeAdapter{code: domain.GatewayCard, result: &gateway.Result{Success: true}}
	o := newTestOrchestrator(ledger,
		&fakeQuotes{quotes: []quote.Quote{userQuote("Q1", ""), userQuote("Q2", "")}},
		&fakeSessions{verdict: session.Verdict{GuestQuoteID: "Q1"}},
		&fakeLimiter{}, adapter)

	req := authedReq(domain.GatewayCard, "Q1", "Q2")
	req.BearerToken = ""
	req.GuestToken = "guest-tok"
	_, err := o.CreatePayment(context.Background(), req)

	require.Error(t, err)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
	assert.Nil(t, ledger.inserted, "no ledger row before authorization passes")
	assert.False(t, adapter.called)
}

func TestCreatePaymentForbiddenForForeignQuote(t *testing.T) {
	o := newTestOrchestrator(&fakeLedger{},
		&fakeQuotes{quotes: []quote.Quote{userQuote("Q1", "someone-else")}},
		&fakeSessions{verdict: session.Verdict{Authenticated: true, UserID: "user-1"}},
		&fakeLimiter{}, &fakeAdapter{code: domain.GatewayCard})

	_, err := o.CreatePayment(context.Background(), authedReq(domain.GatewayCard, "Q1"))
	require.Error(t, err)
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))
}

func TestCreatePaymentRejectsPaidQuote(t *testing.T) {
	ledger := &fakeLedger{}
	paid := userQuote("Q1", "user-1")
	paid.Status = quote.StatusPaid
	o := newTestOrchestrator(ledger,
		&fakeQuotes{quotes: []quote.Quote{paid}},
		&fakeSessions{verdict: session.Verdict{Authenticated: true, UserID: "user-1"}},
		&fakeLimiter{}, &fakeAdapter{code: domain.GatewayCard})

	_, err := o.CreatePayment(context.Background(), authedReq(domain.GatewayCard, "Q1"))
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Nil(t, ledger.inserted, "terminal quote aborts before any external call")
}

func TestCreatePaymentUnsupportedGateway(t *testing.T) {
	o := newTestOrchestrator(&fakeLedger{}, &fakeQuotes{}, &fakeSessions{}, &fakeLimiter{})

	_, err := o.CreatePayment(context.Background(), authedReq("carrier_pigeon", "Q1"))
	require.Error(t, err)
	assert.Equal(t, domain.KindUnsupported, domain.KindOf(err))
}

func TestCreatePaymentRateLimited(t *testing.T) {
	o := newTestOrchestrator(&fakeLedger{},
		&fakeQuotes{quotes: []quote.Quote{userQuote("Q1", "user-1")}},
		&fakeSessions{verdict: session.Verdict{Authenticated: true, UserID: "user-1"}},
		&fakeLimiter{deny: true}, &fakeAdapter{code: domain.GatewayCard})

	_, err := o.CreatePayment(context.Background(), authedReq(domain.GatewayCard, "Q1"))
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestCreatePaymentMultiCurrencyQuotes(t *testing.T) {
	eur := userQuote("Q2", "user-1")
	eur.Currency = "EUR"
	o := newTestOrchestrator(&fakeLedger{},
		&fakeQuotes{quotes: []quote.Quote{userQuote("Q1", "user-1"), eur}},
		&fakeSessions{verdict: session.Verdict{Authenticated: true, UserID: "user-1"}},
		&fakeLimiter{}, &fakeAdapter{code: domain.GatewayCard})

	_, err := o.CreatePayment(context.Background(), authedReq(domain.GatewayCard, "Q1", "Q2"))
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestCreatePaymentAdapterFailureMarksFailed(t *testing.T) {
	ledger := &fakeLedger{}
	adapter := &fakeAdapter{code: domain.GatewayCard, err: errors.New("card declined upstream")}
	o := newTestOrchestrator(ledger,
		&fakeQuotes{quotes: []quote.Quote{userQuote("Q1", "user-1")}},
		&fakeSessions{verdict: session.Verdict{Authenticated: true, UserID: "user-1"}},
		&fakeLimiter{}, adapter)

	resp, err := o.CreatePayment(context.Background(), authedReq(domain.GatewayCard, "Q1"))
	require.NoError(t, err, "post-insert failures are reported in the response, not as errors")

	assert.False(t, resp.Success)
	assert.Equal(t, "payment could not be processed", resp.Error)
	assert.Equal(t, stepExternalCall, ledger.failedStep)
	assert.Empty(t, ledger.orphanedStep)
}

func TestCreatePaymentManualRecordFailureKeepsStepDiscriminator(t *testing.T) {
	// No external side effect exists for manual methods, so a record failure
	// lands in failed — but the step marker must name the step that broke.
	ledger := &fakeLedger{recordedErr: errors.New("pg down")}
	adapter := &fakeAdapter{code: domain.GatewayBankTransfer, result: &gateway.Result{Success: true}}
	o := newTestOrchestrator(ledger,
		&fakeQuotes{quotes: []quote.Quote{userQuote("Q1", "user-1")}},
		&fakeSessions{verdict: session.Verdict{Authenticated: true, UserID: "user-1"}},
		&fakeLimiter{}, adapter)

	resp, err := o.CreatePayment(context.Background(), authedReq(domain.GatewayBankTransfer, "Q1"))
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Equal(t, stepRecordAudit, ledger.failedStep)
	assert.Empty(t, ledger.orphanedStep)
}

func TestCreatePaymentTimeoutOrphansInsteadOfFailing(t *testing.T) {
	ledger := &fakeLedger{}
	adapter := &fakeAdapter{code: domain.GatewayCard, err: timeoutErr{}}
	o := newTestOrchestrator(ledger,
		&fakeQuotes{quotes: []quote.Quote{userQuote("Q1", "user-1")}},
		&fakeSessions{verdict: session.Verdict{Authenticated: true, UserID: "user-1"}},
		&fakeLimiter{}, adapter)

	resp, err := o.CreatePayment(context.Background(), authedReq(domain.GatewayCard, "Q1"))
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Equal(t, stepExternalCall, ledger.orphanedStep)
	assert.Empty(t, ledger.failedStep, "a possible upstream charge must never be marked failed")
}

func TestCreatePaymentExternalSuccessLocalFailureOrphans(t *testing.T) {
	ledger := &fakeLedger{externalErr: errors.New("pg connection reset")}
	adapter := &fakeAdapter{
		code:   domain.GatewayCard,
		result: &gateway.Result{Success: true, GatewayTransactionID: "pi_456"},
	}
	o := newTestOrchestrator(ledger,
		&fakeQuotes{quotes: []quote.Quote{userQuote("Q1", "user-1")}},
		&fakeSessions{verdict: session.Verdict{Authenticated: true, UserID: "user-1"}},
		&fakeLimiter{}, adapter)

	resp, err := o.CreatePayment(context.Background(), authedReq(domain.GatewayCard, "Q1"))
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.TransactionID)
	assert.Equal(t, "payment could not be processed", resp.Error)
	assert.Equal(t, stepLedgerUpdate, ledger.orphanedStep)
}

func TestCreatePaymentSumsQuoteTotals(t *testing.T) {
	ledger := &fakeLedger{}
	q2 := userQuote("Q2", "user-1")
	q2.FinalTotal = "50.50"
	adapter := &fakeAdapter{code: domain.GatewayCard, result: &gateway.Result{Success: true, GatewayTransactionID: "pi_1"}}
	o := newTestOrchestrator(ledger,
		&fakeQuotes{quotes: []quote.Quote{userQuote("Q1", "user-1"), q2}},
		&fakeSessions{verdict: session.Verdict{Authenticated: true, UserID: "user-1"}},
		&fakeLimiter{}, adapter)

	resp, err := o.CreatePayment(context.Background(), authedReq(domain.GatewayCard, "Q1", "Q2"))
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, int64(15050), ledger.inserted.AmountMinor)
}
