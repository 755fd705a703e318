package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cargoquote/payments/internal/config"
	"github.com/cargoquote/payments/internal/gateway"
	"github.com/cargoquote/payments/internal/gateway/signature"
	paydomain "github.com/cargoquote/payments/internal/payment/domain"
	"github.com/cargoquote/payments/internal/webhook/application"
	whdomain "github.com/cargoquote/payments/internal/webhook/domain"
	"github.com/cargoquote/payments/pkg/logging"
)

type memEventStore struct {
	events    map[string]*whdomain.Event
	processed map[string]string
}

func newMemEventStore() *memEventStore {
	return &memEventStore{events: map[string]*whdomain.Event{}, processed: map[string]string{}}
}

func (m *memEventStore) Record(_ context.Context, ev *whdomain.Event) (bool, error) {
	key := string(ev.GatewayCode) + ":" + ev.EventID
	if _, ok := m.events[key]; ok {
		return false, nil
	}
	m.events[key] = ev
	return true, nil
}

func (m *memEventStore) Find(_ context.Context, gateway paydomain.GatewayCode, eventID string) (*whdomain.Event, error) {
	key := string(gateway) + ":" + eventID
	ev, ok := m.events[key]
	if !ok {
		return nil, errors.New("event not recorded")
	}
	out := *ev
	if procErr, ok := m.processed[key]; ok {
		now := time.Now().UTC()
		out.ProcessedAt = &now
		out.ProcessingError = procErr
	}
	return &out, nil
}

func (m *memEventStore) MarkProcessed(_ context.Context, gateway paydomain.GatewayCode, eventID, processingError string) error {
	m.processed[string(gateway)+":"+eventID] = processingError
	return nil
}

func (m *memEventStore) Supersede(_ context.Context, gateway paydomain.GatewayCode, eventID string) (bool, error) {
	key := string(gateway) + ":" + eventID
	ev, ok := m.events[key]
	if !ok || ev.Verified {
		return false, nil
	}
	if _, done := m.processed[key]; !done {
		return false, nil
	}
	ev.Verified = true
	delete(m.processed, key)
	return true, nil
}

type memLedger struct {
	txn       *paydomain.PaymentTransaction
	completed int
	failed    int
}

func (m *memLedger) Get(_ context.Context, _ string) (*paydomain.PaymentTransaction, error) {
	return m.txn, nil
}

func (m *memLedger) Complete(_ context.Context, _, _ string, _ []string) error {
	m.completed++
	return nil
}

func (m *memLedger) Fail(_ context.Context, _, _ string) error {
	m.failed++
	return nil
}

type noopDeduper struct{}

func (noopDeduper) Key(gateway, eventID string) string { return gateway + ":" + eventID }

func (noopDeduper) Seen(context.Context, string) (bool, error) { return false, nil }

func (noopDeduper) Forget(context.Context, string) {}

func testConfig() *config.Config {
	return &config.Config{
		Card: config.CardConfig{WebhookSecret: "whsec_test"},
		HashGateways: map[paydomain.GatewayCode]config.HashGatewayConfig{
			paydomain.GatewayPayFast: {MerchantKey: "mkey", Secret: "s3cret"},
		},
		HostedWallet: config.HostedWalletConfig{Secret: "wallet_secret"},
	}
}

func newTestHandler(t *testing.T) (*Handler, *memEventStore, *memLedger) {
	t.Helper()
	events := newMemEventStore()
	ledger := &memLedger{txn: &paydomain.PaymentTransaction{
		TransactionID: "TXN-abc",
		GatewayCode:   paydomain.GatewayPayFast,
		QuoteIDs:      []string{"Q1"},
		Status:        paydomain.StatusPending,
		PaymentState:  paydomain.StateExternalCreated,
	}}
	rec := application.NewReconciler(logging.New(), events, ledger, noopDeduper{})
	ver := application.NewVerifier(testConfig())
	h := NewHandler(logging.New(), ver, rec, "https://shop.example.com/success", "https://shop.example.com/failure")
	return h, events, ledger
}

func TestCardWebhookVerifiedSuccess(t *testing.T) {
	h, events, ledger := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	body := `{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","metadata":{"transaction_id":"TXN-abc","quote_ids":"Q1"}}}}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/card", strings.NewReader(body))
	req.Header.Set("X-Card-Signature", signature.HMACSHA256([]byte(body), "whsec_test"))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, ledger.completed)
	require.Contains(t, events.events, "card:evt_1")
	assert.True(t, events.events["card:evt_1"].Verified)
}

func TestCardWebhookBadSignatureRecordedNotApplied(t *testing.T) {
	h, events, ledger := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	body := `{"id":"evt_2","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","metadata":{"transaction_id":"TXN-abc"}}}}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/card", strings.NewReader(body))
	req.Header.Set("X-Card-Signature", "forged")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, ledger.completed)
	require.Contains(t, events.events, "card:evt_2")
	assert.False(t, events.events["card:evt_2"].Verified)
}

func TestCardWebhookIgnoredEventTypeRecordedAndAcknowledged(t *testing.T) {
	h, events, ledger := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	body := `{"id":"evt_3","type":"charge.updated","data":{"object":{}}}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/card", strings.NewReader(body))
	req.Header.Set("X-Card-Signature", signature.HMACSHA256([]byte(body), "whsec_test"))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, ledger.completed)
	require.Contains(t, events.events, "card:evt_3")
	assert.Equal(t, "unhandled event type charge.updated", events.processed["card:evt_3"])
}

func TestCardWebhookMalformedBody(t *testing.T) {
	h, _, _ := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/webhooks/card", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func signedHashForm() url.Values {
	form := url.Values{
		"status":      {"success"},
		"mihpayid":    {"mih-1"},
		"txnid":       {"TXN-abc"},
		"amount":      {"150.50"},
		"productinfo": {"shipping quote Q1"},
		"firstname":   {"Ada"},
		"email":       {"ada@example.com"},
		"udf1":        {"Order_Q1"},
	}
	fields := gateway.HashFields("mkey", "TXN-abc", "150.50", "shipping quote Q1", "Ada", "ada@example.com", []string{"Order_Q1"})
	form.Set("hash", signature.Keyed(fields, "s3cret"))
	return form
}

func TestHashWebhookVerifiedSuccess(t *testing.T) {
	h, events, ledger := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/webhooks/payfast", "application/x-www-form-urlencoded",
		strings.NewReader(signedHashForm().Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, ledger.completed)
	assert.Contains(t, events.events, "payfast:mih-1")
}

func TestHashReturnRedirectsToSuccess(t *testing.T) {
	h, _, ledger := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Post(srv.URL+"/return/payfast", "application/x-www-form-urlencoded",
		strings.NewReader(signedHashForm().Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	loc := resp.Header.Get("Location")
	assert.True(t, strings.HasPrefix(loc, "https://shop.example.com/success"), loc)
	assert.Contains(t, loc, "transactionId=TXN-abc")
	assert.Equal(t, 1, ledger.completed, "the browser return drives reconciliation too")
}

func TestHashReturnTamperedHashRedirectsToFailure(t *testing.T) {
	h, _, ledger := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	form := signedHashForm()
	form.Set("amount", "0.01")
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Post(srv.URL+"/return/payfast", "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), "https://shop.example.com/failure"))
	assert.Equal(t, 0, ledger.completed)
}

func TestWalletWebhookCaptureCompleted(t *testing.T) {
	h, events, ledger := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	body := `{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"ORD-9","custom_id":"TXN-abc","status":"COMPLETED"}}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/hostedwallet", strings.NewReader(body))
	req.Header.Set("X-Wallet-Signature", signature.HMACSHA256([]byte(body), "wallet_secret"))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, ledger.completed)
	assert.Contains(t, events.events, "hostedwallet:WH-1")
}
