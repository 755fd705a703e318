package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	paydomain "github.com/cargoquote/payments/internal/payment/domain"
	"github.com/cargoquote/payments/internal/webhook/application"
	whdomain "github.com/cargoquote/payments/internal/webhook/domain"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	log        *slog.Logger
	verifier   *application.Verifier
	reconciler *application.Reconciler
	tracer     trace.Tracer

	// Browser landing pages after a hosted-form redirect.
	successURL string
	failureURL string
}

func NewHandler(log *slog.Logger, verifier *application.Verifier, reconciler *application.Reconciler, successURL, failureURL string) *Handler {
	return &Handler{
		log:        log,
		verifier:   verifier,
		reconciler: reconciler,
		tracer:     otel.Tracer("webhook-http"),
		successURL: successURL,
		failureURL: failureURL,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/webhooks/card", h.cardWebhook)
	r.Post("/webhooks/payfast", h.hashWebhook(paydomain.GatewayPayFast))
	r.Post("/webhooks/payhash", h.hashWebhook(paydomain.GatewayPayHash))
	r.Post("/webhooks/hostedwallet", h.walletWebhook)
	r.Post("/return/payfast", h.hashReturn(paydomain.GatewayPayFast))
	r.Post("/return/payhash", h.hashReturn(paydomain.GatewayPayHash))
	return r
}

// cardEvent is the subset of the card gateway's event envelope we act on.
type cardEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

func (h *Handler) cardWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CardWebhook")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	verified := h.verifier.VerifyCard(body, r.Header.Get("X-Card-Signature"))

	var ev cardEvent
	if err := json.Unmarshal(body, &ev); err != nil || ev.ID == "" {
		h.log.Warn("malformed card webhook payload")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	cb := whdomain.CallbackResult{
		Gateway:       paydomain.GatewayCard,
		EventID:       ev.ID,
		TransactionID: ev.Data.Object.Metadata["transaction_id"],
		GatewayTxnID:  ev.Data.Object.ID,
		Succeeded:     ev.Type == "payment_intent.succeeded",
		RawStatus:     ev.Type,
	}
	if ids := ev.Data.Object.Metadata["quote_ids"]; ids != "" {
		cb.Reference = whdomain.ReferencePrefix + ids
	}

	// Event types we take no action on are still recorded on receipt, then
	// acknowledged so the gateway stops retrying them.
	if ev.Type != "payment_intent.succeeded" && ev.Type != "payment_intent.payment_failed" {
		h.acknowledge(ctx, w, cb, body, verified, "unhandled event type "+ev.Type)
		return
	}
	h.finish(ctx, w, cb, body, verified)
}

func (h *Handler) hashWebhook(code paydomain.GatewayCode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "HashWebhook")
		defer span.End()

		params, raw, err := readForm(r)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		verified := h.verifier.VerifyHash(code, params)
		cb := whdomain.ParseHashReturn(code, params)
		h.finish(ctx, w, cb, raw, verified)
	}
}

// hashReturn handles the browser POST back from a hash gateway's hosted
// form. The outcome is processed exactly like the server-side webhook, then
// the customer is sent to a landing page. The response is a redirect no
// matter what: the browser is not a party we report errors to.
func (h *Handler) hashReturn(code paydomain.GatewayCode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "HashReturn")
		defer span.End()

		target := h.failureURL
		params, raw, err := readForm(r)
		if err == nil {
			verified := h.verifier.VerifyHash(code, params)
			cb := whdomain.ParseHashReturn(code, params)
			if err := h.reconciler.Process(ctx, cb, raw, verified); err != nil {
				h.log.Error("return processing failed", "gateway", code, "err", err)
			}
			if verified && cb.Succeeded {
				target = h.successURL
			}
			if txn := cb.TransactionID; txn != "" {
				target += "?transactionId=" + url.QueryEscape(txn)
			}
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// walletEvent is the hosted wallet's event envelope.
type walletEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID       string `json:"id"`
		CustomID string `json:"custom_id"`
		Status   string `json:"status"`
	} `json:"resource"`
}

func (h *Handler) walletWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "WalletWebhook")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	verified := h.verifier.VerifyWallet(body, r.Header.Get("X-Wallet-Signature"))

	var ev walletEvent
	if err := json.Unmarshal(body, &ev); err != nil || ev.ID == "" {
		h.log.Warn("malformed wallet webhook payload")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	succeeded := ev.EventType == "CHECKOUT.ORDER.APPROVED" || ev.EventType == "PAYMENT.CAPTURE.COMPLETED"
	failed := ev.EventType == "PAYMENT.CAPTURE.DENIED"
	cb := whdomain.CallbackResult{
		Gateway:       paydomain.GatewayHostedWallet,
		EventID:       ev.ID,
		TransactionID: ev.Resource.CustomID,
		GatewayTxnID:  ev.Resource.ID,
		Succeeded:     succeeded,
		RawStatus:     ev.EventType,
	}
	if !succeeded && !failed {
		h.acknowledge(ctx, w, cb, body, verified, "unhandled event type "+ev.EventType)
		return
	}
	h.finish(ctx, w, cb, body, verified)
}

// finish runs reconciliation and acknowledges. Only a transient storage
// failure earns a 5xx, which is the signal gateways retry on.
func (h *Handler) finish(ctx context.Context, w http.ResponseWriter, cb whdomain.CallbackResult, payload []byte, verified bool) {
	if err := h.reconciler.Process(ctx, cb, payload, verified); err != nil {
		h.log.Error("webhook processing failed", "gateway", cb.Gateway, "event_id", cb.EventID, "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) acknowledge(ctx context.Context, w http.ResponseWriter, cb whdomain.CallbackResult, payload []byte, verified bool, note string) {
	if err := h.reconciler.Acknowledge(ctx, cb, payload, verified, note); err != nil {
		h.log.Error("webhook acknowledge failed", "gateway", cb.Gateway, "event_id", cb.EventID, "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func readForm(r *http.Request) (url.Values, []byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, err
	}
	params, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, nil, err
	}
	return params, body, nil
}
