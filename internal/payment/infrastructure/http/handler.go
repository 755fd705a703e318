package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/cargoquote/payments/internal/payment/application"
	"github.com/cargoquote/payments/internal/payment/domain"
)

type Handler struct {
	log     *slog.Logger
	service *application.Orchestrator
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Orchestrator) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("payment-http"),
	}
}

type customerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type createPaymentReq struct {
	QuoteIDs     []string          `json:"quoteIds"`
	Gateway      string            `json:"gateway"`
	SuccessURL   string            `json:"successUrl"`
	CancelURL    string            `json:"cancelUrl"`
	Amount       string            `json:"amount,omitempty"`
	Currency     string            `json:"currency,omitempty"`
	CustomerInfo customerInfo      `json:"customerInfo"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type formPayload struct {
	Endpoint string            `json:"endpoint"`
	Fields   map[string]string `json:"fields"`
}

type createPaymentResp struct {
	Success       bool         `json:"success"`
	TransactionID string       `json:"transactionId,omitempty"`
	URL           string       `json:"url,omitempty"`
	ClientSecret  string       `json:"clientSecret,omitempty"`
	FormData      *formPayload `json:"formData,omitempty"`
	Manual        bool         `json:"manual,omitempty"`
	Error         string       `json:"error,omitempty"`
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/payments", h.createPayment)
	r.Get("/payments/{transactionID}", h.getPayment)
	return r
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreatePayment")
	defer span.End()

	var req createPaymentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, createPaymentResp{Error: "invalid request body"})
		return
	}

	resp, err := h.service.CreatePayment(ctx, application.CreatePaymentRequest{
		QuoteIDs:      req.QuoteIDs,
		Gateway:       domain.GatewayCode(req.Gateway),
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
		Amount:        req.Amount,
		Currency:      req.Currency,
		CustomerName:  req.CustomerInfo.Name,
		CustomerEmail: req.CustomerInfo.Email,
		BearerToken:   bearerToken(r),
		GuestToken:    r.Header.Get("X-Guest-Session"),
		Metadata:      req.Metadata,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := createPaymentResp{
		Success:       resp.Success,
		TransactionID: resp.TransactionID,
		URL:           resp.RedirectURL,
		ClientSecret:  resp.ClientSecret,
		Manual:        resp.Manual,
		Error:         resp.Error,
	}
	if resp.FormFields != nil {
		out.FormData = &formPayload{Endpoint: resp.FormEndpoint, Fields: resp.FormFields}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetPayment")
	defer span.End()

	txn, err := h.service.GetTransaction(ctx, chi.URLParam(r, "transactionID"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "transaction not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactionId": txn.TransactionID,
		"gateway":       txn.GatewayCode,
		"status":        txn.Status,
		"amount":        txn.AmountMajor,
		"currency":      txn.Currency,
		"createdAt":     txn.CreatedAt,
	})
}

// writeError maps pre-ledger failures to HTTP statuses. Anything that slips
// through unclassified is reported generically.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := http.StatusBadRequest
	switch kind {
	case domain.KindAuthorization:
		status = http.StatusUnauthorized
	case domain.KindForbidden:
		status = http.StatusForbidden
	case domain.KindConfiguration:
		status = http.StatusInternalServerError
	case domain.KindGateway, domain.KindPersistence:
		status = http.StatusBadGateway
	}

	msg := "payment could not be processed"
	if domain.UserSafe(kind) {
		var pe *domain.Error
		if errors.As(err, &pe) {
			msg = pe.Msg
		}
	} else {
		h.log.Error("payment request failed", "kind", kind, "err", err)
	}
	writeJSON(w, status, createPaymentResp{Error: msg})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
