package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/cargoquote/payments/internal/config"
	"github.com/cargoquote/payments/internal/payment/domain"
)

// CardAdapter creates payment intents against the card processor. The intent
// carries our transaction id and quote ids in its metadata so later webhooks
// can be mapped back without a shared hash; webhook authenticity relies on the
// processor's own HMAC signature scheme.
type CardAdapter struct {
	log    *slog.Logger
	cfg    config.CardConfig
	client *Client
}

func NewCardAdapter(log *slog.Logger, cfg config.CardConfig) *CardAdapter {
	return &CardAdapter{
		log:    log,
		cfg:    cfg,
		client: NewClient("card", cfg.APIBase, log),
	}
}

func (a *CardAdapter) Code() domain.GatewayCode { return domain.GatewayCard }

type cardIntentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Error        *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (a *CardAdapter) CreatePayment(ctx context.Context, req Request) (*Result, error) {
	if !a.cfg.Configured() {
		return nil, domain.NewError(domain.KindConfiguration, "card gateway credentials missing")
	}
	if req.AmountMinor < a.cfg.MinAmountMinor {
		return nil, domain.NewError(domain.KindAmountTooSmall,
			fmt.Sprintf("amount %d below gateway minimum %d", req.AmountMinor, a.cfg.MinAmountMinor))
	}

	form := map[string]string{
		"amount":                   fmt.Sprintf("%d", req.AmountMinor),
		"currency":                 strings.ToLower(req.Currency),
		"description":              req.Description,
		"receipt_email":            req.CustomerEmail,
		"metadata[transaction_id]": req.TransactionID,
		"metadata[quote_ids]":      strings.Join(req.QuoteIDs, ","),
	}

	resp, err := a.client.Execute(func() (*resty.Response, error) {
		return a.client.R(ctx).
			SetHeader("Authorization", "Bearer "+a.cfg.SecretKey).
			SetFormData(form).
			Post("/v1/payment_intents")
	})
	if err != nil {
		return nil, err
	}

	var intent cardIntentResponse
	if err := json.Unmarshal(resp.Body(), &intent); err != nil {
		return nil, domain.WrapError(domain.KindGateway, "card response decode failed", err)
	}
	if resp.IsError() || intent.Error != nil {
		msg := "card intent rejected"
		if intent.Error != nil {
			msg = intent.Error.Message
		}
		return nil, domain.NewError(domain.KindGateway, msg)
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		return nil, domain.NewError(domain.KindGateway, "card intent response incomplete")
	}

	return &Result{
		Success:              true,
		GatewayTransactionID: intent.ID,
		ClientSecret:         intent.ClientSecret,
		Raw:                  json.RawMessage(resp.Body()),
	}, nil
}
