package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/cargoquote/payments/internal/config"
	"github.com/cargoquote/payments/internal/payment/domain"
)

// Currencies the hosted wallet transacts in. Checked before any network call.
var walletCurrencies = map[string]struct{}{
	"USD": {}, "EUR": {}, "GBP": {}, "AUD": {}, "CAD": {}, "CHF": {},
	"CZK": {}, "DKK": {}, "HKD": {}, "HUF": {}, "ILS": {}, "JPY": {},
	"MXN": {}, "NOK": {}, "NZD": {}, "PHP": {}, "PLN": {}, "SEK": {},
	"SGD": {}, "THB": {}, "TWD": {},
}

// HostedWalletAdapter creates checkout intents against the hosted wallet. It
// performs its own OAuth2 client-credentials exchange and, on an auth
// rejection, retries once with the direct client-id/secret header scheme
// rather than failing the payment outright.
type HostedWalletAdapter struct {
	log    *slog.Logger
	cfg    config.HostedWalletConfig
	client *Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewHostedWalletAdapter(log *slog.Logger, cfg config.HostedWalletConfig) *HostedWalletAdapter {
	return &HostedWalletAdapter{
		log:    log,
		cfg:    cfg,
		client: NewClient("hostedwallet", cfg.APIBase, log),
	}
}

func (a *HostedWalletAdapter) Code() domain.GatewayCode { return domain.GatewayHostedWallet }

type walletTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type walletOrderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

func (a *HostedWalletAdapter) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.accessToken != "" && time.Now().Before(a.tokenExpiry) {
		return a.accessToken, nil
	}

	resp, err := a.client.Execute(func() (*resty.Response, error) {
		return a.client.R(ctx).
			SetBasicAuth(a.cfg.ClientID, a.cfg.Secret).
			SetFormData(map[string]string{"grant_type": "client_credentials"}).
			Post("/v1/oauth2/token")
	})
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", domain.NewError(domain.KindGateway, "wallet token exchange rejected "+resp.Status())
	}
	var tok walletTokenResponse
	if err := json.Unmarshal(resp.Body(), &tok); err != nil || tok.AccessToken == "" {
		return "", domain.WrapError(domain.KindGateway, "wallet token response invalid", err)
	}
	a.accessToken = tok.AccessToken
	a.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn-60) * time.Second)
	return a.accessToken, nil
}

func (a *HostedWalletAdapter) CreatePayment(ctx context.Context, req Request) (*Result, error) {
	if !a.cfg.Configured() {
		return nil, domain.NewError(domain.KindConfiguration, "hosted wallet credentials missing")
	}
	if _, ok := walletCurrencies[req.Currency]; !ok {
		return nil, domain.NewError(domain.KindInvalidCurrency,
			"currency "+req.Currency+" not supported by hosted wallet")
	}
	if req.AmountMinor <= 0 {
		return nil, domain.NewError(domain.KindAmountTooSmall, "amount must be positive")
	}

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"custom_id": req.TransactionID,
			"amount": map[string]string{
				"currency_code": req.Currency,
				"value":         req.AmountMajor,
			},
			"description": req.Description,
		}},
		"application_context": map[string]string{
			"return_url": req.SuccessURL,
			"cancel_url": req.CancelURL,
		},
	}

	resp, err := a.createOrder(ctx, body)
	if err != nil {
		return nil, err
	}

	var order walletOrderResponse
	if err := json.Unmarshal(resp.Body(), &order); err != nil {
		return nil, domain.WrapError(domain.KindGateway, "wallet order decode failed", err)
	}
	if resp.IsError() || order.ID == "" {
		return nil, domain.NewError(domain.KindGateway, "wallet order rejected "+resp.Status())
	}

	var approval string
	for _, l := range order.Links {
		if l.Rel == "approve" {
			approval = l.Href
		}
	}
	if approval == "" {
		return nil, domain.NewError(domain.KindGateway, "wallet order missing approval link")
	}

	return &Result{
		Success:              true,
		GatewayTransactionID: order.ID,
		RedirectURL:          approval,
		Raw:                  json.RawMessage(resp.Body()),
	}, nil
}

// createOrder tries the bearer-token route first and falls back to the direct
// header scheme when the token is rejected.
func (a *HostedWalletAdapter) createOrder(ctx context.Context, body map[string]any) (*resty.Response, error) {
	tok, err := a.token(ctx)
	if err == nil {
		resp, err := a.client.Execute(func() (*resty.Response, error) {
			return a.client.R(ctx).
				SetHeader("Authorization", "Bearer "+tok).
				SetBody(body).
				Post("/v2/checkout/orders")
		})
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() != http.StatusUnauthorized {
			return resp, nil
		}
		a.log.Warn("wallet bearer auth rejected, retrying with api-key headers")
		a.invalidateToken()
	} else {
		a.log.Warn("wallet token exchange failed, falling back to api-key headers", "err", err)
	}

	return a.client.Execute(func() (*resty.Response, error) {
		return a.client.R(ctx).
			SetHeader("X-Client-Id", a.cfg.ClientID).
			SetHeader("X-Api-Key", a.cfg.Secret).
			SetBody(body).
			Post("/v2/checkout/orders")
	})
}

func (a *HostedWalletAdapter) invalidateToken() {
	a.mu.Lock()
	a.accessToken = ""
	a.mu.Unlock()
}
