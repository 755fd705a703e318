// Package gateway holds the adapter abstraction over the external payment
// gateways and one adapter per gateway. Adapters normalize amount encoding,
// signature schemes and response shapes behind a single contract.
package gateway

import (
	"context"
	"encoding/json"

	"github.com/cargoquote/payments/internal/payment/domain"
)

// Request is the normalized payment-creation request handed to an adapter.
// Amounts arrive pre-converted: AmountMinor in the currency's smallest unit,
// AmountMajor as a fixed two-decimal string for gateways that sign over it.
type Request struct {
	TransactionID string
	QuoteIDs      []string
	AmountMinor   int64
	AmountMajor   string
	Currency      string
	Description   string
	CustomerName  string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

// Result is the normalized outcome of a payment-creation call. Exactly one of
// ClientSecret, RedirectURL or FormFields is populated for external gateways;
// manual methods set none and leave GatewayTransactionID empty.
type Result struct {
	Success              bool
	GatewayTransactionID string
	ClientSecret         string
	RedirectURL          string
	FormEndpoint         string
	FormFields           map[string]string
	Raw                  json.RawMessage
}

// Adapter creates a payment against one external gateway.
type Adapter interface {
	Code() domain.GatewayCode
	CreatePayment(ctx context.Context, req Request) (*Result, error)
}

// Registry resolves the adapter for a gateway code.
type Registry struct {
	adapters map[domain.GatewayCode]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[domain.GatewayCode]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Code()] = a
	}
	return &Registry{adapters: m}
}

// Resolve returns the adapter for code or an UnsupportedGateway error.
func (r *Registry) Resolve(code domain.GatewayCode) (Adapter, error) {
	a, ok := r.adapters[code]
	if !ok {
		return nil, domain.NewError(domain.KindUnsupported, "unsupported gateway "+string(code))
	}
	return a, nil
}
