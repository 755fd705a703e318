package gateway

import (
	"context"

	"github.com/cargoquote/payments/internal/payment/domain"
)

// ManualAdapter covers methods settled outside any gateway (bank transfer,
// cash on delivery). It succeeds immediately with no external call and no
// gateway transaction id, which signals the caller to skip client-side
// payment tracking.
type ManualAdapter struct {
	code domain.GatewayCode
}

func NewManualAdapter(code domain.GatewayCode) *ManualAdapter {
	return &ManualAdapter{code: code}
}

func (a *ManualAdapter) Code() domain.GatewayCode { return a.code }

func (a *ManualAdapter) CreatePayment(ctx context.Context, req Request) (*Result, error) {
	if req.AmountMinor <= 0 {
		return nil, domain.NewError(domain.KindAmountTooSmall, "amount must be positive")
	}
	return &Result{Success: true}, nil
}
