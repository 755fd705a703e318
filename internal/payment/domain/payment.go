package domain

import (
	"encoding/json"
	"time"
)

// Status is the coarse, customer-facing outcome of a payment attempt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// GatewayCode identifies the payment gateway a transaction runs against.
type GatewayCode string

const (
	GatewayCard           GatewayCode = "card"
	GatewayPayFast        GatewayCode = "payfast"
	GatewayPayHash        GatewayCode = "payhash"
	GatewayHostedWallet   GatewayCode = "hostedwallet"
	GatewayBankTransfer   GatewayCode = "bank_transfer"
	GatewayCashOnDelivery GatewayCode = "cash_on_delivery"
)

// IsManual reports whether the gateway involves no external call.
func (g GatewayCode) IsManual() bool {
	return g == GatewayBankTransfer || g == GatewayCashOnDelivery
}

// Known reports whether g is a gateway this service routes to.
func (g GatewayCode) Known() bool {
	switch g {
	case GatewayCard, GatewayPayFast, GatewayPayHash, GatewayHostedWallet,
		GatewayBankTransfer, GatewayCashOnDelivery:
		return true
	}
	return false
}

// Metadata keys recorded on a transaction during orchestration.
const (
	MetaGuestSession  = "guest_session"
	MetaCustomerName  = "customer_name"
	MetaCustomerEmail = "customer_email"
	MetaFailedStep    = "failed_step"
	MetaErrorContext  = "error_context"
)

// PaymentTransaction is one payment attempt in the ledger. Rows advance
// through states and are never deleted; failed and orphaned attempts stay
// for audit.
type PaymentTransaction struct {
	TransactionID        string
	GatewayCode          GatewayCode
	QuoteIDs             []string
	AmountMinor          int64
	AmountMajor          string
	Currency             string
	Status               Status
	PaymentState         PaymentState
	GatewayTransactionID string
	GatewayResponse      json.RawMessage
	Metadata             map[string]string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func NewTransaction(id string, gateway GatewayCode, quoteIDs []string, amountMinor int64, amountMajor, currency string) PaymentTransaction {
	now := time.Now().UTC()
	return PaymentTransaction{
		TransactionID: id,
		GatewayCode:   gateway,
		QuoteIDs:      quoteIDs,
		AmountMinor:   amountMinor,
		AmountMajor:   amountMajor,
		Currency:      currency,
		Status:        StatusPending,
		PaymentState:  StatePending,
		Metadata:      map[string]string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
