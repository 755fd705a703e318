package domain

import (
	"net/url"
	"strings"

	paydomain "github.com/cargoquote/payments/internal/payment/domain"
)

// ReferencePrefix marks a callback reference that encodes quote ids, as in
// "Order_Q1,Q2". References without the prefix are treated as a custom id
// (our transaction id) and quotes are resolved from the ledger instead.
const ReferencePrefix = "Order_"

// CallbackResult is the typed outcome parsed from a gateway callback or
// redirect return, decoupled from the HTTP transport.
type CallbackResult struct {
	Gateway       paydomain.GatewayCode
	EventID       string
	TransactionID string // our transaction id, when the gateway echoes it
	GatewayTxnID  string // the gateway's own reference
	Reference     string // raw reference field, possibly Order_-encoded
	QuoteIDs      []string
	Succeeded     bool
	RawStatus     string
	Amount        string
	SuppliedHash  string
}

// ParseReference extracts quote ids from an Order_-encoded reference.
// Returns nil ids (not an error) when the reference is a plain custom id.
func ParseReference(ref string) ([]string, bool) {
	if !strings.HasPrefix(ref, ReferencePrefix) {
		return nil, true
	}
	body := strings.TrimPrefix(ref, ReferencePrefix)
	if body == "" {
		return nil, false
	}
	parts := strings.Split(body, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, false
		}
		ids = append(ids, p)
	}
	return ids, true
}

// ParseHashReturn parses the urlencoded callback the hash gateways deliver,
// both as webhook POSTs and as redirect-return query strings.
func ParseHashReturn(gateway paydomain.GatewayCode, params url.Values) CallbackResult {
	status := strings.ToLower(params.Get("status"))
	eventID := params.Get("mihpayid")
	if eventID == "" {
		// Some deliveries omit the gateway reference; the transaction id
		// still dedups retries of the same outcome.
		eventID = params.Get("txnid") + ":" + status
	}
	return CallbackResult{
		Gateway:       gateway,
		EventID:       eventID,
		TransactionID: params.Get("txnid"),
		GatewayTxnID:  params.Get("mihpayid"),
		Reference:     params.Get("udf1"),
		Succeeded:     status == "success",
		RawStatus:     status,
		Amount:        params.Get("amount"),
		SuppliedHash:  params.Get("hash"),
	}
}
