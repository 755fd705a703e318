package domain

// Events published through the transactional outbox for downstream
// consumers (notifications, analytics).

type PaymentCompleted struct {
	TransactionID        string      `json:"transaction_id"`
	GatewayCode          GatewayCode `json:"gateway_code"`
	GatewayTransactionID string      `json:"gateway_transaction_id"`
	QuoteIDs             []string    `json:"quote_ids"`
	AmountMinor          int64       `json:"amount_minor"`
	Currency             string      `json:"currency"`
}

type PaymentFailed struct {
	TransactionID string      `json:"transaction_id"`
	GatewayCode   GatewayCode `json:"gateway_code"`
	QuoteIDs      []string    `json:"quote_ids"`
	Reason        string      `json:"reason"`
}

type PaymentInitiated struct {
	TransactionID string      `json:"transaction_id"`
	GatewayCode   GatewayCode `json:"gateway_code"`
	QuoteIDs      []string    `json:"quote_ids"`
	AmountMinor   int64       `json:"amount_minor"`
	Currency      string      `json:"currency"`
}
