package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/cargoquote/payments/internal/config"
	"github.com/cargoquote/payments/internal/gateway/signature"
	"github.com/cargoquote/payments/internal/payment/domain"
)

// Number of optional user-defined fields included in the hash material. The
// gateways require them in the signed string even when empty.
const hashUDFCount = 5

// HashAdapter serves the regional hash-based gateways. These have no intent
// API: the adapter signs an ordered field string with the shared secret and
// returns the full form payload for a synchronous browser-side POST to the
// gateway's own endpoint. Two instances cover the two regional variants; the
// scheme is identical, only credentials and endpoint differ.
type HashAdapter struct {
	log  *slog.Logger
	code domain.GatewayCode
	cfg  config.HashGatewayConfig
}

func NewHashAdapter(log *slog.Logger, code domain.GatewayCode, cfg config.HashGatewayConfig) *HashAdapter {
	return &HashAdapter{log: log, code: code, cfg: cfg}
}

func (a *HashAdapter) Code() domain.GatewayCode { return a.code }

// HashFields returns the ordered fields the gateway signs over: merchant key,
// transaction id, fixed two-decimal amount, product description, payer name,
// payer email, then the fixed number of user-defined fields. The webhook
// verifier recomputes the same ordering from callback parameters.
func HashFields(merchantKey, txnID, amount, description, name, email string, udfs []string) []string {
	fields := []string{merchantKey, txnID, amount, description, name, email}
	for i := 0; i < hashUDFCount; i++ {
		if i < len(udfs) {
			fields = append(fields, udfs[i])
		} else {
			fields = append(fields, "")
		}
	}
	return fields
}

func (a *HashAdapter) CreatePayment(ctx context.Context, req Request) (*Result, error) {
	if !a.cfg.Configured() {
		return nil, domain.NewError(domain.KindConfiguration, string(a.code)+" gateway credentials missing")
	}
	if req.AmountMinor <= 0 {
		return nil, domain.NewError(domain.KindAmountTooSmall, "amount must be positive")
	}

	// udf1 carries the Order_-encoded quote reference; it is part of the
	// signed material and echoed back verbatim on the callback.
	reference := "Order_" + strings.Join(req.QuoteIDs, ",")
	fields := HashFields(a.cfg.MerchantKey, req.TransactionID, req.AmountMajor,
		req.Description, req.CustomerName, req.CustomerEmail, []string{reference})
	hash := signature.Keyed(fields, a.cfg.Secret)
	hashV2 := signature.KeyedV2(fields, a.cfg.Secret)

	form := map[string]string{
		"key":         a.cfg.MerchantKey,
		"txnid":       req.TransactionID,
		"amount":      req.AmountMajor,
		"productinfo": req.Description,
		"firstname":   req.CustomerName,
		"email":       req.CustomerEmail,
		"udf1":        reference,
		"surl":        req.SuccessURL,
		"furl":        req.CancelURL,
		"hash":        hash,
		"hash_v2":     hashV2,
	}
	raw, _ := json.Marshal(form)

	// The gateway assigns its own reference only after the browser POST; our
	// transaction id is the shared correlation key until then.
	return &Result{
		Success:              true,
		GatewayTransactionID: req.TransactionID,
		FormEndpoint:         a.cfg.Endpoint,
		FormFields:           form,
		Raw:                  raw,
	}, nil
}
