package application

import (
	"net/url"

	"github.com/cargoquote/payments/internal/config"
	"github.com/cargoquote/payments/internal/gateway"
	"github.com/cargoquote/payments/internal/gateway/signature"
	paydomain "github.com/cargoquote/payments/internal/payment/domain"
)

// Verifier recomputes callback signatures with the same keyed-hash utility
// the outbound adapters use, so the two computations cannot drift apart.
type Verifier struct {
	cfg *config.Config
}

func NewVerifier(cfg *config.Config) *Verifier {
	return &Verifier{cfg: cfg}
}

// VerifyCard checks the card processor's HMAC signature header against the
// raw payload.
func (v *Verifier) VerifyCard(payload []byte, suppliedSig string) bool {
	if v.cfg.Card.WebhookSecret == "" || suppliedSig == "" {
		return false
	}
	expected := signature.HMACSHA256(payload, v.cfg.Card.WebhookSecret)
	return signature.Equal(expected, suppliedSig)
}

// VerifyHash recomputes the keyed hash from the callback parameters in the
// same field order the adapter signed with, accepting either the primary or
// the reversed-secret variant. Comparison is case-insensitive: these gateways
// are known to deliver inconsistent casing.
func (v *Verifier) VerifyHash(code paydomain.GatewayCode, params url.Values) bool {
	cfg, ok := v.cfg.HashGateways[code]
	if !ok || !cfg.Configured() {
		return false
	}
	supplied := params.Get("hash")
	if supplied == "" {
		return false
	}

	udfs := make([]string, 0, 5)
	for _, k := range []string{"udf1", "udf2", "udf3", "udf4", "udf5"} {
		udfs = append(udfs, params.Get(k))
	}
	fields := gateway.HashFields(
		cfg.MerchantKey,
		params.Get("txnid"),
		params.Get("amount"),
		params.Get("productinfo"),
		params.Get("firstname"),
		params.Get("email"),
		udfs,
	)
	return signature.Equal(signature.Keyed(fields, cfg.Secret), supplied) ||
		signature.Equal(signature.KeyedV2(fields, cfg.Secret), supplied)
}

// VerifyWallet checks the hosted wallet's HMAC transmission signature.
func (v *Verifier) VerifyWallet(payload []byte, suppliedSig string) bool {
	if v.cfg.HostedWallet.Secret == "" || suppliedSig == "" {
		return false
	}
	expected := signature.HMACSHA256(payload, v.cfg.HostedWallet.Secret)
	return signature.Equal(expected, suppliedSig)
}
