package gateway

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cargoquote/payments/internal/config"
	"github.com/cargoquote/payments/internal/gateway/signature"
	"github.com/cargoquote/payments/internal/payment/domain"
)

func testHashConfig() config.HashGatewayConfig {
	return config.HashGatewayConfig{
		MerchantKey: "MK123",
		Secret:      "topsecret",
		Endpoint:    "https://secure.payfast.example.com/process",
	}
}

func hashRequest() Request {
	return Request{
		TransactionID: "TXN-abc",
		QuoteIDs:      []string{"Q1"},
		AmountMinor:   1282,
		AmountMajor:   "12.82",
		Currency:      "ZAR",
		Description:   "shipping quote Q1",
		CustomerName:  "Jane",
		CustomerEmail: "jane@example.com",
		SuccessURL:    "https://shop.example.com/return",
		CancelURL:     "https://shop.example.com/cancel",
	}
}

func TestHashAdapterFormPayload(t *testing.T) {
	a := NewHashAdapter(slog.Default(), domain.GatewayPayFast, testHashConfig())

	res, err := a.CreatePayment(context.Background(), hashRequest())
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, "https://secure.payfast.example.com/process", res.FormEndpoint)
	assert.Empty(t, res.RedirectURL)
	assert.Empty(t, res.ClientSecret)
	// The gateway has assigned nothing yet; our id is the correlation key.
	assert.Equal(t, "TXN-abc", res.GatewayTransactionID)

	assert.Equal(t, "MK123", res.FormFields["key"])
	assert.Equal(t, "12.82", res.FormFields["amount"])
	assert.Equal(t, "TXN-abc", res.FormFields["txnid"])
	assert.Equal(t, "Order_Q1", res.FormFields["udf1"])

	fields := HashFields("MK123", "TXN-abc", "12.82", "shipping quote Q1", "Jane", "jane@example.com", []string{"Order_Q1"})
	assert.Equal(t, signature.Keyed(fields, "topsecret"), res.FormFields["hash"])
	assert.Equal(t, signature.KeyedV2(fields, "topsecret"), res.FormFields["hash_v2"])
	assert.NotEqual(t, res.FormFields["hash"], res.FormFields["hash_v2"])
}

func TestHashAdapterDeterministic(t *testing.T) {
	a := NewHashAdapter(slog.Default(), domain.GatewayPayHash, testHashConfig())
	first, err := a.CreatePayment(context.Background(), hashRequest())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := a.CreatePayment(context.Background(), hashRequest())
		require.NoError(t, err)
		assert.Equal(t, first.FormFields["hash"], again.FormFields["hash"])
		assert.Equal(t, first.FormFields["hash_v2"], again.FormFields["hash_v2"])
	}
}

func TestHashFieldsPadsUDFs(t *testing.T) {
	fields := HashFields("k", "t", "1.00", "d", "n", "e", []string{"u1"})
	require.Len(t, fields, 11)
	assert.Equal(t, "u1", fields[6])
	assert.Equal(t, "", fields[10])
}

func TestHashAdapterMissingConfig(t *testing.T) {
	a := NewHashAdapter(slog.Default(), domain.GatewayPayFast, config.HashGatewayConfig{})
	_, err := a.CreatePayment(context.Background(), hashRequest())
	require.Error(t, err)
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
}

func TestHashAdapterRejectsZeroAmount(t *testing.T) {
	a := NewHashAdapter(slog.Default(), domain.GatewayPayFast, testHashConfig())
	req := hashRequest()
	req.AmountMinor = 0
	_, err := a.CreatePayment(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, domain.KindAmountTooSmall, domain.KindOf(err))
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry(
		NewHashAdapter(slog.Default(), domain.GatewayPayFast, testHashConfig()),
		NewManualAdapter(domain.GatewayBankTransfer),
	)

	a, err := reg.Resolve(domain.GatewayPayFast)
	require.NoError(t, err)
	assert.Equal(t, domain.GatewayPayFast, a.Code())

	_, err = reg.Resolve(domain.GatewayCard)
	require.Error(t, err)
	assert.Equal(t, domain.KindUnsupported, domain.KindOf(err))
}

func TestManualAdapterNoExternalReference(t *testing.T) {
	a := NewManualAdapter(domain.GatewayCashOnDelivery)
	res, err := a.CreatePayment(context.Background(), hashRequest())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.GatewayTransactionID)
	assert.Empty(t, res.ClientSecret)
	assert.Nil(t, res.FormFields)
}
