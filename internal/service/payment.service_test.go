package service

import (
	"context"
	"encoding/json"
	"testing"

	"storefront-engine/internal/domain"
	"storefront-engine/internal/infrastructure/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedWebhook(t *testing.T, event string, p payment.PaymentInfo) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": event,
		"payload": map[string]any{
			"payment": map[string]any{"entity": p},
		},
	})
	require.NoError(t, err)
	return body, payment.Sign(webhookSecret, body)
}

func TestWebhookDuplicateDeliveryIsAcknowledged(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	o := h.checkout(t, 1)
	p, _ := h.pay(t, o)
	body, sig, err := h.gateway.WebhookFor(p)
	require.NoError(t, err)

	first, err := h.payments.FinalizeFromWebhook(ctx, body, sig, "evt_dup")
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := h.payments.FinalizeFromWebhook(ctx, body, sig, "evt_dup")
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Nil(t, second.Order)
	assert.Equal(t, 4, h.stock(t))
}

func TestWebhookFailureCanBeRedelivered(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	o := h.checkout(t, 1)
	p, _ := h.pay(t, o)
	body, sig, err := h.gateway.WebhookFor(p)
	require.NoError(t, err)

	_, err = h.payments.FinalizeFromWebhook(ctx, body, sig, "evt_retry")
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	require.NoError(t, h.store.Stock().Put(ctx, domain.Variant{
		ProductID: h.variant.ProductID, Size: h.variant.Size, Color: h.variant.Color, Stock: 2,
	}))

	res, err := h.payments.FinalizeFromWebhook(ctx, body, sig, "evt_retry")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.True(t, res.Order.Finalized())
	assert.Equal(t, 1, h.stock(t))
}

func TestWebhookBadSignature(t *testing.T) {
	h := newHarness(t, 5)
	o := h.checkout(t, 1)
	p, _ := h.pay(t, o)
	body, _, err := h.gateway.WebhookFor(p)
	require.NoError(t, err)

	_, err = h.payments.FinalizeFromWebhook(context.Background(), body, payment.Sign("wrong", body), "evt_1")
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)
	assert.Equal(t, 5, h.stock(t))
}

func TestWebhookAuthorizedMarksPaymentPending(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	o := h.checkout(t, 1)

	body, sig := signedWebhook(t, payment.EventPaymentAuthorized, payment.PaymentInfo{
		ID: "pay_auth", OrderID: o.Payment.GatewayOrderID, Status: payment.StatusAuthorized,
	})
	res, err := h.payments.FinalizeFromWebhook(ctx, body, sig, "evt_auth")
	require.NoError(t, err)
	assert.Equal(t, payment.EventPaymentAuthorized, res.Event)

	got := h.reload(t, o.ID)
	assert.Equal(t, domain.PaymentPending, got.Payment.Status)
	assert.Equal(t, "pay_auth", got.Payment.GatewayPaymentID)
	assert.False(t, got.StockDeducted)
	assert.Equal(t, 5, h.stock(t))
}

func TestWebhookOrderPaidFinalizes(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	o := h.checkout(t, 1)

	body, err := json.Marshal(map[string]any{
		"event": payment.EventOrderPaid,
		"payload": map[string]any{
			"payment": map[string]any{"entity": map[string]any{"id": "pay_op", "order_id": o.Payment.GatewayOrderID, "captured": true}},
			"order":   map[string]any{"entity": map[string]any{"id": o.Payment.GatewayOrderID, "status": "paid"}},
		},
	})
	require.NoError(t, err)

	res, err := h.payments.FinalizeFromWebhook(ctx, body, payment.Sign(webhookSecret, body), "")
	require.NoError(t, err)
	assert.True(t, res.Order.Finalized())
	assert.Equal(t, 4, h.stock(t))
}

func TestWebhookPaymentFailedIsIgnored(t *testing.T) {
	h := newHarness(t, 5)
	o := h.checkout(t, 1)

	body, sig := signedWebhook(t, payment.EventPaymentFailed, payment.PaymentInfo{
		ID: "pay_f", OrderID: o.Payment.GatewayOrderID, Status: payment.StatusFailed,
	})
	res, err := h.payments.FinalizeFromWebhook(context.Background(), body, sig, "evt_f")
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Equal(t, domain.PaymentCreated, h.reload(t, o.ID).Payment.Status)
}
