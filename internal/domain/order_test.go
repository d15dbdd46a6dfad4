package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newPendingOrder() *Order {
	exp := now.Add(15 * time.Minute)
	o := &Order{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Lines: []OrderLine{
			{ProductID: uuid.New(), Size: "M", Color: "red", Quantity: 2, UnitPrice: 1500},
			{ProductID: uuid.New(), Size: "L", Color: "blue", Quantity: 1, UnitPrice: 999},
		},
		Status:        OrderPending,
		Currency:      "INR",
		TaxTotal:      300,
		DiscountTotal: 100,
		Payment:       Payment{GatewayOrderID: "order_1", Status: PaymentCreated},
		ExpiresAt:     &exp,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	o.Recalculate()
	return o
}

func TestRecalculate(t *testing.T) {
	o := newPendingOrder()

	assert.Equal(t, int64(3000), o.Lines[0].LineTotal)
	assert.Equal(t, int64(999), o.Lines[1].LineTotal)
	assert.Equal(t, int64(3999), o.SubTotal)
	assert.Equal(t, int64(4199), o.GrandTotal)

	o.DiscountTotal = 10_000
	o.Recalculate()
	assert.Zero(t, o.GrandTotal, "grand total is clamped at zero")
}

func TestValidateRejectsUntrackedLines(t *testing.T) {
	o := newPendingOrder()
	o.Lines[1].Color = ""

	err := o.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidLine)

	var le *LineError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "L", le.Line.Size)
}

func TestValidateRejectsEmptyOrder(t *testing.T) {
	o := newPendingOrder()
	o.Lines = nil
	assert.ErrorIs(t, o.Validate(), ErrInvalidLine)
}

func TestMarkPaidConfirmsPendingOrder(t *testing.T) {
	o := newPendingOrder()

	require.NoError(t, o.MarkPaid("pay_1", "sig", true, now))

	assert.Equal(t, PaymentPaid, o.Payment.Status)
	assert.Equal(t, OrderConfirmed, o.Status)
	assert.Equal(t, "pay_1", o.Payment.GatewayPaymentID)
	assert.True(t, o.Payment.Captured)
	assert.Nil(t, o.ExpiresAt)
}

func TestMarkPaidRejectedAfterFailure(t *testing.T) {
	o := newPendingOrder()
	require.NoError(t, o.Expire(now))

	err := o.MarkPaid("pay_1", "", false, now)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, PaymentFailed, o.Payment.Status)
}

func TestStockLatches(t *testing.T) {
	o := newPendingOrder()

	assert.ErrorIs(t, o.MarkStockDeducted(now), ErrInvalidState, "stock needs a paid order")
	assert.ErrorIs(t, o.MarkStockRestored(now), ErrInvalidState, "nothing deducted yet")

	require.NoError(t, o.MarkPaid("pay_1", "", false, now))
	require.NoError(t, o.MarkStockDeducted(now))
	assert.True(t, o.Finalized())
	assert.True(t, o.NeedsRestore())

	require.NoError(t, o.MarkStockRestored(now))
	require.NoError(t, o.MarkStockRestored(now.Add(time.Second)), "restoring twice is a no-op")
	assert.Equal(t, now, *o.StockRestoredAt)
	assert.False(t, o.NeedsRestore())
	require.NoError(t, o.Validate())
}

func TestCancelWithRefund(t *testing.T) {
	o := newPendingOrder()
	require.NoError(t, o.MarkPaid("pay_1", "", true, now))
	require.NoError(t, o.MarkStockDeducted(now))
	lock := now.Add(time.Minute)
	o.RefundLockUntil = &lock

	require.NoError(t, o.CancelWithRefund(Refund{Amount: o.GrandTotal, GatewayRefundID: "rfnd_1", CreatedAt: now}, now))

	assert.True(t, o.CancelledAndRefunded())
	assert.Nil(t, o.RefundLockUntil)
	require.NotNil(t, o.LastRefund())
	assert.Equal(t, "rfnd_1", o.LastRefund().GatewayRefundID)
}

func TestCancelWithRefundRejectsShippedOrder(t *testing.T) {
	o := newPendingOrder()
	require.NoError(t, o.MarkPaid("pay_1", "", true, now))
	o.Status = OrderShipped

	err := o.CancelWithRefund(Refund{Amount: 1}, now)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, PaymentPaid, o.Payment.Status)
}

func TestExpirable(t *testing.T) {
	o := newPendingOrder()
	assert.False(t, o.Expirable(now), "window still open")
	assert.True(t, o.Expirable(now.Add(15*time.Minute)))

	flagged := newPendingOrder()
	flagged.FlagForReconciliation("pay_9", "", now)
	assert.False(t, flagged.Expirable(now.Add(time.Hour)))
	assert.Equal(t, "pay_9", flagged.Payment.GatewayPaymentID)

	paid := newPendingOrder()
	require.NoError(t, paid.MarkPaid("pay_1", "", false, now))
	assert.False(t, paid.Expirable(now.Add(time.Hour)))

	leased := newPendingOrder()
	until := now.Add(20 * time.Minute)
	leased.RefundLockUntil = &until
	assert.False(t, leased.Expirable(now.Add(15*time.Minute)), "refund lease held")
	assert.True(t, leased.Expirable(now.Add(30*time.Minute)), "refund lease lapsed")
}

func TestLatePaymentRefund(t *testing.T) {
	o := newPendingOrder()
	require.NoError(t, o.Expire(now))
	assert.False(t, o.AwaitingLateRefund(), "no payment recorded")
	assert.False(t, o.RefundClaimable())
	require.Error(t, o.CancelWithRefund(Refund{Amount: 1}, now))

	o.FlagForReconciliation("pay_late", "", now)
	assert.True(t, o.AwaitingLateRefund())
	assert.True(t, o.RefundClaimable())

	require.NoError(t, o.CancelWithRefund(Refund{Amount: o.GrandTotal, GatewayRefundID: "rfnd_late", CreatedAt: now}, now))
	assert.True(t, o.CancelledAndRefunded())
	assert.False(t, o.AwaitingLateRefund())
	assert.False(t, o.RefundClaimable())
}

func TestExpire(t *testing.T) {
	o := newPendingOrder()
	require.NoError(t, o.Expire(now))
	assert.Equal(t, OrderCancelled, o.Status)
	assert.Equal(t, PaymentFailed, o.Payment.Status)

	assert.ErrorIs(t, o.Expire(now), ErrInvalidState)
}

func TestCloneIsDeep(t *testing.T) {
	o := newPendingOrder()
	o.Payment.Refunds = []Refund{{Amount: 1}}
	c := o.Clone()

	c.Lines[0].Quantity = 99
	c.Payment.Refunds[0].Amount = 99
	*c.ExpiresAt = c.ExpiresAt.Add(time.Hour)

	assert.Equal(t, 2, o.Lines[0].Quantity)
	assert.Equal(t, int64(1), o.Payment.Refunds[0].Amount)
	assert.Equal(t, now.Add(15*time.Minute), *o.ExpiresAt)
}

func TestOrderStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderPending, OrderConfirmed, true},
		{OrderPending, OrderCancelled, true},
		{OrderConfirmed, OrderShipped, true},
		{OrderConfirmed, OrderCancelled, true},
		{OrderShipped, OrderCancelled, false},
		{OrderDelivered, OrderReturnRequested, true},
		{OrderCancelled, OrderConfirmed, false},
		{OrderReturnRequested, OrderReturnAccepted, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStockErrorUnwraps(t *testing.T) {
	l := OrderLine{ProductID: uuid.New(), Size: "S", Color: "green", Quantity: 3}

	err := InsufficientStock(l)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.NotErrorIs(t, err, ErrVariantNotFound)
	assert.Contains(t, err.Error(), `size "S"`)

	assert.ErrorIs(t, VariantNotFound(l), ErrVariantNotFound)
}

func TestRefundErrorIsRetryable(t *testing.T) {
	err := &RefundError{PaymentID: "pay_1", Amount: 100, Diagnostic: "BAD_REQUEST_ERROR"}
	assert.ErrorIs(t, err, ErrRefundFailed)
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "BAD_REQUEST_ERROR")

	wrapped := &RefundError{PaymentID: "pay_1", Err: ErrGatewayUnavailable}
	assert.ErrorIs(t, wrapped, ErrGatewayUnavailable)

	assert.False(t, IsRetryable(errors.New("boom")))
	assert.False(t, IsRetryable(ErrInsufficientStock))
}
