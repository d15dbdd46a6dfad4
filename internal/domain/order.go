package domain

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderConfirmed       OrderStatus = "CONFIRMED"
	OrderOutForDelivery  OrderStatus = "OUT_FOR_DELIVERY"
	OrderShipped         OrderStatus = "SHIPPED"
	OrderDelivered       OrderStatus = "DELIVERED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderReturnRequested OrderStatus = "RETURN_REQUESTED"
	OrderReturnAccepted  OrderStatus = "RETURN_ACCEPTED"
	OrderReturnRejected  OrderStatus = "RETURN_REJECTED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:         {OrderConfirmed, OrderCancelled},
	OrderConfirmed:       {OrderOutForDelivery, OrderShipped, OrderCancelled},
	OrderOutForDelivery:  {OrderShipped, OrderDelivered},
	OrderShipped:         {OrderOutForDelivery, OrderDelivered},
	OrderDelivered:       {OrderReturnRequested},
	OrderReturnRequested: {OrderReturnAccepted, OrderReturnRejected},
}

// CanTransitionTo reports whether the order lifecycle allows moving from s to next.
// Staying in the same status is always allowed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == next {
		return true
	}
	return slices.Contains(orderTransitions[s], next)
}

// Cancellable is the set of statuses the cancellation path accepts. Shipped and
// later orders go through the return workflow instead.
func (s OrderStatus) Cancellable() bool {
	return s == OrderPending || s == OrderConfirmed
}

type OrderLine struct {
	ProductID uuid.UUID `json:"productId"`
	Size      string    `json:"size"`
	Color     string    `json:"color"`
	Quantity  int       `json:"quantity"`
	UnitPrice int64     `json:"unitPrice"`
	LineTotal int64     `json:"lineTotal"`
}

func (l OrderLine) Validate() error {
	if l.ProductID == uuid.Nil {
		return &LineError{Line: l, Reason: "product id is required"}
	}
	if l.Size == "" || l.Color == "" {
		return &LineError{Line: l, Reason: "size and color are required for stock tracking"}
	}
	if l.Quantity <= 0 {
		return &LineError{Line: l, Reason: "quantity must be positive"}
	}
	if l.UnitPrice < 0 {
		return &LineError{Line: l, Reason: "unit price must not be negative"}
	}
	return nil
}

type Order struct {
	ID        uuid.UUID   `json:"id"`
	UserID    uuid.UUID   `json:"userId"`
	AddressID uuid.UUID   `json:"addressId"`
	Lines     []OrderLine `json:"lines"`
	Status    OrderStatus `json:"status"`
	Currency  string      `json:"currency"`
	Payment   Payment     `json:"payment"`

	SubTotal      int64 `json:"subTotal"`
	TaxTotal      int64 `json:"taxTotal"`
	DiscountTotal int64 `json:"discountTotal"`
	GrandTotal    int64 `json:"grandTotal"`

	StockDeducted          bool       `json:"stockDeducted"`
	StockDeductedAt        *time.Time `json:"stockDeductedAt,omitempty"`
	StockRestored          bool       `json:"stockRestored"`
	StockRestoredAt        *time.Time `json:"stockRestoredAt,omitempty"`
	ReconciliationRequired bool       `json:"reconciliationRequired"`
	RefundLockUntil        *time.Time `json:"-"`

	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Recalculate derives line totals and order totals from the lines. Totals are
// never taken from callers.
func (o *Order) Recalculate() {
	var sub int64
	for i := range o.Lines {
		o.Lines[i].LineTotal = int64(o.Lines[i].Quantity) * o.Lines[i].UnitPrice
		sub += o.Lines[i].LineTotal
	}
	o.SubTotal = sub
	o.GrandTotal = max(0, sub+o.TaxTotal-o.DiscountTotal)
}

// Validate checks the invariants every persisted order must hold.
func (o *Order) Validate() error {
	if len(o.Lines) == 0 {
		return fmt.Errorf("%w: order has no lines", ErrInvalidLine)
	}
	for _, l := range o.Lines {
		if err := l.Validate(); err != nil {
			return err
		}
	}
	if o.GrandTotal < 0 {
		return fmt.Errorf("%w: grand total is negative", ErrInvalidState)
	}
	if o.StockDeducted && o.Payment.Status != PaymentPaid && o.Payment.Status != PaymentRefunded {
		return fmt.Errorf("%w: stock deducted on an unpaid order", ErrInvalidState)
	}
	if o.StockRestored && !o.StockDeducted {
		return fmt.Errorf("%w: stock restored without a deduction", ErrInvalidState)
	}
	return nil
}

// Finalized reports whether both finalization latches are set.
func (o *Order) Finalized() bool {
	return o.Payment.Status == PaymentPaid && o.StockDeducted
}

func (o *Order) MarkPaid(paymentID, signature string, captured bool, now time.Time) error {
	if err := o.Payment.advance(PaymentPaid); err != nil {
		return err
	}
	if paymentID != "" {
		o.Payment.GatewayPaymentID = paymentID
	}
	if signature != "" {
		o.Payment.GatewaySignature = signature
	}
	o.Payment.Captured = o.Payment.Captured || captured
	if o.Status == OrderPending {
		o.Status = OrderConfirmed
	}
	o.ExpiresAt = nil
	o.UpdatedAt = now
	return nil
}

func (o *Order) MarkPaymentPending(paymentID string, now time.Time) error {
	if o.Payment.Status != PaymentCreated {
		return nil
	}
	if err := o.Payment.advance(PaymentPending); err != nil {
		return err
	}
	if paymentID != "" {
		o.Payment.GatewayPaymentID = paymentID
	}
	o.UpdatedAt = now
	return nil
}

func (o *Order) MarkStockDeducted(now time.Time) error {
	if o.StockDeducted {
		return nil
	}
	if o.Payment.Status != PaymentPaid {
		return fmt.Errorf("%w: cannot commit stock before payment", ErrInvalidState)
	}
	o.StockDeducted = true
	o.StockDeductedAt = &now
	o.UpdatedAt = now
	return nil
}

func (o *Order) MarkStockRestored(now time.Time) error {
	if o.StockRestored {
		return nil
	}
	if !o.StockDeducted {
		return fmt.Errorf("%w: nothing to restore", ErrInvalidState)
	}
	o.StockRestored = true
	o.StockRestoredAt = &now
	o.UpdatedAt = now
	return nil
}

// NeedsRestore reports whether cancelling this order must put stock back.
func (o *Order) NeedsRestore() bool {
	return o.StockDeducted && !o.StockRestored
}

// AwaitingLateRefund reports whether the order expired before a payment
// arrived for it. The payment is held by the gateway and only a refund
// resolves it.
func (o *Order) AwaitingLateRefund() bool {
	return o.Status == OrderCancelled &&
		o.Payment.Status == PaymentFailed &&
		o.ReconciliationRequired &&
		o.Payment.GatewayPaymentID != ""
}

// RefundClaimable reports whether the cancellation path may take the refund
// lease on this order.
func (o *Order) RefundClaimable() bool {
	return o.Status.Cancellable() || o.AwaitingLateRefund()
}

func (o *Order) CancelWithRefund(refund Refund, now time.Time) error {
	if !o.Status.CanTransitionTo(OrderCancelled) {
		return fmt.Errorf("%w: order status %q cannot be cancelled", ErrInvalidState, o.Status)
	}
	if o.AwaitingLateRefund() {
		// FAILED is terminal for the payment lifecycle, except for a capture
		// that landed after expiry and is now being returned.
		o.Payment.Status = PaymentRefunded
	} else if err := o.Payment.advance(PaymentRefunded); err != nil {
		return err
	}
	o.Payment.Refunds = append(o.Payment.Refunds, refund)
	o.Status = OrderCancelled
	o.RefundLockUntil = nil
	o.UpdatedAt = now
	return nil
}

// CancelledAndRefunded is the terminal state of the compensation path.
func (o *Order) CancelledAndRefunded() bool {
	return o.Status == OrderCancelled && o.Payment.Status == PaymentRefunded
}

func (o *Order) Expire(now time.Time) error {
	if o.Status != OrderPending {
		return fmt.Errorf("%w: only pending orders expire", ErrInvalidState)
	}
	if err := o.Payment.advance(PaymentFailed); err != nil {
		return err
	}
	o.Status = OrderCancelled
	o.UpdatedAt = now
	return nil
}

// Expirable reports whether the sweeper may cancel the order at now.
func (o *Order) Expirable(now time.Time) bool {
	return o.Status == OrderPending &&
		(o.Payment.Status == PaymentCreated || o.Payment.Status == PaymentPending) &&
		!o.ReconciliationRequired &&
		!o.StockDeducted &&
		(o.RefundLockUntil == nil || o.RefundLockUntil.Before(now)) &&
		o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// FlagForReconciliation records a gateway payment the engine could not turn
// into a committed order. Payment status is left untouched.
func (o *Order) FlagForReconciliation(paymentID, signature string, now time.Time) {
	if o.Payment.GatewayPaymentID == "" {
		o.Payment.GatewayPaymentID = paymentID
	}
	if o.Payment.GatewaySignature == "" {
		o.Payment.GatewaySignature = signature
	}
	o.ReconciliationRequired = true
	o.UpdatedAt = now
}

func (o *Order) LastRefund() *Refund {
	if len(o.Payment.Refunds) == 0 {
		return nil
	}
	r := o.Payment.Refunds[len(o.Payment.Refunds)-1]
	return &r
}

// Clone returns a deep copy so callers can mutate it without sharing slices or
// timestamps with the original.
func (o *Order) Clone() *Order {
	c := *o
	c.Lines = slices.Clone(o.Lines)
	c.Payment.Refunds = slices.Clone(o.Payment.Refunds)
	c.StockDeductedAt = cloneTime(o.StockDeductedAt)
	c.StockRestoredAt = cloneTime(o.StockRestoredAt)
	c.RefundLockUntil = cloneTime(o.RefundLockUntil)
	c.ExpiresAt = cloneTime(o.ExpiresAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
