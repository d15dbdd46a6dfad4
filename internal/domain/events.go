package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderFinalized              = "order.finalized"
	EventOrderCancelled              = "order.cancelled"
	EventOrderExpired                = "order.expired"
	EventOrderReconciliationRequired = "order.reconciliation_required"
)

type OrderEvent struct {
	OrderID          uuid.UUID     `json:"orderId"`
	UserID           uuid.UUID     `json:"userId"`
	Status           OrderStatus   `json:"status"`
	PaymentStatus    PaymentStatus `json:"paymentStatus"`
	GatewayOrderID   string        `json:"gatewayOrderId,omitempty"`
	GatewayPaymentID string        `json:"gatewayPaymentId,omitempty"`
	GrandTotal       int64         `json:"grandTotal"`
	Reason           string        `json:"reason,omitempty"`
	OccurredAt       time.Time     `json:"occurredAt"`
}

func NewOrderEvent(o *Order, reason string, now time.Time) OrderEvent {
	return OrderEvent{
		OrderID:          o.ID,
		UserID:           o.UserID,
		Status:           o.Status,
		PaymentStatus:    o.Payment.Status,
		GatewayOrderID:   o.Payment.GatewayOrderID,
		GatewayPaymentID: o.Payment.GatewayPaymentID,
		GrandTotal:       o.GrandTotal,
		Reason:           reason,
		OccurredAt:       now,
	}
}
