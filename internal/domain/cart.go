package domain

import (
	"time"

	"github.com/google/uuid"
)

type CartItem struct {
	ProductID uuid.UUID `json:"productId"`
	Size      string    `json:"size"`
	Color     string    `json:"color"`
	Quantity  int       `json:"quantity"`
	UnitPrice int64     `json:"unitPrice"`
}

type Variant struct {
	ProductID uuid.UUID `json:"productId"`
	Size      string    `json:"size"`
	Color     string    `json:"color"`
	Stock     int       `json:"stock"`
}

// Reconciliation is a manual-ops entry for money the gateway holds against an
// order that could not be committed.
type Reconciliation struct {
	ID               int64      `json:"id"`
	OrderID          uuid.UUID  `json:"orderId"`
	GatewayOrderID   string     `json:"gatewayOrderId"`
	GatewayPaymentID string     `json:"gatewayPaymentId"`
	Reason           string     `json:"reason"`
	CreatedAt        time.Time  `json:"createdAt"`
	ResolvedAt       *time.Time `json:"resolvedAt,omitempty"`
}
