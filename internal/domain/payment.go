package domain

import (
	"fmt"
	"time"
)

type PaymentStatus string

const (
	PaymentCreated  PaymentStatus = "CREATED"
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

var paymentRank = map[PaymentStatus]int{
	PaymentCreated:  0,
	PaymentPending:  1,
	PaymentPaid:     2,
	PaymentRefunded: 3,
}

// CanTransitionTo enforces forward-only payment progress:
// CREATED -> PENDING -> PAID -> REFUNDED, and FAILED only from CREATED or PENDING.
// FAILED and REFUNDED are terminal.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case PaymentFailed, PaymentRefunded:
		return false
	}
	if next == PaymentFailed {
		return s == PaymentCreated || s == PaymentPending
	}
	from, ok := paymentRank[s]
	if !ok {
		return false
	}
	to, ok := paymentRank[next]
	return ok && to > from
}

type Refund struct {
	Amount          int64     `json:"amount"`
	Reason          string    `json:"reason"`
	GatewayRefundID string    `json:"gatewayRefundId"`
	CreatedAt       time.Time `json:"createdAt"`
}

type Payment struct {
	GatewayOrderID   string        `json:"gatewayOrderId"`
	GatewayPaymentID string        `json:"gatewayPaymentId,omitempty"`
	GatewaySignature string        `json:"-"`
	Status           PaymentStatus `json:"paymentStatus"`
	Captured         bool          `json:"captured"`
	Refunds          []Refund      `json:"refunds"`
}

func (p *Payment) advance(next PaymentStatus) error {
	if !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: payment status %s cannot move to %s", ErrInvalidState, p.Status, next)
	}
	p.Status = next
	return nil
}
