package payment

import (
	"encoding/json"
	"fmt"

	"storefront-engine/internal/domain"
)

const (
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventOrderPaid         = "order.paid"
)

type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity PaymentInfo `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

// GatewayOrderID resolves the order the event refers to. order.paid carries it
// on the order entity, payment events on the payment entity.
func (e WebhookEvent) GatewayOrderID() string {
	if id := e.Payload.Payment.Entity.OrderID; id != "" {
		return id
	}
	return e.Payload.Order.Entity.ID
}

// Completed reports whether the event confirms money was taken.
func (e WebhookEvent) Completed() bool {
	return e.Event == EventPaymentCaptured || e.Event == EventOrderPaid
}

// ParseWebhook decodes a verified webhook body. Bodies that cannot be decoded
// fail with domain.ErrInvalidWebhook.
func ParseWebhook(payload []byte) (WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %w", domain.ErrInvalidWebhook, err)
	}
	if ev.Event == "" {
		return WebhookEvent{}, fmt.Errorf("%w: missing event type", domain.ErrInvalidWebhook)
	}
	return ev, nil
}
