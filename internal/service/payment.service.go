package service

import (
	"context"
	"fmt"
	"log/slog"

	"storefront-engine/internal/domain"
	"storefront-engine/internal/infrastructure/idempotency"
	"storefront-engine/internal/infrastructure/payment"

	"github.com/google/uuid"
)

type WebhookResult struct {
	Event     string        `json:"event"`
	Order     *domain.Order `json:"order,omitempty"`
	Duplicate bool          `json:"duplicate,omitempty"`
	Ignored   bool          `json:"ignored,omitempty"`
}

// PaymentService is the entry point for payment signals. It authenticates
// them and hands them to the finalizer or the cancellation coordinator.
type PaymentService struct {
	gateway   payment.Gateway
	finalizer *OrderFinalizer
	canceller *CancellationCoordinator
	dedup     idempotency.Store
	log       *slog.Logger
}

func NewPaymentService(gateway payment.Gateway, finalizer *OrderFinalizer, canceller *CancellationCoordinator, dedup idempotency.Store, log *slog.Logger) *PaymentService {
	return &PaymentService{
		gateway:   gateway,
		finalizer: finalizer,
		canceller: canceller,
		dedup:     dedup,
		log:       log,
	}
}

// FinalizeFromClientCallback handles the browser returning from checkout with
// the gateway's signed order/payment pair.
func (s *PaymentService) FinalizeFromClientCallback(ctx context.Context, gatewayOrderID, paymentID, signature string) (*domain.Order, error) {
	if gatewayOrderID == "" || paymentID == "" {
		return nil, fmt.Errorf("%w: gateway order id and payment id are required", domain.ErrSignatureInvalid)
	}
	if !s.gateway.VerifySignature(gatewayOrderID, paymentID, signature) {
		s.log.WarnContext(ctx, "client callback signature mismatch", "gateway_order_id", gatewayOrderID)
		return nil, domain.ErrSignatureInvalid
	}
	return s.finalizer.Finalize(ctx, FinalizeInput{
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: paymentID,
		Signature:        signature,
	})
}

// FinalizeFromWebhook handles a gateway webhook delivery. Deliveries carrying
// an event id already processed are acknowledged without side effects.
func (s *PaymentService) FinalizeFromWebhook(ctx context.Context, payload []byte, signature, eventID string) (*WebhookResult, error) {
	if !s.gateway.VerifyWebhookSignature(payload, signature) {
		s.log.WarnContext(ctx, "webhook signature mismatch", "event_id", eventID)
		return nil, domain.ErrSignatureInvalid
	}

	ev, err := payment.ParseWebhook(payload)
	if err != nil {
		return nil, err
	}

	key := ""
	if eventID != "" && s.dedup != nil {
		key = idempotency.WebhookKey(eventID)
		seen, err := s.dedup.Seen(ctx, key)
		if err != nil {
			// Finalization is idempotent on its own; dedup only saves work.
			s.log.WarnContext(ctx, "webhook dedup unavailable", "event_id", eventID, "err", err)
			key = ""
		} else if seen {
			s.log.InfoContext(ctx, "duplicate webhook delivery", "event_id", eventID, "event", ev.Event)
			return &WebhookResult{Event: ev.Event, Duplicate: true}, nil
		}
	}

	res, err := s.handleWebhook(ctx, ev)
	if err != nil && key != "" {
		if ferr := s.dedup.Forget(context.WithoutCancel(ctx), key); ferr != nil {
			s.log.ErrorContext(ctx, "forget webhook key", "event_id", eventID, "err", ferr)
		}
	}
	return res, err
}

func (s *PaymentService) handleWebhook(ctx context.Context, ev payment.WebhookEvent) (*WebhookResult, error) {
	p := ev.Payload.Payment.Entity
	gatewayOrderID := ev.GatewayOrderID()

	switch {
	case ev.Completed():
		order, err := s.finalizer.Finalize(ctx, FinalizeInput{
			GatewayOrderID:   gatewayOrderID,
			GatewayPaymentID: p.ID,
			Captured:         p.Captured || ev.Event == payment.EventPaymentCaptured,
		})
		if err != nil {
			return nil, err
		}
		return &WebhookResult{Event: ev.Event, Order: order}, nil

	case ev.Event == payment.EventPaymentAuthorized:
		order, err := s.finalizer.RecordAuthorization(ctx, gatewayOrderID, p.ID)
		if err != nil {
			return nil, err
		}
		return &WebhookResult{Event: ev.Event, Order: order}, nil

	default:
		// payment.failed leaves the order to the expiry sweeper so the payer
		// can retry within the payment window.
		s.log.InfoContext(ctx, "webhook ignored", "event", ev.Event, "gateway_order_id", gatewayOrderID)
		return &WebhookResult{Event: ev.Event, Ignored: true}, nil
	}
}

func (s *PaymentService) CancelOrder(ctx context.Context, orderID uuid.UUID, reason string) (*CancelResult, error) {
	return s.canceller.Cancel(ctx, orderID, reason)
}
