package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"storefront-engine/internal/domain"

	"github.com/google/uuid"
)

// Sandbox is an in-memory gateway used by the simulator and tests. It keeps
// intents, payments and refunds in maps guarded by one RWMutex and can inject
// declines, outages and latency.
type Sandbox struct {
	mu       sync.RWMutex
	intents  map[string]Intent
	payments map[string]*PaymentInfo

	keySecret     string
	webhookSecret string

	// RefundDeclineRate is the chance in [0,1) that a refund is declined.
	RefundDeclineRate float64
	Latency           time.Duration

	unavailable   atomic.Bool
	declineNext   atomic.Pointer[string]
	refundCalls   atomic.Int64
	intentCounter atomic.Int64
}

var _ Gateway = (*Sandbox)(nil)

func NewSandbox(keySecret, webhookSecret string) *Sandbox {
	return &Sandbox{
		intents:       make(map[string]Intent),
		payments:      make(map[string]*PaymentInfo),
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
	}
}

func (s *Sandbox) SetUnavailable(down bool) { s.unavailable.Store(down) }

// DeclineNextRefund makes the next refund fail with the given diagnostic.
func (s *Sandbox) DeclineNextRefund(diagnostic string) { s.declineNext.Store(&diagnostic) }

func (s *Sandbox) RefundCalls() int64 { return s.refundCalls.Load() }

func (s *Sandbox) wait(ctx context.Context) error {
	if s.unavailable.Load() {
		return fmt.Errorf("%w: sandbox offline", domain.ErrGatewayUnavailable)
	}
	if s.Latency <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, ctx.Err())
	case <-time.After(s.Latency):
		return nil
	}
}

func (s *Sandbox) CreateIntent(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (Intent, error) {
	if err := s.wait(ctx); err != nil {
		return Intent{}, err
	}
	if amount <= 0 {
		return Intent{}, errors.New("amount must be positive")
	}
	in := Intent{
		ID:       fmt.Sprintf("order_sbx%06d", s.intentCounter.Add(1)),
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
	}
	s.mu.Lock()
	s.intents[in.ID] = in
	s.mu.Unlock()
	return in, nil
}

// Capture plays the payer: it settles the intent and returns the payment with
// the signature a checkout client would receive.
func (s *Sandbox) Capture(intentID string) (PaymentInfo, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.intents[intentID]
	if !ok {
		return PaymentInfo{}, "", fmt.Errorf("unknown intent %s", intentID)
	}
	p := &PaymentInfo{
		ID:       "pay_" + uuid.NewString()[:14],
		OrderID:  in.ID,
		Amount:   in.Amount,
		Currency: in.Currency,
		Status:   StatusCaptured,
		Captured: true,
	}
	s.payments[p.ID] = p
	return *p, CheckoutSignature(s.keySecret, in.ID, p.ID), nil
}

// WebhookFor builds a signed payment.captured webhook body for a payment.
func (s *Sandbox) WebhookFor(p PaymentInfo) ([]byte, string, error) {
	body, err := json.Marshal(map[string]any{
		"event": "payment.captured",
		"payload": map[string]any{
			"payment": map[string]any{"entity": p},
		},
		"created_at": time.Now().Unix(),
	})
	if err != nil {
		return nil, "", err
	}
	return body, Sign(s.webhookSecret, body), nil
}

func (s *Sandbox) FetchPayment(ctx context.Context, paymentID string) (PaymentInfo, error) {
	if err := s.wait(ctx); err != nil {
		return PaymentInfo{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return PaymentInfo{}, fmt.Errorf("payment %s not found", paymentID)
	}
	return *p, nil
}

func (s *Sandbox) Refund(ctx context.Context, paymentID string, amount int64) (RefundInfo, error) {
	s.refundCalls.Add(1)
	if err := s.wait(ctx); err != nil {
		return RefundInfo{}, err
	}
	if diag := s.declineNext.Swap(nil); diag != nil {
		return RefundInfo{}, &domain.RefundError{PaymentID: paymentID, Amount: amount, Diagnostic: *diag}
	}
	if s.RefundDeclineRate > 0 && rand.Float64() < s.RefundDeclineRate {
		return RefundInfo{}, &domain.RefundError{PaymentID: paymentID, Amount: amount, Diagnostic: "BAD_REQUEST_ERROR: refund declined by issuer"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return RefundInfo{}, &domain.RefundError{PaymentID: paymentID, Amount: amount, Diagnostic: "BAD_REQUEST_ERROR: payment not found"}
	}
	if p.AmountRefunded+amount > p.Amount {
		return RefundInfo{}, &domain.RefundError{PaymentID: paymentID, Amount: amount, Diagnostic: "BAD_REQUEST_ERROR: refund exceeds captured amount"}
	}
	p.AmountRefunded += amount
	if p.AmountRefunded == p.Amount {
		p.Status = StatusRefunded
	}
	return RefundInfo{
		ID:        "rfnd_" + uuid.NewString()[:14],
		PaymentID: paymentID,
		Amount:    amount,
		Status:    "processed",
	}, nil
}

func (s *Sandbox) VerifySignature(orderID, paymentID, signature string) bool {
	return verify(s.keySecret, []byte(orderID+"|"+paymentID), signature)
}

func (s *Sandbox) VerifyWebhookSignature(payload []byte, signature string) bool {
	return verify(s.webhookSecret, payload, signature)
}
