package service

import (
	"context"
	"io"
	"testing"
	"time"

	"storefront-engine/internal/domain"
	"storefront-engine/internal/infrastructure/idempotency"
	"storefront-engine/internal/infrastructure/payment"
	"storefront-engine/internal/logging"
	"storefront-engine/internal/metrics"
	"storefront-engine/internal/repo/memory"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	keySecret     = "test_key_secret"
	webhookSecret = "test_webhook_secret"
)

type harness struct {
	store     *memory.Store
	gateway   *payment.Sandbox
	metrics   *metrics.Metrics
	orders    *OrderService
	finalizer *OrderFinalizer
	canceller *CancellationCoordinator
	payments  *PaymentService
	variant   domain.Variant
}

func newHarness(t *testing.T, stock int) *harness {
	t.Helper()
	log := logging.NewWithWriter(io.Discard, "debug")
	store := memory.NewStore()
	gw := payment.NewSandbox(keySecret, webhookSecret)
	m := metrics.New(prometheus.NewRegistry())

	h := &harness{
		store:     store,
		gateway:   gw,
		metrics:   m,
		orders:    NewOrderService(store, gw, log, 15*time.Minute),
		finalizer: NewOrderFinalizer(store, log, m),
		canceller: NewCancellationCoordinator(store, gw, log, m, time.Minute),
		variant:   domain.Variant{ProductID: uuid.New(), Size: "M", Color: "navy", Stock: stock},
	}
	h.payments = NewPaymentService(gw, h.finalizer, h.canceller, idempotency.NewMemoryStore(time.Hour), log)
	require.NoError(t, store.Stock().Put(context.Background(), h.variant))
	return h
}

func (h *harness) line(qty int) domain.OrderLine {
	return domain.OrderLine{
		ProductID: h.variant.ProductID,
		Size:      h.variant.Size,
		Color:     h.variant.Color,
		Quantity:  qty,
		UnitPrice: 2500,
	}
}

func (h *harness) checkout(t *testing.T, qty int) *domain.Order {
	t.Helper()
	o, err := h.orders.Checkout(context.Background(), CheckoutRequest{
		UserID:    uuid.New(),
		AddressID: uuid.New(),
		Currency:  "inr",
		Lines:     []domain.OrderLine{h.line(qty)},
		TaxTotal:  100,
	})
	require.NoError(t, err)
	return o
}

// pay captures the order's intent and returns what the client callback sends.
func (h *harness) pay(t *testing.T, o *domain.Order) (payment.PaymentInfo, string) {
	t.Helper()
	p, sig, err := h.gateway.Capture(o.Payment.GatewayOrderID)
	require.NoError(t, err)
	return p, sig
}

func (h *harness) stock(t *testing.T) int {
	t.Helper()
	v, err := h.store.Stock().Get(context.Background(), h.variant.ProductID, h.variant.Size, h.variant.Color)
	require.NoError(t, err)
	return v.Stock
}

func (h *harness) reload(t *testing.T, id uuid.UUID) *domain.Order {
	t.Helper()
	o, err := h.orders.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (h *harness) eventsOfType(typ string) int {
	n := 0
	for _, e := range h.store.Events() {
		if e.Type == typ {
			n++
		}
	}
	return n
}
