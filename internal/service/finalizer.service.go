package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"storefront-engine/internal/domain"
	"storefront-engine/internal/metrics"
	"storefront-engine/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "storefront-engine/internal/service"

type FinalizeInput struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	Captured         bool
}

// OrderFinalizer turns a successful payment into a committed order. Both the
// client callback and the gateway webhook end up here, possibly at the same
// time, and possibly more than once.
type OrderFinalizer struct {
	store   repo.Store
	log     *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

func NewOrderFinalizer(store repo.Store, log *slog.Logger, m *metrics.Metrics) *OrderFinalizer {
	return &OrderFinalizer{
		store:   store,
		log:     log,
		metrics: m,
		tracer:  otel.Tracer(tracerName),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Finalize marks the payment PAID and commits stock in one transaction under
// the order's row lock. Calling it again for an already finalized order
// returns the stored order without touching stock.
func (f *OrderFinalizer) Finalize(ctx context.Context, in FinalizeInput) (*domain.Order, error) {
	ctx, span := f.tracer.Start(ctx, "OrderFinalizer.Finalize", trace.WithAttributes(
		attribute.String("gateway.order_id", in.GatewayOrderID),
		attribute.String("gateway.payment_id", in.GatewayPaymentID),
	))
	defer span.End()

	if in.GatewayOrderID == "" {
		return nil, fmt.Errorf("%w: gateway order id is required", domain.ErrOrderNotFound)
	}

	var (
		order     *domain.Order
		committed bool
	)
	err := f.store.WithTx(ctx, func(ctx context.Context, tx repo.Repos) error {
		o, err := tx.Orders().LockByGatewayOrderID(ctx, in.GatewayOrderID)
		if err != nil {
			return err
		}
		if o.Finalized() || f.alreadyCompensated(o, in) {
			order = o
			return nil
		}

		now := f.now()
		if o.Payment.Status != domain.PaymentPaid {
			if err := o.MarkPaid(in.GatewayPaymentID, in.Signature, in.Captured, now); err != nil {
				return err
			}
		}
		if err := tx.Stock().Deduct(ctx, o.Lines); err != nil {
			return err
		}
		if err := o.MarkStockDeducted(now); err != nil {
			return err
		}
		if err := tx.Orders().Save(ctx, o); err != nil {
			return err
		}
		if err := tx.Outbox().Enqueue(ctx, o.ID, domain.EventOrderFinalized, domain.NewOrderEvent(o, "", now)); err != nil {
			return err
		}
		order, committed = o, true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		f.metrics.Finalizations.WithLabelValues(outcomeOf(err)).Inc()
		if errors.Is(err, domain.ErrInsufficientStock) {
			f.metrics.StockConflicts.Inc()
		}
		f.log.WarnContext(ctx, "finalize failed",
			"gateway_order_id", in.GatewayOrderID,
			"gateway_payment_id", in.GatewayPaymentID,
			"err", err,
		)
		f.flagForReconciliation(ctx, in, err)
		return nil, err
	}

	if !committed {
		f.metrics.Finalizations.WithLabelValues("noop").Inc()
		span.SetAttributes(attribute.Bool("finalize.noop", true))
		return order, nil
	}

	f.metrics.Finalizations.WithLabelValues("committed").Inc()
	f.log.InfoContext(ctx, "order finalized",
		"order_id", order.ID,
		"gateway_order_id", in.GatewayOrderID,
		"gateway_payment_id", order.Payment.GatewayPaymentID,
	)

	// The cart belongs to the storefront, not to the order. Losing this write
	// leaves stale items behind but never affects stock or money.
	if err := f.store.Carts().Clear(ctx, order.UserID); err != nil {
		f.log.WarnContext(ctx, "clear cart after finalize", "user_id", order.UserID, "err", err)
	}
	return order, nil
}

// RecordAuthorization moves a CREATED payment to PENDING when the gateway
// reports an authorization ahead of capture.
func (f *OrderFinalizer) RecordAuthorization(ctx context.Context, gatewayOrderID, paymentID string) (*domain.Order, error) {
	ctx, span := f.tracer.Start(ctx, "OrderFinalizer.RecordAuthorization")
	defer span.End()

	var order *domain.Order
	err := f.store.WithTx(ctx, func(ctx context.Context, tx repo.Repos) error {
		o, err := tx.Orders().LockByGatewayOrderID(ctx, gatewayOrderID)
		if err != nil {
			return err
		}
		order = o
		if o.Payment.Status != domain.PaymentCreated {
			return nil
		}
		if err := o.MarkPaymentPending(paymentID, f.now()); err != nil {
			return err
		}
		return tx.Orders().Save(ctx, o)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return order, nil
}

// A signal for a payment this order already refunded is stale.
func (f *OrderFinalizer) alreadyCompensated(o *domain.Order, in FinalizeInput) bool {
	if o.Payment.Status != domain.PaymentRefunded {
		return false
	}
	return in.GatewayPaymentID == "" || in.GatewayPaymentID == o.Payment.GatewayPaymentID
}

// A redelivered signal for a payment already queued for reconciliation adds
// nothing.
func alreadyFlagged(o *domain.Order, in FinalizeInput) bool {
	return o.ReconciliationRequired && o.Payment.GatewayPaymentID == in.GatewayPaymentID
}

// flagForReconciliation queues money the gateway captured for an order the
// engine could not commit. Nothing is refunded automatically.
func (f *OrderFinalizer) flagForReconciliation(ctx context.Context, in FinalizeInput, cause error) {
	if in.GatewayPaymentID == "" {
		return
	}
	if !errors.Is(cause, domain.ErrInsufficientStock) && !errors.Is(cause, domain.ErrInvalidState) {
		return
	}

	flagged := false
	err := f.store.WithTx(ctx, func(ctx context.Context, tx repo.Repos) error {
		o, err := tx.Orders().LockByGatewayOrderID(ctx, in.GatewayOrderID)
		if err != nil {
			return err
		}
		if o.Finalized() || f.alreadyCompensated(o, in) || alreadyFlagged(o, in) {
			return nil
		}
		now := f.now()
		o.FlagForReconciliation(in.GatewayPaymentID, in.Signature, now)
		if err := tx.Orders().Save(ctx, o); err != nil {
			return err
		}
		rec := &domain.Reconciliation{
			OrderID:          o.ID,
			GatewayOrderID:   in.GatewayOrderID,
			GatewayPaymentID: in.GatewayPaymentID,
			Reason:           cause.Error(),
			CreatedAt:        now,
		}
		if err := tx.Reconciliations().Create(ctx, rec); err != nil {
			return err
		}
		flagged = true
		return tx.Outbox().Enqueue(ctx, o.ID, domain.EventOrderReconciliationRequired, domain.NewOrderEvent(o, cause.Error(), now))
	})
	if err != nil {
		f.log.ErrorContext(ctx, "queue payment for reconciliation",
			"gateway_order_id", in.GatewayOrderID,
			"gateway_payment_id", in.GatewayPaymentID,
			"err", err,
		)
		return
	}
	if flagged {
		f.metrics.Reconciliation.Inc()
		f.log.WarnContext(ctx, "payment queued for reconciliation",
			"gateway_order_id", in.GatewayOrderID,
			"gateway_payment_id", in.GatewayPaymentID,
			"reason", cause.Error(),
		)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrVariantNotFound), errors.Is(err, domain.ErrInvalidLine):
		return "invalid_line"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrPaymentMissing):
		return "payment_missing"
	case errors.Is(err, domain.ErrRefundFailed):
		return "refund_failed"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return "gateway_unavailable"
	default:
		return "error"
	}
}
