package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"storefront-engine/internal/domain"
	"storefront-engine/internal/infrastructure/payment"
	"storefront-engine/internal/metrics"
	"storefront-engine/internal/repo"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultCancelReason = "cancelled by customer"

type CancelResult struct {
	Order  *domain.Order  `json:"order"`
	Refund *domain.Refund `json:"refund,omitempty"`
}

// CancellationCoordinator refunds a paid order and puts its stock back. The
// gateway call happens outside any database transaction; a short refund lease
// on the order keeps two cancellations from both calling the gateway.
type CancellationCoordinator struct {
	store   repo.Store
	gateway payment.Gateway
	log     *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	lease   time.Duration
	now     func() time.Time
}

func NewCancellationCoordinator(store repo.Store, gateway payment.Gateway, log *slog.Logger, m *metrics.Metrics, refundLease time.Duration) *CancellationCoordinator {
	if refundLease <= 0 {
		refundLease = 2 * time.Minute
	}
	return &CancellationCoordinator{
		store:   store,
		gateway: gateway,
		log:     log,
		metrics: m,
		tracer:  otel.Tracer(tracerName),
		lease:   refundLease,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (c *CancellationCoordinator) Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*CancelResult, error) {
	ctx, span := c.tracer.Start(ctx, "CancellationCoordinator.Cancel", trace.WithAttributes(
		attribute.String("order.id", orderID.String()),
	))
	defer span.End()

	res, err := c.cancel(ctx, orderID, reason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.Cancellations.WithLabelValues(outcomeOf(err)).Inc()
		c.log.WarnContext(ctx, "cancel failed", "order_id", orderID, "err", err)
		return nil, err
	}
	return res, nil
}

func (c *CancellationCoordinator) cancel(ctx context.Context, orderID uuid.UUID, reason string) (*CancelResult, error) {
	if reason == "" {
		reason = defaultCancelReason
	}

	o, err := c.store.Orders().FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.CancelledAndRefunded() {
		c.metrics.Cancellations.WithLabelValues("noop").Inc()
		return &CancelResult{Order: o, Refund: o.LastRefund()}, nil
	}
	if !o.RefundClaimable() {
		return nil, fmt.Errorf("%w: order %s is %s and cannot be cancelled", domain.ErrInvalidState, o.ID, o.Status)
	}
	if o.Payment.GatewayPaymentID == "" {
		return nil, fmt.Errorf("%w: order %s has no gateway payment to refund", domain.ErrPaymentMissing, o.ID)
	}

	now := c.now()
	claimed, err := c.store.Orders().ClaimRefund(ctx, o.ID, now, now.Add(c.lease))
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("%w: cancellation of order %s already in progress", domain.ErrInvalidState, o.ID)
	}

	refund, err := c.refund(ctx, o, reason)
	if err != nil {
		c.release(ctx, o.ID)
		return nil, err
	}

	var result *CancelResult
	err = c.store.WithTx(ctx, func(ctx context.Context, tx repo.Repos) error {
		cur, err := tx.Orders().LockByID(ctx, o.ID)
		if err != nil {
			return err
		}
		if cur.CancelledAndRefunded() {
			result = &CancelResult{Order: cur, Refund: cur.LastRefund()}
			return nil
		}

		now := c.now()
		if cur.NeedsRestore() {
			if err := tx.Stock().Restore(ctx, cur.Lines); err != nil {
				return err
			}
			if err := cur.MarkStockRestored(now); err != nil {
				return err
			}
		}
		if err := cur.CancelWithRefund(refund, now); err != nil {
			return err
		}
		if err := tx.Orders().Save(ctx, cur); err != nil {
			return err
		}
		if cur.ReconciliationRequired {
			if err := tx.Reconciliations().Resolve(ctx, cur.ID, now); err != nil {
				return err
			}
		}
		if err := tx.Outbox().Enqueue(ctx, cur.ID, domain.EventOrderCancelled, domain.NewOrderEvent(cur, reason, now)); err != nil {
			return err
		}
		result = &CancelResult{Order: cur, Refund: cur.LastRefund()}
		return nil
	})
	if err != nil {
		// The gateway already holds the refund. A retry finds it through
		// FetchPayment and only replays the local writes.
		c.release(ctx, o.ID)
		c.log.ErrorContext(ctx, "refund issued but order not updated",
			"order_id", o.ID,
			"gateway_payment_id", o.Payment.GatewayPaymentID,
			"gateway_refund_id", refund.GatewayRefundID,
			"err", err,
		)
		return nil, err
	}

	c.metrics.Cancellations.WithLabelValues("refunded").Inc()
	c.log.InfoContext(ctx, "order cancelled and refunded",
		"order_id", o.ID,
		"amount", refund.Amount,
		"gateway_refund_id", refund.GatewayRefundID,
		"stock_restored", result.Order.StockRestored,
	)
	return result, nil
}

// refund asks the gateway for the captured amount and refunds what is left of
// it. A payment the gateway reports as fully refunded is not refunded again.
func (c *CancellationCoordinator) refund(ctx context.Context, o *domain.Order, reason string) (domain.Refund, error) {
	paymentID := o.Payment.GatewayPaymentID

	info, err := c.gateway.FetchPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			return domain.Refund{}, err
		}
		return domain.Refund{}, &domain.RefundError{PaymentID: paymentID, Diagnostic: "fetch payment failed", Err: err}
	}

	if info.FullyRefunded() {
		c.log.InfoContext(ctx, "payment already refunded at gateway", "order_id", o.ID, "gateway_payment_id", paymentID)
		return domain.Refund{
			Amount:    info.AmountRefunded,
			Reason:    reason,
			CreatedAt: c.now(),
		}, nil
	}

	amount := info.Amount - info.AmountRefunded
	if amount <= 0 {
		return domain.Refund{}, &domain.RefundError{PaymentID: paymentID, Amount: amount, Diagnostic: "gateway reports nothing to refund"}
	}

	r, err := c.gateway.Refund(ctx, paymentID, amount)
	if err != nil {
		var re *domain.RefundError
		if errors.As(err, &re) || errors.Is(err, domain.ErrGatewayUnavailable) {
			return domain.Refund{}, err
		}
		return domain.Refund{}, &domain.RefundError{PaymentID: paymentID, Amount: amount, Err: err}
	}
	return domain.Refund{
		Amount:          r.Amount,
		Reason:          reason,
		GatewayRefundID: r.ID,
		CreatedAt:       c.now(),
	}, nil
}

func (c *CancellationCoordinator) release(ctx context.Context, id uuid.UUID) {
	if err := c.store.Orders().ReleaseRefundClaim(context.WithoutCancel(ctx), id); err != nil {
		c.log.ErrorContext(ctx, "release refund claim", "order_id", id, "err", err)
	}
}
