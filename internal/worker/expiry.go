package worker

import (
	"context"
	"log/slog"
	"time"

	"storefront-engine/internal/domain"
	"storefront-engine/internal/metrics"
	"storefront-engine/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const expiredReason = "payment window elapsed"

// ExpirySweeper cancels PENDING orders whose payment window lapsed without a
// successful payment. Orders already holding stock or queued for
// reconciliation are never touched.
type ExpirySweeper struct {
	store    repo.Store
	log      *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	interval time.Duration
	batch    int
	now      func() time.Time
}

func NewExpirySweeper(store repo.Store, log *slog.Logger, m *metrics.Metrics, interval time.Duration, batch int) *ExpirySweeper {
	if batch <= 0 {
		batch = 500
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpirySweeper{
		store:    store,
		log:      log,
		metrics:  m,
		tracer:   otel.Tracer("storefront-engine/internal/worker"),
		interval: interval,
		batch:    batch,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (w *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("expiry sweeper started", "interval", w.interval, "batch", w.batch)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.log.Error("expiry sweep failed", "err", err)
			}
		}
	}
}

// Sweep expires every eligible order, one batch per transaction, and returns
// how many were cancelled.
func (w *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	ctx, span := w.tracer.Start(ctx, "ExpirySweeper.Sweep")
	defer span.End()

	total := 0
	for {
		n, err := w.sweepBatch(ctx)
		total += n
		if err != nil {
			span.RecordError(err)
			return total, err
		}
		if n < w.batch {
			break
		}
	}
	span.SetAttributes(attribute.Int("orders.expired", total))
	if total > 0 {
		w.log.InfoContext(ctx, "expired unpaid orders", "count", total)
	}
	return total, nil
}

func (w *ExpirySweeper) sweepBatch(ctx context.Context) (int, error) {
	now := w.now()
	var expired []domain.Order
	err := w.store.WithTx(ctx, func(ctx context.Context, tx repo.Repos) error {
		var err error
		expired, err = tx.Orders().ExpirePending(ctx, now, w.batch)
		if err != nil {
			return err
		}
		for i := range expired {
			o := &expired[i]
			if err := tx.Outbox().Enqueue(ctx, o.ID, domain.EventOrderExpired, domain.NewOrderEvent(o, expiredReason, now)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, o := range expired {
		w.log.DebugContext(ctx, "order expired", "order_id", o.ID, "gateway_order_id", o.Payment.GatewayOrderID)
	}
	w.metrics.ExpiredOrders.Add(float64(len(expired)))
	return len(expired), nil
}
