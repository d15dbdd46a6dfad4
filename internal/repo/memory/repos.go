package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"storefront-engine/internal/domain"
	"storefront-engine/internal/outbox"
	"storefront-engine/internal/repo"

	"github.com/google/uuid"
)

const maxOutboxRetries = 5

type orderRepo struct {
	v view
}

func (r *orderRepo) Create(ctx context.Context, order *domain.Order) error {
	order.Recalculate()
	if err := order.Validate(); err != nil {
		return err
	}
	return r.v.do(func(st *state) error {
		if _, ok := st.orders[order.ID]; ok {
			return fmt.Errorf("order %s already exists", order.ID)
		}
		if _, ok := st.byGateway[order.Payment.GatewayOrderID]; ok && order.Payment.GatewayOrderID != "" {
			return fmt.Errorf("gateway order %s already bound", order.Payment.GatewayOrderID)
		}
		st.orders[order.ID] = order.Clone()
		if order.Payment.GatewayOrderID != "" {
			st.byGateway[order.Payment.GatewayOrderID] = order.ID
		}
		return nil
	})
}

func (r *orderRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var out *domain.Order
	err := r.v.do(func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
		}
		out = o.Clone()
		return nil
	})
	return out, err
}

func (r *orderRepo) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Order, error) {
	var out *domain.Order
	err := r.v.do(func(st *state) error {
		id, ok := st.byGateway[gatewayOrderID]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, gatewayOrderID)
		}
		out = st.orders[id].Clone()
		return nil
	})
	return out, err
}

// Transactions are already serialized, so locking reads are plain reads.
func (r *orderRepo) LockByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.FindByID(ctx, id)
}

func (r *orderRepo) LockByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Order, error) {
	return r.FindByGatewayOrderID(ctx, gatewayOrderID)
}

func (r *orderRepo) Save(ctx context.Context, order *domain.Order) error {
	order.Recalculate()
	if err := order.Validate(); err != nil {
		return err
	}
	return r.v.do(func(st *state) error {
		if _, ok := st.orders[order.ID]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, order.ID)
		}
		st.orders[order.ID] = order.Clone()
		return nil
	})
}

func (r *orderRepo) ClaimRefund(ctx context.Context, id uuid.UUID, now, until time.Time) (bool, error) {
	claimed := false
	err := r.v.do(func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
		}
		if !o.RefundClaimable() {
			return nil
		}
		if o.RefundLockUntil != nil && !o.RefundLockUntil.Before(now) {
			return nil
		}
		o.RefundLockUntil = &until
		o.UpdatedAt = now
		claimed = true
		return nil
	})
	return claimed, err
}

func (r *orderRepo) ReleaseRefundClaim(ctx context.Context, id uuid.UUID) error {
	return r.v.do(func(st *state) error {
		if o, ok := st.orders[id]; ok {
			o.RefundLockUntil = nil
		}
		return nil
	})
}

func (r *orderRepo) ExpirePending(ctx context.Context, now time.Time, limit int) ([]domain.Order, error) {
	var expired []domain.Order
	err := r.v.do(func(st *state) error {
		candidates := make([]*domain.Order, 0)
		for _, o := range st.orders {
			if o.Expirable(now) {
				candidates = append(candidates, o)
			}
		}
		slices.SortFunc(candidates, func(a, b *domain.Order) int {
			return a.ExpiresAt.Compare(*b.ExpiresAt)
		})
		if limit > 0 && len(candidates) > limit {
			candidates = candidates[:limit]
		}
		for _, o := range candidates {
			if err := o.Expire(now); err != nil {
				return err
			}
			expired = append(expired, *o.Clone())
		}
		return nil
	})
	return expired, err
}

type stockLedger struct {
	v view
}

func (l *stockLedger) Deduct(ctx context.Context, lines []domain.OrderLine) error {
	if err := repo.ValidateTrackedLines(lines); err != nil {
		return err
	}
	return l.v.do(func(st *state) error {
		for _, line := range lines {
			k := keyOf(line)
			stock, ok := st.variants[k]
			if !ok || stock < line.Quantity {
				return domain.InsufficientStock(line)
			}
			st.variants[k] = stock - line.Quantity
		}
		return nil
	})
}

func (l *stockLedger) Restore(ctx context.Context, lines []domain.OrderLine) error {
	if err := repo.ValidateTrackedLines(lines); err != nil {
		return err
	}
	return l.v.do(func(st *state) error {
		for _, line := range lines {
			k := keyOf(line)
			stock, ok := st.variants[k]
			if !ok {
				return domain.VariantNotFound(line)
			}
			st.variants[k] = stock + line.Quantity
		}
		return nil
	})
}

func (l *stockLedger) Get(ctx context.Context, productID uuid.UUID, size, color string) (domain.Variant, error) {
	v := domain.Variant{ProductID: productID, Size: size, Color: color}
	err := l.v.do(func(st *state) error {
		stock, ok := st.variants[variantKey{productID: productID, size: size, color: color}]
		if !ok {
			return domain.VariantNotFound(domain.OrderLine{ProductID: productID, Size: size, Color: color})
		}
		v.Stock = stock
		return nil
	})
	return v, err
}

func (l *stockLedger) Put(ctx context.Context, v domain.Variant) error {
	if v.Stock < 0 {
		return fmt.Errorf("stock must not be negative")
	}
	return l.v.do(func(st *state) error {
		st.variants[variantKey{productID: v.ProductID, size: v.Size, color: v.Color}] = v.Stock
		return nil
	})
}

type cartRepo struct {
	v view
}

func (r *cartRepo) Items(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error) {
	var items []domain.CartItem
	err := r.v.do(func(st *state) error {
		items = slices.Clone(st.carts[userID])
		return nil
	})
	if items == nil {
		items = []domain.CartItem{}
	}
	return items, err
}

func (r *cartRepo) Add(ctx context.Context, userID uuid.UUID, item domain.CartItem) error {
	return r.v.do(func(st *state) error {
		items := st.carts[userID]
		for i := range items {
			if items[i].ProductID == item.ProductID && items[i].Size == item.Size && items[i].Color == item.Color {
				items[i].Quantity += item.Quantity
				items[i].UnitPrice = item.UnitPrice
				return nil
			}
		}
		st.carts[userID] = append(items, item)
		return nil
	})
}

func (r *cartRepo) Clear(ctx context.Context, userID uuid.UUID) error {
	return r.v.do(func(st *state) error {
		delete(st.carts, userID)
		return nil
	})
}

type reconciliationRepo struct {
	v view
}

func (r *reconciliationRepo) Create(ctx context.Context, rec *domain.Reconciliation) error {
	return r.v.do(func(st *state) error {
		for i := range st.recons {
			if st.recons[i].OrderID == rec.OrderID && st.recons[i].GatewayPaymentID == rec.GatewayPaymentID {
				st.recons[i].Reason = rec.Reason
				rec.ID = st.recons[i].ID
				return nil
			}
		}
		st.nextRecon++
		rec.ID = st.nextRecon
		st.recons = append(st.recons, *rec)
		return nil
	})
}

func (r *reconciliationRepo) Resolve(ctx context.Context, orderID uuid.UUID, now time.Time) error {
	return r.v.do(func(st *state) error {
		for i := range st.recons {
			if st.recons[i].OrderID == orderID && st.recons[i].ResolvedAt == nil {
				at := now
				st.recons[i].ResolvedAt = &at
			}
		}
		return nil
	})
}

func (r *reconciliationRepo) ListOpen(ctx context.Context, limit int) ([]domain.Reconciliation, error) {
	out := make([]domain.Reconciliation, 0)
	err := r.v.do(func(st *state) error {
		for _, rec := range st.recons {
			if rec.ResolvedAt == nil {
				out = append(out, rec)
			}
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

type outboxRepo struct {
	v view
}

func (r *outboxRepo) Enqueue(ctx context.Context, aggregateID uuid.UUID, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return r.v.do(func(st *state) error {
		st.nextEvent++
		st.events = append(st.events, outbox.Event{
			ID:            st.nextEvent,
			AggregateType: "order",
			AggregateID:   aggregateID.String(),
			Type:          eventType,
			Payload:       data,
			CreatedAt:     time.Now().UTC(),
			Status:        outbox.StatusPending,
		})
		return nil
	})
}

func (r *outboxRepo) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	var out []outbox.Event
	err := r.v.do(func(st *state) error {
		for i := range st.events {
			e := &st.events[i]
			eligible := e.Status == outbox.StatusPending ||
				(e.Status == outbox.StatusFailed && e.RetryCount < maxOutboxRetries)
			if !eligible {
				continue
			}
			e.Status = outbox.StatusInProgress
			e.RelayID = relayID
			out = append(out, *e)
			if len(out) == batchSize {
				break
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b outbox.Event) int { return cmp.Compare(a.ID, b.ID) })
	return out, err
}

func (r *outboxRepo) MarkSent(ctx context.Context, ids []int64) error {
	return r.v.do(func(st *state) error {
		for i := range st.events {
			if slices.Contains(ids, st.events[i].ID) {
				st.events[i].Status = outbox.StatusSent
			}
		}
		return nil
	})
}

func (r *outboxRepo) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	return r.v.do(func(st *state) error {
		for i := range st.events {
			if st.events[i].ID == id {
				msg := errMsg
				st.events[i].Status = outbox.StatusFailed
				st.events[i].LastError = &msg
				st.events[i].RetryCount++
			}
		}
		return nil
	})
}
