package repo

import (
	"context"
	"time"

	"storefront-engine/internal/domain"

	"github.com/google/uuid"
)

type ReconciliationRepo interface {
	Create(ctx context.Context, rec *domain.Reconciliation) error
	// Resolve closes every open entry for the order.
	Resolve(ctx context.Context, orderID uuid.UUID, now time.Time) error
	ListOpen(ctx context.Context, limit int) ([]domain.Reconciliation, error)
}

type reconciliationRepo struct {
	q Querier
}

func NewReconciliationRepo(q Querier) ReconciliationRepo {
	return &reconciliationRepo{q: q}
}

// Create is idempotent per (order, payment): a webhook and a callback
// reporting the same shortfall produce one entry.
func (r *reconciliationRepo) Create(ctx context.Context, rec *domain.Reconciliation) error {
	return r.q.QueryRowContext(ctx, `
		INSERT INTO payment_reconciliations (order_id, gateway_order_id, gateway_payment_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id, gateway_payment_id) DO UPDATE SET reason = EXCLUDED.reason
		RETURNING id
	`, rec.OrderID, rec.GatewayOrderID, rec.GatewayPaymentID, rec.Reason, rec.CreatedAt).Scan(&rec.ID)
}

func (r *reconciliationRepo) Resolve(ctx context.Context, orderID uuid.UUID, now time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE payment_reconciliations
		SET resolved_at = $2
		WHERE order_id = $1 AND resolved_at IS NULL
	`, orderID, now)
	return err
}

func (r *reconciliationRepo) ListOpen(ctx context.Context, limit int) ([]domain.Reconciliation, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, order_id, gateway_order_id, gateway_payment_id, reason, created_at, resolved_at
		FROM payment_reconciliations
		WHERE resolved_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Reconciliation, 0)
	for rows.Next() {
		var rec domain.Reconciliation
		if err := rows.Scan(&rec.ID, &rec.OrderID, &rec.GatewayOrderID, &rec.GatewayPaymentID, &rec.Reason, &rec.CreatedAt, &rec.ResolvedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
