package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"storefront-engine/internal/domain"
	"time"

	"github.com/google/uuid"
)

type OrderRepo interface {
	Create(ctx context.Context, order *domain.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Order, error)
	// LockByID and LockByGatewayOrderID hold the row until the enclosing
	// transaction ends, serializing concurrent writers of one order.
	LockByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	LockByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Order, error)
	Save(ctx context.Context, order *domain.Order) error
	// ClaimRefund takes the refund lease if it is free or lapsed and the order
	// is still cancellable or awaits a late refund. It reports whether the
	// lease was taken.
	ClaimRefund(ctx context.Context, id uuid.UUID, now, until time.Time) (bool, error)
	ReleaseRefundClaim(ctx context.Context, id uuid.UUID) error
	// ExpirePending cancels unpaid orders whose payment window lapsed and
	// returns them.
	ExpirePending(ctx context.Context, now time.Time, limit int) ([]domain.Order, error)
}

const orderColumns = `id, user_id, address_id, status, currency,
	sub_total, tax_total, discount_total, grand_total,
	gateway_order_id, gateway_payment_id, gateway_signature, payment_status, captured,
	stock_deducted, stock_deducted_at, stock_restored, stock_restored_at,
	reconciliation_required, refund_lock_until, expires_at, created_at, updated_at`

type orderRepo struct {
	q Querier
}

func NewOrderRepo(q Querier) OrderRepo {
	return &orderRepo{q: q}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                                         domain.Order
		deductedAt, restoredAt, lockUntil, expiry sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.AddressID, &o.Status, &o.Currency,
		&o.SubTotal, &o.TaxTotal, &o.DiscountTotal, &o.GrandTotal,
		&o.Payment.GatewayOrderID, &o.Payment.GatewayPaymentID, &o.Payment.GatewaySignature, &o.Payment.Status, &o.Payment.Captured,
		&o.StockDeducted, &deductedAt, &o.StockRestored, &restoredAt,
		&o.ReconciliationRequired, &lockUntil, &expiry, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.StockDeductedAt = timePtr(deductedAt)
	o.StockRestoredAt = timePtr(restoredAt)
	o.RefundLockUntil = timePtr(lockUntil)
	o.ExpiresAt = timePtr(expiry)
	return &o, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (r *orderRepo) Create(ctx context.Context, order *domain.Order) error {
	order.Recalculate()
	if err := order.Validate(); err != nil {
		return err
	}

	_, err := r.q.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		order.ID, order.UserID, order.AddressID, order.Status, order.Currency,
		order.SubTotal, order.TaxTotal, order.DiscountTotal, order.GrandTotal,
		order.Payment.GatewayOrderID, order.Payment.GatewayPaymentID, order.Payment.GatewaySignature, order.Payment.Status, order.Payment.Captured,
		order.StockDeducted, nullTime(order.StockDeductedAt), order.StockRestored, nullTime(order.StockRestoredAt),
		order.ReconciliationRequired, nullTime(order.RefundLockUntil), nullTime(order.ExpiresAt), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, l := range order.Lines {
		_, err := r.q.ExecContext(ctx, `INSERT INTO order_lines (order_id, line_no, product_id, size, color, quantity, unit_price, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			order.ID, i, l.ProductID, l.Size, l.Color, l.Quantity, l.UnitPrice, l.LineTotal)
		if err != nil {
			return fmt.Errorf("insert order line %d: %w", i, err)
		}
	}
	return nil
}

func (r *orderRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *orderRepo) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Order, error) {
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE gateway_order_id = $1`, gatewayOrderID)
}

func (r *orderRepo) LockByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *orderRepo) LockByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Order, error) {
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE gateway_order_id = $1 FOR UPDATE`, gatewayOrderID)
}

func (r *orderRepo) findOne(ctx context.Context, query string, arg any) (*domain.Order, error) {
	order, err := scanOrder(r.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", domain.ErrOrderNotFound, arg)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, order); err != nil {
		return nil, err
	}
	if err := r.loadRefunds(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepo) loadLines(ctx context.Context, order *domain.Order) error {
	rows, err := r.q.QueryContext(ctx, `SELECT product_id, size, color, quantity, unit_price, line_total
		FROM order_lines WHERE order_id = $1 ORDER BY line_no`, order.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ProductID, &l.Size, &l.Color, &l.Quantity, &l.UnitPrice, &l.LineTotal); err != nil {
			return err
		}
		order.Lines = append(order.Lines, l)
	}
	return rows.Err()
}

func (r *orderRepo) loadRefunds(ctx context.Context, order *domain.Order) error {
	rows, err := r.q.QueryContext(ctx, `SELECT amount, reason, gateway_refund_id, created_at
		FROM order_refunds WHERE order_id = $1 ORDER BY seq`, order.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var rf domain.Refund
		if err := rows.Scan(&rf.Amount, &rf.Reason, &rf.GatewayRefundID, &rf.CreatedAt); err != nil {
			return err
		}
		order.Payment.Refunds = append(order.Payment.Refunds, rf)
	}
	return rows.Err()
}

func (r *orderRepo) Save(ctx context.Context, order *domain.Order) error {
	order.Recalculate()
	if err := order.Validate(); err != nil {
		return err
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    sub_total = $3, tax_total = $4, discount_total = $5, grand_total = $6,
		    gateway_payment_id = $7, gateway_signature = $8, payment_status = $9, captured = $10,
		    stock_deducted = $11, stock_deducted_at = $12, stock_restored = $13, stock_restored_at = $14,
		    reconciliation_required = $15, refund_lock_until = $16, expires_at = $17, updated_at = $18
		WHERE id = $1
	`,
		order.ID, order.Status,
		order.SubTotal, order.TaxTotal, order.DiscountTotal, order.GrandTotal,
		order.Payment.GatewayPaymentID, order.Payment.GatewaySignature, order.Payment.Status, order.Payment.Captured,
		order.StockDeducted, nullTime(order.StockDeductedAt), order.StockRestored, nullTime(order.StockRestoredAt),
		order.ReconciliationRequired, nullTime(order.RefundLockUntil), nullTime(order.ExpiresAt), order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, order.ID)
	}

	if _, err := r.q.ExecContext(ctx, `UPDATE order_lines SET line_total = quantity * unit_price WHERE order_id = $1`, order.ID); err != nil {
		return fmt.Errorf("update order lines: %w", err)
	}

	for i, rf := range order.Payment.Refunds {
		_, err := r.q.ExecContext(ctx, `INSERT INTO order_refunds (order_id, seq, amount, reason, gateway_refund_id, created_at)
			VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (order_id, seq) DO NOTHING`,
			order.ID, i, rf.Amount, rf.Reason, rf.GatewayRefundID, rf.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert refund record: %w", err)
		}
	}
	return nil
}

func (r *orderRepo) ClaimRefund(ctx context.Context, id uuid.UUID, now, until time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET refund_lock_until = $3, updated_at = $2
		WHERE id = $1
		  AND (
		    status IN ('PENDING', 'CONFIRMED')
		    OR (status = 'CANCELLED' AND payment_status = 'FAILED'
		        AND reconciliation_required AND gateway_payment_id <> '')
		  )
		  AND (refund_lock_until IS NULL OR refund_lock_until < $2)
	`, id, now, until)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *orderRepo) ReleaseRefundClaim(ctx context.Context, id uuid.UUID) error {
	_, err := r.q.ExecContext(ctx, `UPDATE orders SET refund_lock_until = NULL WHERE id = $1`, id)
	return err
}

// ExpirePending relies on the row lock held by a finalizer: a concurrent
// UPDATE waits for it and re-checks payment_status after the finalizer commits.
// Orders under a live refund lease belong to the cancellation path.
func (r *orderRepo) ExpirePending(ctx context.Context, now time.Time, limit int) ([]domain.Order, error) {
	rows, err := r.q.QueryContext(ctx, `
		UPDATE orders
		SET status = 'CANCELLED', payment_status = 'FAILED', updated_at = $1
		WHERE id IN (
			SELECT id FROM orders
			WHERE status = 'PENDING'
			  AND payment_status IN ('CREATED', 'PENDING')
			  AND expires_at IS NOT NULL AND expires_at <= $1
			  AND NOT reconciliation_required
			  AND NOT stock_deducted
			  AND (refund_lock_until IS NULL OR refund_lock_until < $1)
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		AND status = 'PENDING'
		AND payment_status <> 'PAID'
		AND (refund_lock_until IS NULL OR refund_lock_until < $1)
		RETURNING `+orderColumns, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}
