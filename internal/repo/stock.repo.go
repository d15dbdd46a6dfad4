package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"storefront-engine/internal/domain"

	"github.com/google/uuid"
)

// StockLedger is the only writer of variant stock. Deduct and Restore run
// inside the caller's transaction so a failure on any line discards the
// changes made for earlier lines.
type StockLedger interface {
	Deduct(ctx context.Context, lines []domain.OrderLine) error
	Restore(ctx context.Context, lines []domain.OrderLine) error
	Get(ctx context.Context, productID uuid.UUID, size, color string) (domain.Variant, error)
	Put(ctx context.Context, v domain.Variant) error
}

type stockRepo struct {
	q Querier
}

func NewStockLedger(q Querier) StockLedger {
	return &stockRepo{q: q}
}

// ValidateTrackedLines rejects lines whose variant cannot be identified.
func ValidateTrackedLines(lines []domain.OrderLine) error {
	for _, l := range lines {
		if l.Size == "" || l.Color == "" {
			return &domain.LineError{Line: l, Reason: "size and color are required for stock tracking"}
		}
		if l.Quantity <= 0 {
			return &domain.LineError{Line: l, Reason: "quantity must be positive"}
		}
	}
	return nil
}

func (r *stockRepo) Deduct(ctx context.Context, lines []domain.OrderLine) error {
	if err := ValidateTrackedLines(lines); err != nil {
		return err
	}
	for _, l := range lines {
		// conditional decrement: never read-then-write
		res, err := r.q.ExecContext(ctx, `
			UPDATE product_variants
			SET stock = stock - $1, updated_at = now()
			WHERE product_id = $2 AND size = $3 AND color = $4 AND stock >= $1
		`, l.Quantity, l.ProductID, l.Size, l.Color)
		if err != nil {
			return fmt.Errorf("deduct stock: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.InsufficientStock(l)
		}
	}
	return nil
}

func (r *stockRepo) Restore(ctx context.Context, lines []domain.OrderLine) error {
	if err := ValidateTrackedLines(lines); err != nil {
		return err
	}
	for _, l := range lines {
		res, err := r.q.ExecContext(ctx, `
			UPDATE product_variants
			SET stock = stock + $1, updated_at = now()
			WHERE product_id = $2 AND size = $3 AND color = $4
		`, l.Quantity, l.ProductID, l.Size, l.Color)
		if err != nil {
			return fmt.Errorf("restore stock: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.VariantNotFound(l)
		}
	}
	return nil
}

func (r *stockRepo) Get(ctx context.Context, productID uuid.UUID, size, color string) (domain.Variant, error) {
	v := domain.Variant{ProductID: productID, Size: size, Color: color}
	err := r.q.QueryRowContext(ctx, `SELECT stock FROM product_variants WHERE product_id = $1 AND size = $2 AND color = $3`,
		productID, size, color).Scan(&v.Stock)
	if errors.Is(err, sql.ErrNoRows) {
		return v, domain.VariantNotFound(domain.OrderLine{ProductID: productID, Size: size, Color: color})
	}
	return v, err
}

func (r *stockRepo) Put(ctx context.Context, v domain.Variant) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO product_variants (product_id, size, color, stock, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (product_id, size, color) DO UPDATE SET stock = EXCLUDED.stock, updated_at = now()
	`, v.ProductID, v.Size, v.Color, v.Stock)
	return err
}
