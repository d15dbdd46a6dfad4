package repo

import (
	"context"
	"storefront-engine/internal/domain"

	"github.com/google/uuid"
)

type CartRepo interface {
	Items(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error)
	Add(ctx context.Context, userID uuid.UUID, item domain.CartItem) error
	Clear(ctx context.Context, userID uuid.UUID) error
}

type cartRepo struct {
	q Querier
}

func NewCartRepo(q Querier) CartRepo {
	return &cartRepo{q: q}
}

func (r *cartRepo) Items(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT product_id, size, color, quantity, unit_price
		FROM cart_items WHERE user_id = $1 ORDER BY added_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.CartItem, 0)
	for rows.Next() {
		var it domain.CartItem
		if err := rows.Scan(&it.ProductID, &it.Size, &it.Color, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *cartRepo) Add(ctx context.Context, userID uuid.UUID, item domain.CartItem) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO cart_items (user_id, product_id, size, color, quantity, unit_price, added_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (user_id, product_id, size, color)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, unit_price = EXCLUDED.unit_price
	`, userID, item.ProductID, item.Size, item.Color, item.Quantity, item.UnitPrice)
	return err
}

func (r *cartRepo) Clear(ctx context.Context, userID uuid.UUID) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	return err
}
