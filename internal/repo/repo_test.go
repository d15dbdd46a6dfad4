package repo

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"storefront-engine/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestDeductUsesConditionalDecrement(t *testing.T) {
	db, mock := newMock(t)
	ledger := NewStockLedger(db)
	a := domain.OrderLine{ProductID: uuid.New(), Size: "M", Color: "red", Quantity: 2}
	b := domain.OrderLine{ProductID: uuid.New(), Size: "L", Color: "red", Quantity: 5}

	mock.ExpectExec(q("SET stock = stock - $1")).
		WithArgs(2, a.ProductID, "M", "red").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("AND stock >= $1")).
		WithArgs(5, b.ProductID, "L", "red").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := ledger.Deduct(context.Background(), []domain.OrderLine{a, b})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	var se *domain.StockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, b.ProductID, se.ProductID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeductRejectsLineWithoutVariantBeforeQuerying(t *testing.T) {
	db, mock := newMock(t)
	err := NewStockLedger(db).Deduct(context.Background(), []domain.OrderLine{{ProductID: uuid.New(), Quantity: 1}})
	assert.ErrorIs(t, err, domain.ErrInvalidLine)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreMissingVariant(t *testing.T) {
	db, mock := newMock(t)
	l := domain.OrderLine{ProductID: uuid.New(), Size: "S", Color: "white", Quantity: 1}

	mock.ExpectExec(q("SET stock = stock + $1")).
		WithArgs(1, l.ProductID, "S", "white").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewStockLedger(db).Restore(context.Background(), []domain.OrderLine{l})
	assert.ErrorIs(t, err, domain.ErrVariantNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRefund(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOrderRepo(db)
	id := uuid.New()
	now := time.Now()

	mock.ExpectExec(q("SET refund_lock_until = $3")).
		WithArgs(id, now, now.Add(time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("SET refund_lock_until = $3")).
		WithArgs(id, now, now.Add(time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.ClaimRefund(context.Background(), id, now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ClaimRefund(context.Background(), id, now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDNotFound(t *testing.T) {
	db, mock := newMock(t)
	id := uuid.New()

	mock.ExpectQuery(q("FROM orders WHERE id = $1")).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := NewOrderRepo(db).FindByID(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockByGatewayOrderIDLoadsLinesAndRefunds(t *testing.T) {
	db, mock := newMock(t)
	id, user, product := uuid.New(), uuid.New(), uuid.New()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	cols := []string{"id", "user_id", "address_id", "status", "currency",
		"sub_total", "tax_total", "discount_total", "grand_total",
		"gateway_order_id", "gateway_payment_id", "gateway_signature", "payment_status", "captured",
		"stock_deducted", "stock_deducted_at", "stock_restored", "stock_restored_at",
		"reconciliation_required", "refund_lock_until", "expires_at", "created_at", "updated_at"}
	mock.ExpectQuery(q("WHERE gateway_order_id = $1 FOR UPDATE")).
		WithArgs("order_x").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			id.String(), user.String(), uuid.Nil.String(), "CONFIRMED", "INR",
			int64(2000), int64(0), int64(0), int64(2000),
			"order_x", "pay_x", "sig", "PAID", true,
			true, created, false, nil,
			false, nil, nil, created, created,
		))
	mock.ExpectQuery(q("FROM order_lines WHERE order_id = $1 ORDER BY line_no")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "size", "color", "quantity", "unit_price", "line_total"}).
			AddRow(product.String(), "M", "red", 2, int64(1000), int64(2000)))
	mock.ExpectQuery(q("FROM order_refunds WHERE order_id = $1 ORDER BY seq")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"amount", "reason", "gateway_refund_id", "created_at"}))

	o, err := NewOrderRepo(db).LockByGatewayOrderID(context.Background(), "order_x")
	require.NoError(t, err)

	assert.Equal(t, id, o.ID)
	assert.Equal(t, domain.OrderConfirmed, o.Status)
	assert.Equal(t, domain.PaymentPaid, o.Payment.Status)
	assert.True(t, o.Finalized())
	require.NotNil(t, o.StockDeductedAt)
	assert.Nil(t, o.ExpiresAt)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, product, o.Lines[0].ProductID)
	assert.Empty(t, o.Payment.Refunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveMissingOrder(t *testing.T) {
	db, mock := newMock(t)
	o := &domain.Order{
		ID:      uuid.New(),
		Lines:   []domain.OrderLine{{ProductID: uuid.New(), Size: "M", Color: "red", Quantity: 1, UnitPrice: 10}},
		Status:  domain.OrderPending,
		Payment: domain.Payment{Status: domain.PaymentCreated},
	}

	mock.ExpectExec(q("UPDATE orders")).WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewOrderRepo(db).Save(context.Background(), o)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconciliationCreateReturnsID(t *testing.T) {
	db, mock := newMock(t)
	rec := &domain.Reconciliation{OrderID: uuid.New(), GatewayOrderID: "order_1", GatewayPaymentID: "pay_1", Reason: "insufficient stock", CreatedAt: time.Now()}

	mock.ExpectQuery(q("ON CONFLICT (order_id, gateway_payment_id)")).
		WithArgs(rec.OrderID, "order_1", "pay_1", "insufficient stock", rec.CreatedAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	require.NoError(t, NewReconciliationRepo(db).Create(context.Background(), rec))
	assert.Equal(t, int64(42), rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconciliationResolve(t *testing.T) {
	db, mock := newMock(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectExec(q("SET resolved_at = $2")).
		WithArgs(id, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewReconciliationRepo(db).Resolve(context.Background(), id, now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpirePendingSkipsLeasedOrders(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(`(?s)AND \(refund_lock_until IS NULL OR refund_lock_until < \$1\).*FOR UPDATE SKIP LOCKED.*AND \(refund_lock_until IS NULL OR refund_lock_until < \$1\)`).
		WithArgs(now, 10).
		WillReturnRows(sqlmock.NewRows(nil))

	orders, err := NewOrderRepo(db).ExpirePending(context.Background(), now, 10)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	store := NewPostgresStore(db)
	l := domain.OrderLine{ProductID: uuid.New(), Size: "M", Color: "red", Quantity: 1}

	mock.ExpectBegin()
	mock.ExpectExec(q("SET stock = stock - $1")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := store.WithTx(context.Background(), func(ctx context.Context, tx Repos) error {
		if err := tx.Stock().Deduct(ctx, []domain.OrderLine{l}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxCommits(t *testing.T) {
	db, mock := newMock(t)
	store := NewPostgresStore(db)
	user := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM cart_items WHERE user_id = $1")).WithArgs(user).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx Repos) error {
		return tx.Carts().Clear(ctx, user)
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxEnqueue(t *testing.T) {
	db, mock := newMock(t)
	id := uuid.New()

	mock.ExpectExec(q("INSERT INTO outbox")).
		WithArgs(id.String(), "order.finalized", []byte(`{"orderId":"x"}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := NewOutboxRepo(db).Enqueue(context.Background(), id, "order.finalized", map[string]string{"orderId": "x"})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
