package service

import (
	"context"
	"fmt"
	"log/slog"
	"storefront-engine/internal/domain"
	"storefront-engine/internal/infrastructure/payment"
	"storefront-engine/internal/repo"
	"strings"
	"time"

	"github.com/google/uuid"
)

type CheckoutRequest struct {
	UserID    uuid.UUID `json:"userId"`
	AddressID uuid.UUID `json:"addressId"`
	Currency  string    `json:"currency"`
	// Lines carry prices from the upstream pricing step. When empty the
	// user's cart is used.
	Lines         []domain.OrderLine `json:"lines"`
	TaxTotal      int64              `json:"taxTotal"`
	DiscountTotal int64              `json:"discountTotal"`
}

type OrderService struct {
	store   repo.Store
	gateway payment.Gateway
	log     *slog.Logger
	window  time.Duration
	now     func() time.Time
}

func NewOrderService(store repo.Store, gateway payment.Gateway, log *slog.Logger, paymentWindow time.Duration) *OrderService {
	return &OrderService{
		store:   store,
		gateway: gateway,
		log:     log,
		window:  paymentWindow,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Checkout creates a PENDING order awaiting payment together with its gateway
// intent. The order expires after the payment window unless finalized.
func (s *OrderService) Checkout(ctx context.Context, req CheckoutRequest) (*domain.Order, error) {
	if req.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidLine)
	}
	if req.TaxTotal < 0 || req.DiscountTotal < 0 {
		return nil, fmt.Errorf("%w: tax and discount must not be negative", domain.ErrInvalidLine)
	}

	lines := req.Lines
	if len(lines) == 0 {
		items, err := s.store.Carts().Items(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("load cart: %w", err)
		}
		for _, it := range items {
			lines = append(lines, domain.OrderLine{
				ProductID: it.ProductID,
				Size:      it.Size,
				Color:     it.Color,
				Quantity:  it.Quantity,
				UnitPrice: it.UnitPrice,
			})
		}
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "INR"
	}

	now := s.now()
	expires := now.Add(s.window)
	order := &domain.Order{
		ID:            uuid.New(),
		UserID:        req.UserID,
		AddressID:     req.AddressID,
		Lines:         lines,
		Status:        domain.OrderPending,
		Currency:      currency,
		TaxTotal:      req.TaxTotal,
		DiscountTotal: req.DiscountTotal,
		Payment:       domain.Payment{Status: domain.PaymentCreated},
		ExpiresAt:     &expires,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	order.Recalculate()
	if err := order.Validate(); err != nil {
		return nil, err
	}
	if order.GrandTotal == 0 {
		return nil, fmt.Errorf("%w: nothing to pay for", domain.ErrInvalidState)
	}

	intent, err := s.gateway.CreateIntent(ctx, order.GrandTotal, order.Currency, order.ID.String(), map[string]string{
		"user_id": order.UserID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	order.Payment.GatewayOrderID = intent.ID

	err = s.store.WithTx(ctx, func(ctx context.Context, tx repo.Repos) error {
		return tx.Orders().Create(ctx, order)
	})
	if err != nil {
		return nil, fmt.Errorf("save order: %w", err)
	}

	s.log.InfoContext(ctx, "checkout created order",
		"order_id", order.ID,
		"gateway_order_id", intent.ID,
		"grand_total", order.GrandTotal,
		"expires_at", expires,
	)
	return order, nil
}

func (s *OrderService) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.store.Orders().FindByID(ctx, id)
}

func (s *OrderService) AddToCart(ctx context.Context, userID uuid.UUID, item domain.CartItem) error {
	l := domain.OrderLine{ProductID: item.ProductID, Size: item.Size, Color: item.Color, Quantity: item.Quantity, UnitPrice: item.UnitPrice}
	if err := l.Validate(); err != nil {
		return err
	}
	return s.store.Carts().Add(ctx, userID, item)
}

func (s *OrderService) Cart(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error) {
	return s.store.Carts().Items(ctx, userID)
}

// Reconciliations lists payments waiting for an operator decision.
func (s *OrderService) Reconciliations(ctx context.Context, limit int) ([]domain.Reconciliation, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.Reconciliations().ListOpen(ctx, limit)
}
