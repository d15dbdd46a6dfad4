package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidLine        = errors.New("invalid order line")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrVariantNotFound    = errors.New("variant not found")
	ErrInvalidState       = errors.New("invalid order state")
	ErrPaymentMissing     = errors.New("payment missing")
	ErrRefundFailed       = errors.New("refund failed")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrSignatureInvalid   = errors.New("signature invalid")
	ErrInvalidWebhook     = errors.New("invalid webhook payload")
)

// LineError describes a line whose variant cannot be tracked.
type LineError struct {
	Line   OrderLine
	Reason string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s: product %s size %q color %q: %s", ErrInvalidLine, e.Line.ProductID, e.Line.Size, e.Line.Color, e.Reason)
}

func (e *LineError) Unwrap() error { return ErrInvalidLine }

// StockError names the variant a ledger operation failed on. Kind is
// ErrInsufficientStock or ErrVariantNotFound.
type StockError struct {
	Kind      error
	ProductID uuid.UUID
	Size      string
	Color     string
	Quantity  int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%s: product %s size %q color %q (quantity %d)", e.Kind, e.ProductID, e.Size, e.Color, e.Quantity)
}

func (e *StockError) Unwrap() error { return e.Kind }

func InsufficientStock(l OrderLine) error {
	return &StockError{Kind: ErrInsufficientStock, ProductID: l.ProductID, Size: l.Size, Color: l.Color, Quantity: l.Quantity}
}

func VariantNotFound(l OrderLine) error {
	return &StockError{Kind: ErrVariantNotFound, ProductID: l.ProductID, Size: l.Size, Color: l.Color, Quantity: l.Quantity}
}

// RefundError carries the gateway's diagnostic payload for a rejected refund.
type RefundError struct {
	PaymentID  string
	Amount     int64
	Diagnostic string
	Err        error
}

func (e *RefundError) Error() string {
	msg := fmt.Sprintf("%s: payment %s amount %d", ErrRefundFailed, e.PaymentID, e.Amount)
	if e.Diagnostic != "" {
		msg += ": " + e.Diagnostic
	}
	return msg
}

func (e *RefundError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrRefundFailed, e.Err}
	}
	return []error{ErrRefundFailed}
}

// IsRetryable reports whether re-invoking the same idempotent operation later
// may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRefundFailed) || errors.Is(err, ErrGatewayUnavailable)
}
