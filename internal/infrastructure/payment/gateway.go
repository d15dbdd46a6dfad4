package payment

import "context"

// Gateway is the contract the engine consumes from the payment provider.
// Amounts are in minor currency units.
type Gateway interface {
	CreateIntent(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (Intent, error)
	FetchPayment(ctx context.Context, paymentID string) (PaymentInfo, error)
	Refund(ctx context.Context, paymentID string, amount int64) (RefundInfo, error)
	VerifySignature(orderID, paymentID, signature string) bool
	VerifyWebhookSignature(payload []byte, signature string) bool
}

type Intent struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type PaymentStatus string

const (
	StatusCreated    PaymentStatus = "created"
	StatusAuthorized PaymentStatus = "authorized"
	StatusCaptured   PaymentStatus = "captured"
	StatusRefunded   PaymentStatus = "refunded"
	StatusFailed     PaymentStatus = "failed"
)

type PaymentInfo struct {
	ID             string        `json:"id"`
	OrderID        string        `json:"order_id"`
	Amount         int64         `json:"amount"`
	AmountRefunded int64         `json:"amount_refunded"`
	Currency       string        `json:"currency"`
	Status         PaymentStatus `json:"status"`
	Captured       bool          `json:"captured"`
}

// FullyRefunded reports whether the gateway has already returned the whole
// captured amount.
func (p PaymentInfo) FullyRefunded() bool {
	return p.Status == StatusRefunded || (p.Amount > 0 && p.AmountRefunded >= p.Amount)
}

type RefundInfo struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}
