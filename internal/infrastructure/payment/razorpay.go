package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storefront-engine/internal/domain"
)

const defaultRazorpayURL = "https://api.razorpay.com"

type RazorpayConfig struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
}

// RazorpayClient talks to a Razorpay-compatible REST API.
type RazorpayClient struct {
	cfg  RazorpayConfig
	http *http.Client
}

var _ Gateway = (*RazorpayClient)(nil)

func NewRazorpayClient(cfg RazorpayConfig) *RazorpayClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultRazorpayURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &RazorpayClient{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// statusError is returned for non-2xx responses that are not outages.
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gateway responded %d: %s", e.StatusCode, e.Body)
}

func diagnostic(body []byte) string {
	var ae apiError
	if err := json.Unmarshal(body, &ae); err == nil && ae.Error.Code != "" {
		return ae.Error.Code + ": " + ae.Error.Description
	}
	return strings.TrimSpace(string(body))
}

func (c *RazorpayClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrGatewayUnavailable, err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d: %s", domain.ErrGatewayUnavailable, resp.StatusCode, diagnostic(raw))
	}
	if resp.StatusCode >= 300 {
		return &statusError{StatusCode: resp.StatusCode, Body: diagnostic(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

func (c *RazorpayClient) CreateIntent(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (Intent, error) {
	var in Intent
	err := c.do(ctx, http.MethodPost, "/v1/orders", map[string]any{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
		"notes":    notes,
	}, &in)
	if err != nil {
		return Intent{}, fmt.Errorf("create intent: %w", err)
	}
	return in, nil
}

func (c *RazorpayClient) FetchPayment(ctx context.Context, paymentID string) (PaymentInfo, error) {
	var p PaymentInfo
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &p); err != nil {
		return PaymentInfo{}, fmt.Errorf("fetch payment %s: %w", paymentID, err)
	}
	return p, nil
}

func (c *RazorpayClient) Refund(ctx context.Context, paymentID string, amount int64) (RefundInfo, error) {
	var r RefundInfo
	err := c.do(ctx, http.MethodPost, "/v1/payments/"+url.PathEscape(paymentID)+"/refund", map[string]any{
		"amount": amount,
	}, &r)
	if se, ok := err.(*statusError); ok {
		return RefundInfo{}, &domain.RefundError{PaymentID: paymentID, Amount: amount, Diagnostic: se.Body}
	}
	if err != nil {
		return RefundInfo{}, &domain.RefundError{PaymentID: paymentID, Amount: amount, Err: err}
	}
	return r, nil
}

func (c *RazorpayClient) VerifySignature(orderID, paymentID, signature string) bool {
	return verify(c.cfg.KeySecret, []byte(orderID+"|"+paymentID), signature)
}

func (c *RazorpayClient) VerifyWebhookSignature(payload []byte, signature string) bool {
	return verify(c.cfg.WebhookSecret, payload, signature)
}
