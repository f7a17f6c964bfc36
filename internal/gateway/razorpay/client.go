package razorpay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	razorpaygo "github.com/razorpay/razorpay-go"
	"github.com/velvette/checkout/internal/orders/recon"
)

const defaultCallTimeout = 10 * time.Second

// Client wraps the Razorpay SDK behind the PaymentGateway port. Every call
// is bounded: on timeout the operation fails and is reported, never silently
// retried.
type Client struct {
	sdk     *razorpaygo.Client
	timeout time.Duration
}

// NewClient constructs a gateway client from API credentials.
func NewClient(keyID, keySecret string) *Client {
	return &Client{
		sdk:     razorpaygo.NewClient(keyID, keySecret),
		timeout: defaultCallTimeout,
	}
}

// CreateOrder registers a gateway order and returns its id.
func (c *Client) CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (string, error) {
	data := map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
	}
	if len(notes) > 0 {
		data["notes"] = notes
	}

	resp, err := call(ctx, c.timeout, func() (map[string]interface{}, error) {
		return c.sdk.Order.Create(data, nil)
	})
	if err != nil {
		return "", fmt.Errorf("create gateway order: %w", err)
	}

	id, ok := resp["id"].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("gateway order response missing id")
	}
	return id, nil
}

// FetchPayment retrieves the authoritative payment entity.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (recon.PaymentEntity, error) {
	resp, err := call(ctx, c.timeout, func() (map[string]interface{}, error) {
		return c.sdk.Payment.Fetch(paymentID, nil, nil)
	})
	if err != nil {
		return recon.PaymentEntity{}, fmt.Errorf("fetch payment %s: %w", paymentID, err)
	}

	// The SDK hands back loosely typed maps; round-trip through JSON to get
	// the declared entity shape.
	raw, err := json.Marshal(resp)
	if err != nil {
		return recon.PaymentEntity{}, fmt.Errorf("encode payment response: %w", err)
	}
	var entity recon.PaymentEntity
	if err := json.Unmarshal(raw, &entity); err != nil {
		return recon.PaymentEntity{}, fmt.Errorf("decode payment entity: %w", err)
	}
	return entity, nil
}

// IssueRefund requests a refund of amount paise against a payment.
func (c *Client) IssueRefund(ctx context.Context, paymentID string, amount int64, notes map[string]string) error {
	data := map[string]interface{}{}
	if len(notes) > 0 {
		data["notes"] = notes
	}

	_, err := call(ctx, c.timeout, func() (map[string]interface{}, error) {
		return c.sdk.Payment.Refund(paymentID, int(amount), data, nil)
	})
	if err != nil {
		return fmt.Errorf("refund payment %s: %w", paymentID, err)
	}
	return nil
}

// call runs an SDK operation with a deadline. The SDK itself is not
// context-aware, so the goroutine is left to finish on its own after a
// timeout; the buffered channel keeps it from leaking a send.
func call(ctx context.Context, timeout time.Duration, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		resp map[string]interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := fn()
		done <- result{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.resp, res.err
	}
}
