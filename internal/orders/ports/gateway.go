package ports

import (
	"context"
	"errors"

	"github.com/velvette/checkout/internal/orders/recon"
)

// PaymentGateway is the outbound contract to the payment provider. All calls
// are expected to enforce a bounded timeout; a timeout is a failure, never a
// silent retry.
type PaymentGateway interface {
	// CreateOrder registers a gateway order for the given amount (paise) and
	// returns the gateway order id handed to the client checkout.
	CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (string, error)
	// FetchPayment retrieves the payment entity for a synchronous verification.
	FetchPayment(ctx context.Context, paymentID string) (recon.PaymentEntity, error)
	// IssueRefund requests a refund of amount paise against a payment.
	IssueRefund(ctx context.Context, paymentID string, amount int64, notes map[string]string) error
}

// SignatureVerifier authenticates inbound gateway payloads before any state
// is read or written.
type SignatureVerifier interface {
	// VerifyPayment checks the signature delivered in a synchronous
	// verify-payment call body.
	VerifyPayment(gatewayOrderID, gatewayPaymentID, signature string) error
	// VerifyWebhook checks the signature header against the raw webhook body.
	VerifyWebhook(body []byte, signature string) error
}

// ErrSignatureMismatch is returned when a payload fails authentication.
var ErrSignatureMismatch = errors.New("gateway signature mismatch")
