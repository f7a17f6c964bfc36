package razorpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/velvette/checkout/internal/orders/ports"
)

// Verifier authenticates inbound gateway payloads. It is a hard boundary:
// a mismatch rejects the request before any state is read or written.
type Verifier struct {
	keySecret     []byte
	webhookSecret []byte
}

// NewVerifier builds a Verifier from the API key secret (synchronous verify
// calls) and the webhook secret (asynchronous deliveries).
func NewVerifier(keySecret, webhookSecret string) *Verifier {
	return &Verifier{
		keySecret:     []byte(keySecret),
		webhookSecret: []byte(webhookSecret),
	}
}

// VerifyPayment checks the signature a client submits after checkout. The
// gateway signs "<order_id>|<payment_id>" with the API key secret.
func (v *Verifier) VerifyPayment(gatewayOrderID, gatewayPaymentID, signature string) error {
	expected := sign(v.keySecret, []byte(gatewayOrderID+"|"+gatewayPaymentID))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("%w: payment %s", ports.ErrSignatureMismatch, gatewayPaymentID)
	}
	return nil
}

// VerifyWebhook checks the X-Razorpay-Signature header against the raw body.
func (v *Verifier) VerifyWebhook(body []byte, signature string) error {
	expected := sign(v.webhookSecret, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("%w: webhook body", ports.ErrSignatureMismatch)
	}
	return nil
}

func sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
