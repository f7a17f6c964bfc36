package razorpay

import (
	"errors"
	"testing"

	"github.com/velvette/checkout/internal/orders/ports"
)

func TestVerifyPayment(t *testing.T) {
	verifier := NewVerifier("test_key_secret", "test_webhook_secret")

	// HMAC-SHA256 of "order_gw1|pay_1" under test_key_secret.
	const validSignature = "d42297f56bec5db19e8d8f5b1d6c3eeb1e8f2acd074a9b8dc16a2dd114c06d89"

	t.Run("accepts a valid signature", func(t *testing.T) {
		if err := verifier.VerifyPayment("order_gw1", "pay_1", validSignature); err != nil {
			t.Fatalf("VerifyPayment() failed: %v", err)
		}
	})

	t.Run("rejects a tampered signature", func(t *testing.T) {
		tampered := "e" + validSignature[1:]
		err := verifier.VerifyPayment("order_gw1", "pay_1", tampered)
		if !errors.Is(err, ports.ErrSignatureMismatch) {
			t.Fatalf("err = %v, want ErrSignatureMismatch", err)
		}
	})

	t.Run("rejects a signature for different identifiers", func(t *testing.T) {
		err := verifier.VerifyPayment("order_gw1", "pay_2", validSignature)
		if !errors.Is(err, ports.ErrSignatureMismatch) {
			t.Fatalf("err = %v, want ErrSignatureMismatch", err)
		}
	})

	t.Run("rejects an empty signature", func(t *testing.T) {
		err := verifier.VerifyPayment("order_gw1", "pay_1", "")
		if !errors.Is(err, ports.ErrSignatureMismatch) {
			t.Fatalf("err = %v, want ErrSignatureMismatch", err)
		}
	})

	t.Run("signature is bound to the key secret", func(t *testing.T) {
		other := NewVerifier("another_secret", "test_webhook_secret")
		err := other.VerifyPayment("order_gw1", "pay_1", validSignature)
		if !errors.Is(err, ports.ErrSignatureMismatch) {
			t.Fatalf("err = %v, want ErrSignatureMismatch", err)
		}
	})
}

func TestVerifyWebhook(t *testing.T) {
	verifier := NewVerifier("test_key_secret", "test_webhook_secret")

	body := []byte(`{"event":"payment.captured"}`)
	// HMAC-SHA256 of the body under test_webhook_secret.
	const validSignature = "149f0921b8dab66ba5504a4de4e376f5e30470d680899c30ffda46ef7391a360"

	t.Run("accepts a valid signature", func(t *testing.T) {
		if err := verifier.VerifyWebhook(body, validSignature); err != nil {
			t.Fatalf("VerifyWebhook() failed: %v", err)
		}
	})

	t.Run("rejects when the body was altered", func(t *testing.T) {
		altered := []byte(`{"event":"payment.captured" }`)
		err := verifier.VerifyWebhook(altered, validSignature)
		if !errors.Is(err, ports.ErrSignatureMismatch) {
			t.Fatalf("err = %v, want ErrSignatureMismatch", err)
		}
	})

	t.Run("rejects a payment signature used on the webhook channel", func(t *testing.T) {
		err := verifier.VerifyWebhook(body, "d42297f56bec5db19e8d8f5b1d6c3eeb1e8f2acd074a9b8dc16a2dd114c06d89")
		if !errors.Is(err, ports.ErrSignatureMismatch) {
			t.Fatalf("err = %v, want ErrSignatureMismatch", err)
		}
	})
}
