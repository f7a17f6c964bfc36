package domain

import (
	"errors"
	"strings"
	"time"
)

// OrderStatus captures the fulfilment lifecycle of an order.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusConfirmed  OrderStatus = "confirmed"
	StatusDelivered  OrderStatus = "delivered"
	StatusFailed     OrderStatus = "failed"
	StatusCancelled  OrderStatus = "cancelled"
	StatusReturned   OrderStatus = "returned"
)

// PaymentStatus captures the state of the gateway payment attached to an order.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentCaptured PaymentStatus = "captured"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentFailed   PaymentStatus = "failed"
)

// RefundStatus tracks an in-flight refund. The zero value means no refund
// has ever been requested.
type RefundStatus string

const (
	RefundNone      RefundStatus = ""
	RefundRequested RefundStatus = "requested"
	RefundApproved  RefundStatus = "approved"
	RefundRefunded  RefundStatus = "refunded"
	RefundFailed    RefundStatus = "failed"
)

// PaymentMethod is the gateway-reported instrument used to pay.
type PaymentMethod string

const (
	MethodUPI        PaymentMethod = "upi"
	MethodCard       PaymentMethod = "card"
	MethodWallet     PaymentMethod = "wallet"
	MethodNetbanking PaymentMethod = "netbanking"
)

// LineItem is a single purchased product. Immutable after checkout.
type LineItem struct {
	ProductID string `json:"product_id"`
	ShadeID   string `json:"shade_id,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"` // smallest currency unit (paise)
}

// Payment embeds the gateway payment state inside the order aggregate.
// Amount is in paise; Fee and Tax are stored in rupees, zero meaning unknown.
type Payment struct {
	Status           PaymentStatus `json:"status"`
	Method           PaymentMethod `json:"method,omitempty"`
	GatewayOrderID   string        `json:"gateway_order_id,omitempty"`
	GatewayPaymentID string        `json:"gateway_payment_id,omitempty"`
	GatewaySignature string        `json:"gateway_signature,omitempty"`
	Amount           int64         `json:"amount"`
	Fee              float64       `json:"fee,omitempty"`
	Tax              float64       `json:"tax,omitempty"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
	ReceiptID        string        `json:"receipt_id,omitempty"`
}

// Settled reports whether money has (or had) been collected for this payment.
func (p PaymentStatus) Settled() bool {
	switch p {
	case PaymentCaptured, PaymentPaid, PaymentRefunded:
		return true
	default:
		return false
	}
}

// Order is the root aggregate mutated only through reconciliation decisions.
type Order struct {
	ID           string             `json:"id"`
	UserID       string             `json:"user_id"`
	LineItems    []LineItem         `json:"line_items"`
	Status       OrderStatus        `json:"status"`
	Payment      Payment            `json:"payment"`
	RefundStatus RefundStatus       `json:"refund_status,omitempty"`
	Transaction  TransactionDetails `json:"transaction,omitempty"`
	Message      string             `json:"message,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	CancelledAt  *time.Time         `json:"cancelled_at,omitempty"`
	RefundedAt   *time.Time         `json:"refunded_at,omitempty"`
}

// Validate ensures the order adheres to business constraints.
func (o Order) Validate() error {
	if strings.TrimSpace(o.UserID) == "" {
		return errors.New("user_id is required")
	}
	if len(o.LineItems) == 0 {
		return errors.New("at least one line item is required")
	}
	for _, item := range o.LineItems {
		if strings.TrimSpace(item.ProductID) == "" {
			return errors.New("line item product_id is required")
		}
		if item.Quantity <= 0 {
			return errors.New("line item quantity must be positive")
		}
		if item.UnitPrice <= 0 {
			return errors.New("line item unit_price must be positive")
		}
	}
	return nil
}

// Amount is the order total in paise.
func (o Order) Amount() int64 {
	var total int64
	for _, item := range o.LineItems {
		total += int64(item.Quantity) * item.UnitPrice
	}
	return total
}

// IsTerminal indicates whether the order status admits no further transitions.
func (o Order) IsTerminal() bool {
	switch o.Status {
	case StatusFailed, StatusCancelled, StatusReturned:
		return true
	default:
		return false
	}
}

// Cancellable reports whether a user may still cancel the order.
func (o Order) Cancellable() bool {
	switch o.Status {
	case StatusDelivered, StatusReturned, StatusCancelled:
		return false
	default:
		return true
	}
}
