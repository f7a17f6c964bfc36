package domain

import "time"

// OrderUpdate is the minimal safe set of field writes produced by a
// reconciliation decision. Nil pointers mean "leave unchanged".
type OrderUpdate struct {
	Status           *OrderStatus
	PaymentStatus    *PaymentStatus
	RefundStatus     *RefundStatus
	Method           *PaymentMethod
	GatewayPaymentID *string
	GatewaySignature *string
	Fee              *float64
	Tax              *float64
	PaidAt           *time.Time
	ReceiptID        *string
	Message          *string
	CancelledAt      *time.Time
	RefundedAt       *time.Time
	Transaction      *TransactionDetails // fully merged replacement
}

// IsZero reports whether the update would write nothing.
func (u OrderUpdate) IsZero() bool {
	return u.Status == nil &&
		u.PaymentStatus == nil &&
		u.RefundStatus == nil &&
		u.Method == nil &&
		u.GatewayPaymentID == nil &&
		u.GatewaySignature == nil &&
		u.Fee == nil &&
		u.Tax == nil &&
		u.PaidAt == nil &&
		u.ReceiptID == nil &&
		u.Message == nil &&
		u.CancelledAt == nil &&
		u.RefundedAt == nil &&
		u.Transaction == nil
}

// ApplyTo mutates the order with every populated field and stamps UpdatedAt.
func (u OrderUpdate) ApplyTo(o *Order, now time.Time) {
	if u.Status != nil {
		o.Status = *u.Status
	}
	if u.PaymentStatus != nil {
		o.Payment.Status = *u.PaymentStatus
	}
	if u.RefundStatus != nil {
		o.RefundStatus = *u.RefundStatus
	}
	if u.Method != nil {
		o.Payment.Method = *u.Method
	}
	if u.GatewayPaymentID != nil {
		o.Payment.GatewayPaymentID = *u.GatewayPaymentID
	}
	if u.GatewaySignature != nil {
		o.Payment.GatewaySignature = *u.GatewaySignature
	}
	if u.Fee != nil {
		o.Payment.Fee = *u.Fee
	}
	if u.Tax != nil {
		o.Payment.Tax = *u.Tax
	}
	if u.PaidAt != nil {
		o.Payment.PaidAt = u.PaidAt
	}
	if u.ReceiptID != nil {
		o.Payment.ReceiptID = *u.ReceiptID
	}
	if u.Message != nil {
		o.Message = *u.Message
	}
	if u.CancelledAt != nil {
		o.CancelledAt = u.CancelledAt
	}
	if u.RefundedAt != nil {
		o.RefundedAt = u.RefundedAt
	}
	if u.Transaction != nil {
		o.Transaction = *u.Transaction
	}
	o.UpdatedAt = now
}
