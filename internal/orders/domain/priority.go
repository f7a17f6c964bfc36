package domain

// Status priority tables. An incoming value may only overwrite the current
// one when its rank is strictly greater. All terminal order statuses share
// rank 0, so a terminal-to-terminal move can never pass the comparison and
// must be handled (rejected) by the caller explicitly.

var orderStatusRank = map[OrderStatus]int{
	StatusFailed:     0,
	StatusCancelled:  0,
	StatusReturned:   0,
	StatusPending:    1,
	StatusProcessing: 2,
	StatusConfirmed:  3,
	StatusDelivered:  4,
}

var paymentStatusRank = map[PaymentStatus]int{
	PaymentUnpaid:   0,
	PaymentFailed:   0,
	PaymentCaptured: 1,
	PaymentPaid:     2,
	PaymentRefunded: 3,
}

var refundStatusRank = map[RefundStatus]int{
	RefundFailed:    0,
	RefundRequested: 1,
	RefundApproved:  2,
	RefundRefunded:  3,
}

// CanAdvanceOrderStatus reports whether incoming strictly outranks current.
func CanAdvanceOrderStatus(current, incoming OrderStatus) bool {
	return orderStatusRank[incoming] > orderStatusRank[current]
}

// CanAdvancePaymentStatus reports whether incoming strictly outranks current.
func CanAdvancePaymentStatus(current, incoming PaymentStatus) bool {
	return paymentStatusRank[incoming] > paymentStatusRank[current]
}

// CanAdvanceRefundStatus reports whether incoming strictly outranks current.
// An absent refund status ranks below every member, so any first signal
// advances.
func CanAdvanceRefundStatus(current, incoming RefundStatus) bool {
	return refundRank(incoming) > refundRank(current)
}

func refundRank(s RefundStatus) int {
	if s == RefundNone {
		return -1
	}
	return refundStatusRank[s]
}
