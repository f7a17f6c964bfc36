package recon

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/velvette/checkout/internal/orders/domain"
)

// EventKind identifies a reconciliation entry point. Webhook event names map
// onto these; the synchronous verify-payment call derives one from the
// fetched payment entity.
type EventKind string

const (
	EventPaymentCaptured EventKind = "payment.captured"
	EventOrderPaid       EventKind = "order.paid"
	EventPaymentFailed   EventKind = "payment.failed"
	EventRefundCreated   EventKind = "refund.created"
	EventRefundProcessed EventKind = "refund.processed"
	EventRefundFailed    EventKind = "refund.failed"
)

// KindFromWebhookEvent maps a gateway webhook event name to an EventKind.
func KindFromWebhookEvent(event string) (EventKind, bool) {
	switch EventKind(event) {
	case EventPaymentCaptured, EventOrderPaid, EventPaymentFailed,
		EventRefundCreated, EventRefundProcessed, EventRefundFailed:
		return EventKind(event), true
	default:
		return "", false
	}
}

// DecisionKind discriminates the engine's result.
type DecisionKind int

const (
	// DecisionApply carries a non-empty update to persist.
	DecisionApply DecisionKind = iota
	// DecisionNoOp acknowledges the event without any state change.
	DecisionNoOp
	// DecisionReject flags the event as inconsistent; nothing is written and
	// the caller surfaces an error.
	DecisionReject
)

// Decision is the outcome of reconciling one signal against one order.
type Decision struct {
	Kind   DecisionKind
	Update domain.OrderUpdate
	Reason string
}

// CancelDecision is the outcome of planning a user-initiated cancellation.
type CancelDecision struct {
	Kind           DecisionKind
	Update         domain.OrderUpdate
	Reason         string
	RefundRequired bool
	RefundAmount   int64 // paise
}

// Engine computes minimal safe updates. It never touches storage.
type Engine struct {
	now          func() time.Time
	newReceiptID func() string
}

// Option customizes an Engine, mainly for deterministic tests.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithReceiptIDs overrides receipt id generation.
func WithReceiptIDs(fn func() string) Option {
	return func(e *Engine) { e.newReceiptID = fn }
}

// NewEngine constructs an Engine with real time and UUID receipts.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		now:          func() time.Time { return time.Now().UTC() },
		newReceiptID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile decides what, if anything, the signal may change on the order.
// The decision is pure: callers re-run it against a freshly locked order
// before applying, which is what makes duplicate deliveries safe.
func (e *Engine) Reconcile(order domain.Order, kind EventKind, sig PaymentSignal) Decision {
	if order.Payment.GatewayPaymentID != "" && sig.GatewayPaymentID != "" &&
		order.Payment.GatewayPaymentID != sig.GatewayPaymentID {
		return Decision{
			Kind: DecisionReject,
			Reason: fmt.Sprintf("gateway payment id %s does not match recorded %s",
				sig.GatewayPaymentID, order.Payment.GatewayPaymentID),
		}
	}

	var upd domain.OrderUpdate
	switch kind {
	case EventPaymentCaptured:
		upd = e.settle(order, sig, domain.PaymentCaptured, domain.StatusProcessing)
	case EventOrderPaid:
		upd = e.settle(order, sig, domain.PaymentPaid, domain.StatusConfirmed)
	case EventPaymentFailed:
		return e.fail(order, sig)
	case EventRefundCreated:
		upd = refundUpdate(order, domain.RefundApproved)
	case EventRefundProcessed:
		upd = e.refundProcessed(order, sig)
	case EventRefundFailed:
		upd = refundUpdate(order, domain.RefundFailed)
	default:
		return Decision{Kind: DecisionNoOp, Reason: fmt.Sprintf("unhandled event kind %q", kind)}
	}

	attachIdentity(order, sig, &upd)
	mergeTransaction(order, sig, &upd)

	if upd.IsZero() {
		return Decision{Kind: DecisionNoOp, Reason: "nothing to update"}
	}
	return Decision{Kind: DecisionApply, Update: upd}
}

// settle handles the two money-in events. Status and payment status each
// advance independently through their priority tables; a terminal order
// status is never overwritten.
func (e *Engine) settle(order domain.Order, sig PaymentSignal, payTarget domain.PaymentStatus, statusTarget domain.OrderStatus) domain.OrderUpdate {
	var upd domain.OrderUpdate

	if domain.CanAdvancePaymentStatus(order.Payment.Status, payTarget) {
		target := payTarget
		upd.PaymentStatus = &target

		if order.Payment.PaidAt == nil {
			paidAt := sig.CreatedAt
			if paidAt.IsZero() {
				paidAt = e.now()
			}
			upd.PaidAt = &paidAt
		}
		if order.Payment.ReceiptID == "" {
			receipt := e.newReceiptID()
			upd.ReceiptID = &receipt
		}
	}

	if !order.IsTerminal() && domain.CanAdvanceOrderStatus(order.Status, statusTarget) {
		target := statusTarget
		upd.Status = &target
	}

	return upd
}

// fail records a gateway failure. It bypasses the priority tables so a
// failure is always recordable while payment is unresolved, but it never
// clobbers a user-driven cancellation or a completed return.
func (e *Engine) fail(order domain.Order, sig PaymentSignal) Decision {
	switch order.Status {
	case domain.StatusCancelled, domain.StatusReturned:
		return Decision{
			Kind:   DecisionNoOp,
			Reason: fmt.Sprintf("stale failure ignored, order already %s", order.Status),
		}
	}

	if order.Status == domain.StatusFailed && order.Payment.Status == domain.PaymentFailed {
		return Decision{Kind: DecisionNoOp, Reason: "failure already recorded"}
	}

	payStatus := domain.PaymentFailed
	status := domain.StatusFailed
	upd := domain.OrderUpdate{
		PaymentStatus: &payStatus,
		Status:        &status,
	}
	if sig.ErrorDescription != "" {
		msg := sig.ErrorDescription
		upd.Message = &msg
	}

	attachIdentity(order, sig, &upd)
	mergeTransaction(order, sig, &upd)
	return Decision{Kind: DecisionApply, Update: upd}
}

func (e *Engine) refundProcessed(order domain.Order, sig PaymentSignal) domain.OrderUpdate {
	upd := refundUpdate(order, domain.RefundRefunded)
	if upd.RefundStatus != nil && order.RefundedAt == nil {
		refundedAt := sig.CreatedAt
		if refundedAt.IsZero() {
			refundedAt = e.now()
		}
		upd.RefundedAt = &refundedAt
	}
	if domain.CanAdvancePaymentStatus(order.Payment.Status, domain.PaymentRefunded) {
		payStatus := domain.PaymentRefunded
		upd.PaymentStatus = &payStatus
	}
	return upd
}

func refundUpdate(order domain.Order, target domain.RefundStatus) domain.OrderUpdate {
	var upd domain.OrderUpdate
	if domain.CanAdvanceRefundStatus(order.RefundStatus, target) {
		status := target
		upd.RefundStatus = &status
	}
	return upd
}

// PlanCancellation validates and plans a user-initiated cancellation. When
// the order is already paid the caller must issue the gateway refund before
// committing the returned update; a failed refund aborts the whole flow.
func (e *Engine) PlanCancellation(order domain.Order, reason string) CancelDecision {
	if !order.Cancellable() {
		return CancelDecision{
			Kind:   DecisionReject,
			Reason: fmt.Sprintf("order is %s and cannot be cancelled", order.Status),
		}
	}

	status := domain.StatusCancelled
	cancelledAt := e.now()
	upd := domain.OrderUpdate{
		Status:      &status,
		CancelledAt: &cancelledAt,
	}
	if reason != "" {
		msg := reason
		upd.Message = &msg
	}

	decision := CancelDecision{Kind: DecisionApply, Update: upd}

	if order.Payment.Status == domain.PaymentPaid && order.Payment.GatewayPaymentID != "" {
		refundStatus := domain.RefundRequested
		decision.Update.RefundStatus = &refundStatus
		decision.RefundRequired = true
		decision.RefundAmount = order.Payment.Amount
		if decision.RefundAmount == 0 {
			decision.RefundAmount = order.Amount()
		}
	}

	return decision
}

// attachIdentity records stable payment identity fields the first time they
// are seen. Fee and tax only fill empty slots, never downgrade known values.
func attachIdentity(order domain.Order, sig PaymentSignal, upd *domain.OrderUpdate) {
	if order.Payment.GatewayPaymentID == "" && sig.GatewayPaymentID != "" {
		id := sig.GatewayPaymentID
		upd.GatewayPaymentID = &id
	}
	if order.Payment.GatewaySignature == "" && sig.Signature != "" {
		signature := sig.Signature
		upd.GatewaySignature = &signature
	}
	if order.Payment.Method == "" && sig.Method != "" {
		method := sig.Method
		upd.Method = &method
	}
	if order.Payment.Fee == 0 && sig.Fee > 0 {
		fee := sig.Fee
		upd.Fee = &fee
	}
	if order.Payment.Tax == 0 && sig.Tax > 0 {
		tax := sig.Tax
		upd.Tax = &tax
	}
}

func mergeTransaction(order domain.Order, sig PaymentSignal, upd *domain.OrderUpdate) {
	if merged, changed := order.Transaction.Merge(sig.Transaction); changed {
		upd.Transaction = &merged
	}
}
