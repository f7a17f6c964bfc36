package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/velvette/checkout/internal/orders/domain"
	"github.com/velvette/checkout/internal/orders/ports"
	"github.com/velvette/checkout/internal/orders/recon"
)

// Outcome reports how a reconciliation request ended from the caller's
// perspective. No-ops are successes: duplicate and stale deliveries must be
// acknowledged, not retried.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeNoOp    Outcome = "noop"
	OutcomeIgnored Outcome = "ignored"
)

// Coordinator is the sole mutator of orders. It re-runs the reconciliation
// decision against freshly locked state inside the unit of work, attaches
// first-settlement side effects, and fans out best-effort work after commit.
type Coordinator struct {
	repo    ports.OrderRepository
	uow     ports.OrderUnitOfWork
	engine  *recon.Engine
	gateway ports.PaymentGateway
	events  ports.EventBus
	indexer ports.SearchIndexer
	logger  *slog.Logger
}

func NewCoordinator(
	repo ports.OrderRepository,
	uow ports.OrderUnitOfWork,
	engine *recon.Engine,
	gateway ports.PaymentGateway,
	events ports.EventBus,
	indexer ports.SearchIndexer,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		repo:    repo,
		uow:     uow,
		engine:  engine,
		gateway: gateway,
		events:  events,
		indexer: indexer,
		logger:  logger,
	}
}

// ProcessEvent applies one payment signal to one order. Safe to call any
// number of times with the same event: the decision is recomputed against
// locked state, so duplicates degrade to no-ops.
func (c *Coordinator) ProcessEvent(ctx context.Context, orderID string, kind recon.EventKind, sig recon.PaymentSignal) (*domain.Order, Outcome, error) {
	outcome := OutcomeNoOp
	var noopReason string

	order, err := c.uow.Reconcile(ctx, orderID, func(current domain.Order) (ports.Mutation, error) {
		outcome = OutcomeNoOp
		decision := c.engine.Reconcile(current, kind, sig)
		switch decision.Kind {
		case recon.DecisionReject:
			return ports.Mutation{}, fmt.Errorf("%w: %s", ports.ErrPaymentMismatch, decision.Reason)
		case recon.DecisionNoOp:
			noopReason = decision.Reason
			return ports.Mutation{}, nil
		}

		mutation := ports.Mutation{Update: decision.Update}
		if firstSettlement(current, decision.Update) {
			mutation.DecrementStock = true
			mutation.ClearCart = true
		}
		outcome = OutcomeApplied
		return mutation, nil
	})
	if err != nil {
		return nil, "", err
	}

	if outcome == OutcomeNoOp {
		c.logger.InfoContext(ctx, "payment signal acknowledged without changes",
			"order_id", orderID,
			"event_kind", string(kind),
			"reason", noopReason,
		)
		return order, outcome, nil
	}

	c.indexer.Enqueue(order.ID)
	c.publishLifecycle(ctx, *order, kind)
	return order, outcome, nil
}

// Cancel performs a user-initiated cancellation. When the order is paid, the
// gateway refund is issued before anything is committed; a refund failure
// aborts the cancellation and leaves the order untouched.
func (c *Coordinator) Cancel(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	order, err := c.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	plan := c.engine.PlanCancellation(*order, reason)
	if plan.Kind == recon.DecisionReject {
		return nil, fmt.Errorf("%w: %s", ports.ErrNotCancellable, plan.Reason)
	}

	if plan.RefundRequired {
		notes := map[string]string{"order_id": order.ID, "reason": "customer cancellation"}
		if err := c.gateway.IssueRefund(ctx, order.Payment.GatewayPaymentID, plan.RefundAmount, notes); err != nil {
			return nil, fmt.Errorf("issue refund for order %s: %w", order.ID, err)
		}
	}

	updated, err := c.uow.Reconcile(ctx, orderID, func(current domain.Order) (ports.Mutation, error) {
		fresh := c.engine.PlanCancellation(current, reason)
		if fresh.Kind == recon.DecisionReject {
			if current.Status == domain.StatusCancelled {
				// A concurrent duplicate already cancelled it.
				return ports.Mutation{}, nil
			}
			return ports.Mutation{}, fmt.Errorf("%w: %s", ports.ErrNotCancellable, fresh.Reason)
		}
		return ports.Mutation{Update: fresh.Update}, nil
	})
	if err != nil {
		if plan.RefundRequired {
			// The refund went out but the cancellation did not commit. The
			// refund webhook will still reconcile the refund sub-state.
			c.logger.ErrorContext(ctx, "refund issued but cancellation failed to commit",
				"order_id", orderID, "error", err)
		}
		return nil, err
	}

	c.indexer.Enqueue(updated.ID)
	c.publishCancellation(ctx, *updated, reason, plan.RefundRequired)
	return updated, nil
}

// firstSettlement reports whether this update transitions the payment into a
// settled state for the first time. This is the idempotency guard for stock
// decrement and cart clearing: the check is against order state, not against
// any webhook delivery id.
func firstSettlement(current domain.Order, update domain.OrderUpdate) bool {
	if current.Payment.Status.Settled() {
		return false
	}
	if update.PaymentStatus == nil {
		return false
	}
	switch *update.PaymentStatus {
	case domain.PaymentCaptured, domain.PaymentPaid:
		return true
	default:
		return false
	}
}

// publishLifecycle emits the lifecycle event matching the applied kind.
// Fire-and-forget: detached from the request context, failures only logged.
func (c *Coordinator) publishLifecycle(ctx context.Context, order domain.Order, kind recon.EventKind) {
	bg := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(bg, 5*time.Second)
		defer cancel()

		var err error
		switch kind {
		case recon.EventOrderPaid:
			err = c.events.PublishOrderConfirmed(ctx, order.ID)
		case recon.EventPaymentFailed:
			err = c.events.PublishPaymentFailed(ctx, order.ID, order.Message)
		default:
			return
		}
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to publish lifecycle event",
				"order_id", order.ID, "event_kind", string(kind), "error", err)
		}
	}()
}

func (c *Coordinator) publishCancellation(ctx context.Context, order domain.Order, reason string, refunded bool) {
	bg := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(bg, 5*time.Second)
		defer cancel()

		if err := c.events.PublishOrderCancelled(ctx, order.ID, reason); err != nil {
			c.logger.ErrorContext(ctx, "failed to publish cancellation event",
				"order_id", order.ID, "error", err)
		}
		if refunded {
			if err := c.events.PublishRefundInitiated(ctx, order.ID); err != nil {
				c.logger.ErrorContext(ctx, "failed to publish refund event",
					"order_id", order.ID, "error", err)
			}
		}
	}()
}

// IsRetryable reports whether the caller should ask the sender to redeliver.
func IsRetryable(err error) bool {
	return errors.Is(err, ports.ErrConflict)
}
