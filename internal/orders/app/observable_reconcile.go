package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/velvette/checkout/internal/orders/domain"
	"github.com/velvette/checkout/internal/orders/metrics"
	"github.com/velvette/checkout/internal/orders/recon"
	"github.com/velvette/checkout/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// ObservableReconcileHandler decorates a ReconcileHandler with logging,
// tracing, and metrics.
type ObservableReconcileHandler struct {
	handler ReconcileHandler
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewObservableReconcileHandler(handler ReconcileHandler, logger *slog.Logger, metrics *metrics.Metrics) *ObservableReconcileHandler {
	return &ObservableReconcileHandler{
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
}

func (o *ObservableReconcileHandler) ProcessEvent(ctx context.Context, orderID string, kind recon.EventKind, sig recon.PaymentSignal) (*domain.Order, Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "Coordinator.ProcessEvent")
	defer span.End()

	start := time.Now()
	outcomeLabel := "error"
	defer func() {
		o.metrics.RecordReconciliationDuration(ctx, time.Since(start).Seconds())
		o.metrics.RecordReconciliation(ctx, string(kind), outcomeLabel)
	}()

	o.logger.InfoContext(ctx, "reconciling payment signal",
		"order_id", orderID,
		"event_kind", string(kind),
		"gateway_payment_id", sig.GatewayPaymentID,
	)

	order, outcome, err := o.handler.ProcessEvent(ctx, orderID, kind, sig)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		o.logger.ErrorContext(ctx, "reconciliation failed",
			"order_id", orderID,
			"event_kind", string(kind),
			"error", err,
		)
		return nil, "", err
	}

	outcomeLabel = string(outcome)
	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", order.ID),
		attribute.String("order.status", string(order.Status)),
		attribute.String("order.payment_status", string(order.Payment.Status)),
		attribute.String("reconcile.outcome", string(outcome)),
	)

	o.logger.InfoContext(ctx, "payment signal reconciled",
		"order_id", order.ID,
		"event_kind", string(kind),
		"outcome", string(outcome),
		"status", string(order.Status),
		"payment_status", string(order.Payment.Status),
	)

	telemetry.SetSpanSuccess(span)
	return order, outcome, nil
}

func (o *ObservableReconcileHandler) Cancel(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "Coordinator.Cancel")
	defer span.End()

	var success bool
	defer func() {
		o.metrics.RecordCancellation(ctx, success)
	}()

	o.logger.InfoContext(ctx, "cancelling order", "order_id", orderID, "reason", reason)

	order, err := o.handler.Cancel(ctx, orderID, reason)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		o.logger.ErrorContext(ctx, "cancellation failed", "order_id", orderID, "error", err)
		return nil, err
	}

	success = true
	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", order.ID),
		attribute.String("order.refund_status", string(order.RefundStatus)),
	)
	telemetry.SetSpanSuccess(span)

	o.logger.InfoContext(ctx, "order cancelled",
		"order_id", order.ID,
		"refund_status", string(order.RefundStatus),
	)

	return order, nil
}
