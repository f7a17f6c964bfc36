package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	reconciliationsTotal   metric.Int64Counter
	reconciliationDuration metric.Float64Histogram
	cancellationsTotal     metric.Int64Counter
	conflictRetriesTotal   metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.reconciliationsTotal, err = meter.Int64Counter(
		"payment_reconciliations_total",
		metric.WithDescription("Total number of payment signals reconciled"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create payment_reconciliations_total counter: %w", err)
	}

	m.reconciliationDuration, err = meter.Float64Histogram(
		"payment_reconciliation_duration_seconds",
		metric.WithDescription("Duration of reconciliation operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create payment_reconciliation_duration histogram: %w", err)
	}

	m.cancellationsTotal, err = meter.Int64Counter(
		"order_cancellations_total",
		metric.WithDescription("Total number of user cancellation attempts"),
		metric.WithUnit("{cancellation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_cancellations_total counter: %w", err)
	}

	m.conflictRetriesTotal, err = meter.Int64Counter(
		"order_tx_conflict_retries_total",
		metric.WithDescription("Transaction conflicts retried by the coordinator"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_tx_conflict_retries_total counter: %w", err)
	}

	return m, nil
}

// RecordReconciliation records one processed signal with its event kind and
// outcome (applied, noop, rejected, error).
func (m *Metrics) RecordReconciliation(ctx context.Context, eventKind, outcome string) {
	m.reconciliationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_kind", eventKind),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordReconciliationDuration(ctx context.Context, durationSeconds float64) {
	m.reconciliationDuration.Record(ctx, durationSeconds)
}

func (m *Metrics) RecordCancellation(ctx context.Context, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.cancellationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordConflictRetry(ctx context.Context) {
	m.conflictRetriesTotal.Add(ctx, 1)
}
