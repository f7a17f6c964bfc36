package ports

import "context"

// EventBus defines the contract for publishing order lifecycle events.
// Publishing happens after commit and is best-effort: a publish failure is
// logged by the caller, never rolled back.
type EventBus interface {
	PublishOrderConfirmed(ctx context.Context, orderID string) error
	PublishOrderCancelled(ctx context.Context, orderID string, reason string) error
	PublishPaymentFailed(ctx context.Context, orderID string, reason string) error
	PublishRefundInitiated(ctx context.Context, orderID string) error
}

// SearchIndexer re-indexes orders for the shopping-assistant search
// subsystem. Enqueue must never block the request path and must never
// surface failures to it.
type SearchIndexer interface {
	Enqueue(orderID string)
}
