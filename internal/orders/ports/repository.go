package ports

import (
	"context"
	"errors"

	"github.com/velvette/checkout/internal/orders/domain"
)

// OrderRepository exposes persistence operations required by the application
// layer. Webhook deliveries only carry gateway identifiers, so orders are
// addressable by those as well.
type OrderRepository interface {
	Create(ctx context.Context, order domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Order, error)
	GetByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*domain.Order, error)
	List(ctx context.Context, filter ListFilter) ([]domain.Order, error)
}

// ReconcileFunc inspects a freshly loaded order and returns the mutation to
// apply, or an error to abort the transaction. Returning a zero Mutation
// commits nothing (acknowledged no-op).
type ReconcileFunc func(order domain.Order) (Mutation, error)

// Mutation is what a reconciliation decision asks the storage layer to do
// atomically: the field update plus, on first settlement, its side effects.
type Mutation struct {
	Update domain.OrderUpdate

	// DecrementStock reduces product (and shade) stock by each line item's
	// quantity within the same transaction.
	DecrementStock bool
	// ClearCart removes the owning user's cart items and zeroes cart charges
	// within the same transaction.
	ClearCart bool
}

// IsZero reports whether the mutation writes nothing.
func (m Mutation) IsZero() bool {
	return m.Update.IsZero() && !m.DecrementStock && !m.ClearCart
}

// OrderUnitOfWork serializes mutation of a single order. Implementations
// re-fetch the order under a lock, invoke fn against that fresh state, and
// apply the returned mutation in one atomic scope. Transaction conflicts are
// retried a bounded number of times before ErrConflict is surfaced.
type OrderUnitOfWork interface {
	Reconcile(ctx context.Context, orderID string, fn ReconcileFunc) (*domain.Order, error)
}

// ListFilter narrows list queries by status and pagination.
type ListFilter struct {
	Status   *domain.OrderStatus
	UserID   string
	Page     int
	PageSize int
}

var (
	// ErrNotFound is returned when the requested order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrConflict is returned when concurrent mutation retries are exhausted;
	// callers may safely retry the whole operation.
	ErrConflict = errors.New("order transaction conflict")
	// ErrPaymentMismatch flags a signal whose gateway payment id contradicts
	// the one recorded on the order.
	ErrPaymentMismatch = errors.New("gateway payment id mismatch")
	// ErrNotCancellable is returned when the order status forbids cancellation.
	ErrNotCancellable = errors.New("order cannot be cancelled")
)
