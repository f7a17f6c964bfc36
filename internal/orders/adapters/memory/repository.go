package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/velvette/checkout/internal/orders/domain"
	"github.com/velvette/checkout/internal/orders/ports"
)

// Repository provides an in-memory store with the same transactional
// contract as the Postgres adapter. Useful for local development and the
// reconciliation scenario tests.
type Repository struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	stock  map[string]int      // productID or productID&shadeID
	carts  map[string][]domain.LineItem
	now    func() time.Time
}

// NewRepository constructs a new in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		orders: make(map[string]domain.Order),
		stock:  make(map[string]int),
		carts:  make(map[string][]domain.LineItem),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source for deterministic tests.
func (r *Repository) SetClock(now func() time.Time) {
	r.now = now
}

// Create stores a new order instance.
func (r *Repository) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = order
	return nil
}

// GetByID fetches a single order by identifier.
func (r *Repository) GetByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	out := order
	return &out, nil
}

// GetByGatewayOrderID fetches the order holding the given gateway order id.
func (r *Repository) GetByGatewayOrderID(_ context.Context, gatewayOrderID string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.Payment.GatewayOrderID == gatewayOrderID {
			out := order
			return &out, nil
		}
	}
	return nil, ports.ErrNotFound
}

// GetByGatewayPaymentID fetches the order holding the given gateway payment id.
func (r *Repository) GetByGatewayPaymentID(_ context.Context, gatewayPaymentID string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.Payment.GatewayPaymentID == gatewayPaymentID {
			out := order
			return &out, nil
		}
	}
	return nil, ports.ErrNotFound
}

// List returns orders respecting the provided filter. Pagination is 1-based.
func (r *Repository) List(_ context.Context, filter ports.ListFilter) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []domain.Order
	for _, order := range r.orders {
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		result = append(result, order)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	start := (page - 1) * pageSize
	if start >= len(result) {
		return []domain.Order{}, nil
	}
	end := start + pageSize
	if end > len(result) {
		end = len(result)
	}

	slice := make([]domain.Order, end-start)
	copy(slice, result[start:end])
	return slice, nil
}

// Reconcile implements ports.OrderUnitOfWork under a single mutex, matching
// the atomicity of the Postgres transaction.
func (r *Repository) Reconcile(_ context.Context, orderID string, fn ports.ReconcileFunc) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return nil, ports.ErrNotFound
	}

	mutation, err := fn(order)
	if err != nil {
		return nil, err
	}
	if mutation.IsZero() {
		out := order
		return &out, nil
	}

	mutation.Update.ApplyTo(&order, r.now())

	if mutation.DecrementStock {
		for _, item := range order.LineItems {
			key := stockKey(item.ProductID, item.ShadeID)
			remaining := r.stock[key] - item.Quantity
			if remaining < 0 {
				remaining = 0
			}
			r.stock[key] = remaining
		}
	}
	if mutation.ClearCart {
		delete(r.carts, order.UserID)
	}

	r.orders[orderID] = order
	out := order
	return &out, nil
}

// SetStock seeds stock for a product or shade.
func (r *Repository) SetStock(productID, shadeID string, qty int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stock[stockKey(productID, shadeID)] = qty
}

// Stock reads the current stock for a product or shade.
func (r *Repository) Stock(productID, shadeID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stock[stockKey(productID, shadeID)]
}

// SeedCart populates a user's cart.
func (r *Repository) SeedCart(userID string, items []domain.LineItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[userID] = items
}

// CartItems reads a user's cart contents.
func (r *Repository) CartItems(userID string) []domain.LineItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.carts[userID]
}

func stockKey(productID, shadeID string) string {
	if shadeID == "" {
		return productID
	}
	return productID + "#" + shadeID
}
