package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/velvette/checkout/internal/database"
	"github.com/velvette/checkout/internal/orders/domain"
	"github.com/velvette/checkout/internal/orders/ports"
)

// maxTxAttempts bounds retries on serialization failures and deadlocks.
const maxTxAttempts = 3

// ConflictRecorder counts transaction conflicts that were retried.
type ConflictRecorder interface {
	RecordConflictRetry(ctx context.Context)
}

type Repository struct {
	pool      *pgxpool.Pool
	metrics   *database.Metrics
	conflicts ConflictRecorder
}

// NewRepository constructs the Postgres order repository. metrics and
// conflicts may be nil.
func NewRepository(pool *pgxpool.Pool, metrics *database.Metrics, conflicts ConflictRecorder) *Repository {
	return &Repository{pool: pool, metrics: metrics, conflicts: conflicts}
}

const orderColumns = `
	id, user_id, line_items, status,
	payment_status, method, gateway_order_id, gateway_payment_id, gateway_signature,
	amount, fee, tax, paid_at, receipt_id,
	refund_status, transaction, message,
	created_at, updated_at, cancelled_at, refunded_at
`

func (r *Repository) Create(ctx context.Context, order domain.Order) error {
	defer r.timeQuery(ctx, "insert_order", time.Now())

	lineItems, err := json.Marshal(order.LineItems)
	if err != nil {
		return fmt.Errorf("marshal line items: %w", err)
	}
	transaction, err := json.Marshal(order.Transaction)
	if err != nil {
		return fmt.Errorf("marshal transaction details: %w", err)
	}

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	_, err = r.pool.Exec(ctx, query,
		order.ID,
		order.UserID,
		lineItems,
		order.Status,
		order.Payment.Status,
		nullIfEmpty(string(order.Payment.Method)),
		nullIfEmpty(order.Payment.GatewayOrderID),
		nullIfEmpty(order.Payment.GatewayPaymentID),
		nullIfEmpty(order.Payment.GatewaySignature),
		order.Payment.Amount,
		order.Payment.Fee,
		order.Payment.Tax,
		order.Payment.PaidAt,
		nullIfEmpty(order.Payment.ReceiptID),
		nullIfEmpty(string(order.RefundStatus)),
		transaction,
		nullIfEmpty(order.Message),
		order.CreatedAt,
		order.UpdatedAt,
		order.CancelledAt,
		order.RefundedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	defer r.timeQuery(ctx, "select_order", time.Now())
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return r.selectOne(ctx, r.pool, query, id)
}

func (r *Repository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Order, error) {
	defer r.timeQuery(ctx, "select_order_by_gateway_order", time.Now())
	query := `SELECT ` + orderColumns + ` FROM orders WHERE gateway_order_id = $1`
	return r.selectOne(ctx, r.pool, query, gatewayOrderID)
}

func (r *Repository) GetByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*domain.Order, error) {
	defer r.timeQuery(ctx, "select_order_by_gateway_payment", time.Now())
	query := `SELECT ` + orderColumns + ` FROM orders WHERE gateway_payment_id = $1`
	return r.selectOne(ctx, r.pool, query, gatewayPaymentID)
}

func (r *Repository) List(ctx context.Context, filter ports.ListFilter) ([]domain.Order, error) {
	defer r.timeQuery(ctx, "list_orders", time.Now())

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::text IS NULL OR user_id = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	var statusFilter *string
	if filter.Status != nil {
		s := string(*filter.Status)
		statusFilter = &s
	}
	var userFilter *string
	if filter.UserID != "" {
		u := filter.UserID
		userFilter = &u
	}

	rows, err := r.pool.Query(ctx, query, statusFilter, userFilter, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

// Reconcile implements ports.OrderUnitOfWork. The order row is locked with
// FOR UPDATE, the decision re-runs against that fresh state, and the update
// plus any stock/cart side effects commit in one transaction. Serialization
// failures and deadlocks retry up to maxTxAttempts before ErrConflict.
func (r *Repository) Reconcile(ctx context.Context, orderID string, fn ports.ReconcileFunc) (*domain.Order, error) {
	var lastErr error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		order, err := r.reconcileOnce(ctx, orderID, fn)
		if err == nil {
			return order, nil
		}
		if !isRetryableTxError(err) {
			return nil, err
		}
		if r.conflicts != nil {
			r.conflicts.RecordConflictRetry(ctx)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ports.ErrConflict, lastErr)
}

func (r *Repository) reconcileOnce(ctx context.Context, orderID string, fn ports.ReconcileFunc) (*domain.Order, error) {
	defer r.timeQuery(ctx, "reconcile_order", time.Now())

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	order, err := r.selectOne(ctx, tx, query, orderID)
	if err != nil {
		return nil, err
	}

	mutation, err := fn(*order)
	if err != nil {
		return nil, err
	}
	if mutation.IsZero() {
		return order, nil
	}

	updated := *order
	mutation.Update.ApplyTo(&updated, time.Now().UTC())

	if err := r.updateOrder(ctx, tx, updated); err != nil {
		return nil, err
	}

	if mutation.DecrementStock {
		for _, item := range updated.LineItems {
			if err := decrementStock(ctx, tx, item); err != nil {
				return nil, err
			}
		}
	}
	if mutation.ClearCart {
		if err := clearCart(ctx, tx, updated.UserID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reconciliation: %w", err)
	}
	return &updated, nil
}

func (r *Repository) updateOrder(ctx context.Context, tx pgx.Tx, order domain.Order) error {
	transaction, err := json.Marshal(order.Transaction)
	if err != nil {
		return fmt.Errorf("marshal transaction details: %w", err)
	}

	query := `
		UPDATE orders SET
			status = $2,
			payment_status = $3,
			method = $4,
			gateway_payment_id = $5,
			gateway_signature = $6,
			fee = $7,
			tax = $8,
			paid_at = $9,
			receipt_id = $10,
			refund_status = $11,
			transaction = $12,
			message = $13,
			updated_at = $14,
			cancelled_at = $15,
			refunded_at = $16
		WHERE id = $1
	`

	result, err := tx.Exec(ctx, query,
		order.ID,
		order.Status,
		order.Payment.Status,
		nullIfEmpty(string(order.Payment.Method)),
		nullIfEmpty(order.Payment.GatewayPaymentID),
		nullIfEmpty(order.Payment.GatewaySignature),
		order.Payment.Fee,
		order.Payment.Tax,
		order.Payment.PaidAt,
		nullIfEmpty(order.Payment.ReceiptID),
		nullIfEmpty(string(order.RefundStatus)),
		transaction,
		nullIfEmpty(order.Message),
		order.UpdatedAt,
		order.CancelledAt,
		order.RefundedAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// decrementStock floors at zero: a paid order must still reconcile even if
// stock accounting has drifted.
func decrementStock(ctx context.Context, tx pgx.Tx, item domain.LineItem) error {
	if item.ShadeID != "" {
		query := `
			UPDATE product_shades
			SET stock = GREATEST(stock - $3, 0)
			WHERE product_id = $1 AND shade_id = $2
		`
		if _, err := tx.Exec(ctx, query, item.ProductID, item.ShadeID, item.Quantity); err != nil {
			return fmt.Errorf("decrement shade stock: %w", err)
		}
	}
	query := `
		UPDATE products
		SET stock = GREATEST(stock - $2, 0)
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query, item.ProductID, item.Quantity); err != nil {
		return fmt.Errorf("decrement product stock: %w", err)
	}
	return nil
}

func clearCart(ctx context.Context, tx pgx.Tx, userID string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}
	query := `
		UPDATE carts
		SET subtotal = 0, discount = 0, total = 0, updated_at = now()
		WHERE user_id = $1
	`
	if _, err := tx.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("zero cart charges: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repository) selectOne(ctx context.Context, q queryer, query string, arg any) (*domain.Order, error) {
	order, err := scanOrder(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, err
	}
	return order, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		order        domain.Order
		lineItems    []byte
		transaction  []byte
		method       *string
		gwOrderID    *string
		gwPaymentID  *string
		gwSignature  *string
		receiptID    *string
		refundStatus *string
		message      *string
	)

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&lineItems,
		&order.Status,
		&order.Payment.Status,
		&method,
		&gwOrderID,
		&gwPaymentID,
		&gwSignature,
		&order.Payment.Amount,
		&order.Payment.Fee,
		&order.Payment.Tax,
		&order.Payment.PaidAt,
		&receiptID,
		&refundStatus,
		&transaction,
		&message,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.CancelledAt,
		&order.RefundedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(lineItems, &order.LineItems); err != nil {
		return nil, fmt.Errorf("unmarshal line items: %w", err)
	}
	if len(transaction) > 0 {
		if err := json.Unmarshal(transaction, &order.Transaction); err != nil {
			return nil, fmt.Errorf("unmarshal transaction details: %w", err)
		}
	}

	order.Payment.Method = domain.PaymentMethod(deref(method))
	order.Payment.GatewayOrderID = deref(gwOrderID)
	order.Payment.GatewayPaymentID = deref(gwPaymentID)
	order.Payment.GatewaySignature = deref(gwSignature)
	order.Payment.ReceiptID = deref(receiptID)
	order.RefundStatus = domain.RefundStatus(deref(refundStatus))
	order.Message = deref(message)
	return &order, nil
}

func (r *Repository) timeQuery(ctx context.Context, operation string, start time.Time) {
	if r.metrics != nil {
		r.metrics.RecordQuery(ctx, operation, time.Since(start).Seconds())
	}
}

// isRetryableTxError matches Postgres serialization failures and deadlocks.
func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
