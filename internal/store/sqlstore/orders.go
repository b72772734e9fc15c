package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
)

const orderColumns = `id, order_number, user_id, status, payment_status, total_amount,
	shipping_address, billing_address, payment_method, notes, created_at, updated_at`

type orders struct {
	q querier
}

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.UserID,
		&o.Status,
		&o.PaymentStatus,
		&o.TotalAmount,
		&o.ShippingAddress,
		&o.BillingAddress,
		&o.PaymentMethod,
		&o.Notes,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orders) Create(ctx context.Context, order *domain.Order) error {
	query := `INSERT INTO orders (id, order_number, user_id, status, payment_status, total_amount,
	              shipping_address, billing_address, payment_method, notes, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	          ON CONFLICT (order_number) DO NOTHING`

	res, err := r.q.ExecContext(ctx, query,
		order.ID,
		order.OrderNumber,
		order.UserID,
		order.Status,
		order.PaymentStatus,
		order.TotalAmount,
		order.ShippingAddress,
		order.BillingAddress,
		order.PaymentMethod,
		order.Notes,
		order.CreatedAt,
		order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	if n == 0 {
		return domain.ErrOrderNumberCollision
	}

	itemQuery := `INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, total_price)
	              VALUES ($1, $2, $3, $4, $5, $6)`
	for _, item := range order.Items {
		_, err := r.q.ExecContext(ctx, itemQuery,
			item.ID,
			order.ID,
			item.ProductID,
			item.Quantity,
			item.UnitPrice,
			item.TotalPrice)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (r *orders) getOne(ctx context.Context, where string, arg any) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + where

	order, err := scanOrder(r.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	order.Items, err = r.Items(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orders) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.getOne(ctx, `id = $1`, id)
}

func (r *orders) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return r.getOne(ctx, `order_number = $1`, number)
}

func (r *orders) Items(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	query := `SELECT id, order_id, product_id, quantity, unit_price, total_price
	          FROM order_items WHERE order_id = $1 ORDER BY product_id`

	rows, err := r.q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.TotalPrice)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *orders) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		result = append(result, *o)
	}
	return result, rows.Err()
}

func (r *orders) List(ctx context.Context, page domain.Page) ([]domain.Order, int, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`
	result, err := r.list(ctx, query, page.Size, page.Offset())
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	return result, total, nil
}

func (r *orders) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id`
	return r.list(ctx, query, userID)
}

func (r *orders) ListByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = $1 ORDER BY created_at DESC, id`
	return r.list(ctx, query, status)
}

func (r *orders) count(ctx context.Context, query string, arg any) (int, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, query, arg).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

func (r *orders) CountByUser(ctx context.Context, userID string) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, userID)
}

func (r *orders) CountByStatus(ctx context.Context, status domain.OrderStatus) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM orders WHERE status = $1`, status)
}

func (r *orders) update(ctx context.Context, query string, args ...any) error {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orders) SetStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus, at time.Time) error {
	return r.update(ctx, `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`, status, at, id)
}

func (r *orders) SetPaymentStatus(ctx context.Context, id uuid.UUID, status domain.PaymentStatus, at time.Time) error {
	return r.update(ctx, `UPDATE orders SET payment_status = $1, updated_at = $2 WHERE id = $3`, status, at, id)
}

func (r *orders) TransitionStatus(ctx context.Context, id uuid.UUID, from []domain.OrderStatus, to domain.OrderStatus, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := []any{to, at, id}
	placeholders := make([]string, 0, len(from))
	for _, s := range from {
		args = append(args, s)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	query := `UPDATE orders SET status = $1, updated_at = $2
	          WHERE id = $3 AND status IN (` + strings.Join(placeholders, ", ") + `)`

	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition order status: %w", err)
	}
	return n == 1, nil
}
