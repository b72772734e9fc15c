package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
)

const productColumns = `id, sku, name, description, price, stock_quantity, is_active, created_at, updated_at`

type catalog struct {
	q   querier
	now func() time.Time
}

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	p := &domain.Product{}
	err := row.Scan(
		&p.ID,
		&p.SKU,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.StockQuantity,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (c *catalog) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	p, err := scanProduct(c.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product %d: %w", id, err)
	}
	return p, nil
}

func (c *catalog) ListProducts(ctx context.Context) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products ORDER BY id`

	rows, err := c.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (c *catalog) CreateProduct(ctx context.Context, p *domain.Product) error {
	now := c.now()
	query := `INSERT INTO products (sku, name, description, price, stock_quantity, is_active, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id`

	err := c.q.QueryRowContext(ctx, query,
		p.SKU,
		p.Name,
		p.Description,
		p.Price,
		p.StockQuantity,
		p.IsActive,
		now,
	).Scan(&p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateSKU
		}
		return fmt.Errorf("insert product: %w", err)
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// ledger keeps stock in the products table. A reservation is one
// conditional UPDATE, so the row lock taken by the database is the
// per-product serialization point.
type ledger struct {
	q   querier
	now func() time.Time
}

func (l *ledger) TryReserve(ctx context.Context, productID int64, quantity int) error {
	if quantity < 1 {
		return domain.ErrInvalidQuantity
	}
	query := `UPDATE products SET stock_quantity = stock_quantity - $1, updated_at = $2
	          WHERE id = $3 AND is_active = TRUE AND stock_quantity >= $1`

	res, err := l.q.ExecContext(ctx, query, quantity, l.now(), productID)
	if err != nil {
		return fmt.Errorf("reserve stock for product %d: %w", productID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve stock for product %d: %w", productID, err)
	}
	if n == 1 {
		return nil
	}
	return l.classify(ctx, productID, quantity)
}

// classify explains why a conditional update matched no row.
func (l *ledger) classify(ctx context.Context, productID int64, quantity int) error {
	var (
		active bool
		stock  int
	)
	err := l.q.QueryRowContext(ctx,
		`SELECT is_active, stock_quantity FROM products WHERE id = $1`, productID,
	).Scan(&active, &stock)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrProductNotFound
	case err != nil:
		return fmt.Errorf("read stock for product %d: %w", productID, err)
	case !active:
		return domain.ErrProductUnavailable
	case stock < quantity:
		return domain.ErrInsufficientStock
	}
	// the row changed between the update and this read
	return domain.ErrInsufficientStock
}

func (l *ledger) Release(ctx context.Context, productID int64, quantity int) error {
	if quantity < 1 || quantity > domain.MaxItemQuantity {
		return domain.ErrInvalidQuantity
	}
	query := `UPDATE products SET stock_quantity = stock_quantity + $1, updated_at = $2
	          WHERE id = $3 AND stock_quantity <= $4 - $1`

	res, err := l.q.ExecContext(ctx, query, quantity, l.now(), productID, domain.MaxItemQuantity)
	if err != nil {
		return fmt.Errorf("release stock for product %d: %w", productID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release stock for product %d: %w", productID, err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = l.q.QueryRowContext(ctx, `SELECT 1 FROM products WHERE id = $1`, productID).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrProductNotFound
	case err != nil:
		return fmt.Errorf("read product %d: %w", productID, err)
	}
	// stock would leave the INTEGER range
	return domain.ErrInvalidQuantity
}

func (l *ledger) CheckAvailable(ctx context.Context, productID int64, quantity int) (bool, error) {
	var (
		active bool
		stock  int
	)
	err := l.q.QueryRowContext(ctx,
		`SELECT is_active, stock_quantity FROM products WHERE id = $1`, productID,
	).Scan(&active, &stock)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.ErrProductNotFound
	}
	if err != nil {
		return false, fmt.Errorf("read stock for product %d: %w", productID, err)
	}
	return active && stock >= quantity, nil
}
