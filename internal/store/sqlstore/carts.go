package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
)

type carts struct {
	q       querier
	now     func() time.Time
	dialect Dialect
}

func (c *carts) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	return c.getCart(ctx, userID, false)
}

// GetCartForUpdate locks the cart row on PostgreSQL. SQLite runs one
// transaction at a time, so a plain read is already exclusive there.
func (c *carts) GetCartForUpdate(ctx context.Context, userID string) (*domain.Cart, error) {
	return c.getCart(ctx, userID, c.dialect == DialectPostgres)
}

func (c *carts) getCart(ctx context.Context, userID string, lock bool) (*domain.Cart, error) {
	cart := &domain.Cart{UserID: userID, Items: []domain.CartItem{}}

	query := `SELECT id, created_at, updated_at FROM carts WHERE user_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	err := c.q.QueryRowContext(ctx, query, userID).Scan(&cart.ID, &cart.CreatedAt, &cart.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cart, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}

	itemsQuery := `SELECT product_id, quantity, unit_price, added_at
	               FROM cart_items WHERE cart_id = $1 ORDER BY product_id`
	rows, err := c.q.QueryContext(ctx, itemsQuery, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.UnitPrice, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		cart.Items = append(cart.Items, item)
	}
	return cart, rows.Err()
}

// ensureCart returns the id of the user's cart, creating it on first use.
func (c *carts) ensureCart(ctx context.Context, userID string, now time.Time) (string, error) {
	query := `INSERT INTO carts (id, user_id, created_at, updated_at) VALUES ($1, $2, $3, $3)
	          ON CONFLICT (user_id) DO UPDATE SET updated_at = excluded.updated_at
	          RETURNING id`

	var id string
	if err := c.q.QueryRowContext(ctx, query, uuid.New(), userID, now).Scan(&id); err != nil {
		return "", fmt.Errorf("ensure cart: %w", err)
	}
	return id, nil
}

func (c *carts) AddItem(ctx context.Context, userID string, item domain.CartItem) error {
	if item.Quantity < 1 || item.Quantity > domain.MaxItemQuantity {
		return domain.ErrInvalidQuantity
	}
	now := c.now()
	cartID, err := c.ensureCart(ctx, userID, now)
	if err != nil {
		return err
	}

	query := `INSERT INTO cart_items (cart_id, product_id, quantity, unit_price, added_at)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = cart_items.quantity + excluded.quantity
	          WHERE cart_items.quantity <= $6 - excluded.quantity`
	res, err := c.q.ExecContext(ctx, query, cartID, item.ProductID, item.Quantity, item.UnitPrice, now, domain.MaxItemQuantity)
	if err != nil {
		return fmt.Errorf("add cart item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("add cart item: %w", err)
	}
	if n == 0 {
		// the merged line would exceed MaxItemQuantity
		return domain.ErrInvalidQuantity
	}
	return nil
}

func (c *carts) SetQuantity(ctx context.Context, userID string, productID int64, quantity int) error {
	if quantity < 1 || quantity > domain.MaxItemQuantity {
		return domain.ErrInvalidQuantity
	}
	query := `UPDATE cart_items SET quantity = $1
	          WHERE product_id = $2 AND cart_id = (SELECT id FROM carts WHERE user_id = $3)`

	res, err := c.q.ExecContext(ctx, query, quantity, productID, userID)
	if err != nil {
		return fmt.Errorf("update cart item quantity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update cart item quantity: %w", err)
	}
	if n == 0 {
		return domain.ErrCartItemNotFound
	}
	return c.touch(ctx, userID)
}

func (c *carts) RemoveItem(ctx context.Context, userID string, productID int64) error {
	query := `DELETE FROM cart_items
	          WHERE product_id = $1 AND cart_id = (SELECT id FROM carts WHERE user_id = $2)`

	if _, err := c.q.ExecContext(ctx, query, productID, userID); err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}
	return c.touch(ctx, userID)
}

func (c *carts) Clear(ctx context.Context, userID string) error {
	query := `DELETE FROM cart_items WHERE cart_id = (SELECT id FROM carts WHERE user_id = $1)`

	if _, err := c.q.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return c.touch(ctx, userID)
}

func (c *carts) touch(ctx context.Context, userID string) error {
	_, err := c.q.ExecContext(ctx, `UPDATE carts SET updated_at = $1 WHERE user_id = $2`, c.now(), userID)
	if err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	return nil
}
