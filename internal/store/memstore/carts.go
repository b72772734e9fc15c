package memstore

import (
	"context"
	"sort"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
)

type carts struct {
	s *Store
	j *journal
}

// GetCartForUpdate holds the user's cart lock until the unit of work ends.
// Outside a unit of work it is a plain read.
func (c *carts) GetCartForUpdate(ctx context.Context, userID string) (*domain.Cart, error) {
	if c.j != nil {
		c.j.lock(c.s.cartLock(userID))
	}
	return c.GetCart(ctx, userID)
}

func (c *carts) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	c.s.cartsMu.Lock()
	defer c.s.cartsMu.Unlock()

	cart, exists := c.s.carts[userID]
	if !exists {
		return &domain.Cart{UserID: userID, Items: []domain.CartItem{}}, nil
	}
	return copyCart(cart), nil
}

// mutate runs fn on the user's cart under the lock and journals the
// previous state. create controls whether a missing cart is created.
func (c *carts) mutate(userID string, create bool, fn func(cart *domain.Cart) error) error {
	if c.j != nil {
		c.j.lock(c.s.cartLock(userID))
	} else {
		mu := c.s.cartLock(userID)
		mu.Lock()
		defer mu.Unlock()
	}

	c.s.cartsMu.Lock()
	defer c.s.cartsMu.Unlock()

	cart, exists := c.s.carts[userID]
	if !exists {
		if !create {
			return fn(&domain.Cart{UserID: userID})
		}
		now := c.s.now()
		cart = &domain.Cart{ID: uuid.NewString(), UserID: userID, CreatedAt: now, UpdatedAt: now}
	}

	before := copyCart(cart)
	if err := fn(cart); err != nil {
		return err
	}
	cart.UpdatedAt = c.s.now()
	c.s.carts[userID] = cart

	if c.j != nil {
		c.j.record(func() {
			c.s.cartsMu.Lock()
			defer c.s.cartsMu.Unlock()
			if exists {
				c.s.carts[userID] = before
			} else {
				delete(c.s.carts, userID)
			}
		})
	}
	return nil
}

func (c *carts) AddItem(_ context.Context, userID string, item domain.CartItem) error {
	if item.Quantity < 1 || item.Quantity > domain.MaxItemQuantity {
		return domain.ErrInvalidQuantity
	}
	return c.mutate(userID, true, func(cart *domain.Cart) error {
		for i := range cart.Items {
			if cart.Items[i].ProductID == item.ProductID {
				if cart.Items[i].Quantity > domain.MaxItemQuantity-item.Quantity {
					return domain.ErrInvalidQuantity
				}
				cart.Items[i].Quantity += item.Quantity
				return nil
			}
		}
		item.AddedAt = c.s.now()
		cart.Items = append(cart.Items, item)
		sort.Slice(cart.Items, func(i, j int) bool { return cart.Items[i].ProductID < cart.Items[j].ProductID })
		return nil
	})
}

func (c *carts) SetQuantity(_ context.Context, userID string, productID int64, quantity int) error {
	if quantity < 1 || quantity > domain.MaxItemQuantity {
		return domain.ErrInvalidQuantity
	}
	return c.mutate(userID, false, func(cart *domain.Cart) error {
		for i := range cart.Items {
			if cart.Items[i].ProductID == productID {
				cart.Items[i].Quantity = quantity
				return nil
			}
		}
		return domain.ErrCartItemNotFound
	})
}

func (c *carts) RemoveItem(_ context.Context, userID string, productID int64) error {
	return c.mutate(userID, false, func(cart *domain.Cart) error {
		for i := range cart.Items {
			if cart.Items[i].ProductID == productID {
				cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
				return nil
			}
		}
		return nil
	})
}

func (c *carts) Clear(_ context.Context, userID string) error {
	return c.mutate(userID, false, func(cart *domain.Cart) error {
		cart.Items = []domain.CartItem{}
		return nil
	})
}
