package inventory

import (
	"context"
	"sync"

	"github.com/fjod/storefront/internal/domain"
)

type stockCounter struct {
	mu       sync.Mutex
	quantity int
	active   bool
}

// MemoryLedger implements Ledger in memory. Each product has its own lock,
// so reservations on different products never contend.
type MemoryLedger struct {
	mu     sync.RWMutex // guards the map, not the counters
	stocks map[int64]*stockCounter
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		stocks: make(map[int64]*stockCounter),
	}
}

func (l *MemoryLedger) counter(productID int64) (*stockCounter, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	c, exists := l.stocks[productID]
	if !exists {
		return nil, domain.ErrProductNotFound
	}
	return c, nil
}

// AddProduct registers a counter for a new product. Existing counters are
// left untouched so stock is never overwritten with an absolute value.
func (l *MemoryLedger) AddProduct(productID int64, quantity int, active bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.stocks[productID]; exists {
		return false
	}
	l.stocks[productID] = &stockCounter{quantity: quantity, active: active}
	return true
}

func (l *MemoryLedger) SetActive(productID int64, active bool) error {
	c, err := l.counter(productID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.active = active
	c.mu.Unlock()
	return nil
}

// Stock returns the current quantity and active flag of a product.
func (l *MemoryLedger) Stock(productID int64) (int, bool, error) {
	c, err := l.counter(productID)
	if err != nil {
		return 0, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quantity, c.active, nil
}

func (l *MemoryLedger) TryReserve(ctx context.Context, productID int64, quantity int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if quantity < 1 {
		return domain.ErrInvalidQuantity
	}
	c, err := l.counter(productID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return domain.ErrProductUnavailable
	}
	if c.quantity < quantity {
		return domain.ErrInsufficientStock
	}
	c.quantity -= quantity
	return nil
}

func (l *MemoryLedger) Release(ctx context.Context, productID int64, quantity int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if quantity < 1 || quantity > domain.MaxItemQuantity {
		return domain.ErrInvalidQuantity
	}
	c, err := l.counter(productID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.quantity > domain.MaxItemQuantity-quantity {
		return domain.ErrInvalidQuantity
	}
	c.quantity += quantity
	return nil
}

func (l *MemoryLedger) CheckAvailable(_ context.Context, productID int64, quantity int) (bool, error) {
	stock, active, err := l.Stock(productID)
	if err != nil {
		return false, err
	}
	return active && stock >= quantity, nil
}

// Reclaim takes back up to quantity units regardless of the active flag and
// returns how many were taken. Stock never drops below zero.
func (l *MemoryLedger) Reclaim(productID int64, quantity int) int {
	c, err := l.counter(productID)
	if err != nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	taken := min(quantity, c.quantity)
	c.quantity -= taken
	return taken
}
