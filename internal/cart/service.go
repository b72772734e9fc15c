package cart

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/inventory"
	"github.com/fjod/storefront/internal/store"
	"golang.org/x/sync/singleflight"
)

const cacheStripes = 64

// cacheStripe orders cache fills against invalidations for the users hashed
// to it. gen moves on every invalidation, so a fill that read the cart before
// a write is dropped instead of caching the older cart.
type cacheStripe struct {
	mu  sync.Mutex
	gen uint64
}

// Service owns cart line items. Stock checks made here are advisory; the
// checkout engine reserves stock authoritatively.
type Service struct {
	repo    store.CartRepository
	catalog store.Catalog
	ledger  inventory.Ledger
	cache   cache.CartCache
	log     *slog.Logger
	sfg     singleflight.Group // Prevents cache stampede
	stripes [cacheStripes]cacheStripe
}

func NewService(s store.Store, c cache.CartCache, log *slog.Logger) *Service {
	if c == nil {
		c = cache.NopCache{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:    s.Carts(),
		catalog: s.Catalog(),
		ledger:  s.Inventory(),
		cache:   c,
		log:     log,
	}
}

func (s *Service) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WarnContext(ctx, "cart cache get failed", "user_id", userID, "error", err)
		}

		st := s.stripe(userID)
		st.mu.Lock()
		gen := st.gen
		st.mu.Unlock()

		cart, err = s.repo.GetCart(ctx, userID)
		if err != nil {
			return nil, err
		}

		st.mu.Lock()
		defer st.mu.Unlock()
		if st.gen != gen {
			return cart, nil
		}
		setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if errSet := s.cache.Set(setCtx, userID, cart); errSet != nil {
			s.log.WarnContext(ctx, "cart cache set failed", "user_id", userID, "error", errSet)
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.Cart), nil
}

func (s *Service) Summarize(ctx context.Context, userID string) (domain.CartSummary, error) {
	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return domain.CartSummary{}, err
	}
	return cart.Summary(), nil
}

// AddItem adds quantity of a product, merging with an existing line. The
// unit price is taken from the catalog only when the line is created.
func (s *Service) AddItem(ctx context.Context, userID string, productID int64, quantity int) error {
	if quantity < 1 || quantity > domain.MaxItemQuantity {
		return domain.ErrInvalidQuantity
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if !product.IsAvailable() {
		return domain.ErrProductUnavailable
	}

	current, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		return err
	}
	requested := quantity
	if line, ok := current.Item(productID); ok {
		if line.Quantity > domain.MaxItemQuantity-quantity {
			return domain.ErrInvalidQuantity
		}
		requested += line.Quantity
	}
	if err := s.checkStock(ctx, productID, requested); err != nil {
		return err
	}

	item := domain.CartItem{
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: product.Price,
	}
	if err := s.repo.AddItem(ctx, userID, item); err != nil {
		return fmt.Errorf("add item to cart: %w", err)
	}

	s.Invalidate(ctx, userID)
	return nil
}

// UpdateItem replaces the quantity of a line; zero or less removes it.
func (s *Service) UpdateItem(ctx context.Context, userID string, productID int64, quantity int) error {
	if quantity <= 0 {
		return s.RemoveItem(ctx, userID, productID)
	}
	if quantity > domain.MaxItemQuantity {
		return domain.ErrInvalidQuantity
	}

	current, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		return err
	}
	if _, ok := current.Item(productID); !ok {
		return domain.ErrCartItemNotFound
	}
	if err := s.checkStock(ctx, productID, quantity); err != nil {
		return err
	}

	if err := s.repo.SetQuantity(ctx, userID, productID, quantity); err != nil {
		return err
	}

	s.Invalidate(ctx, userID)
	return nil
}

func (s *Service) RemoveItem(ctx context.Context, userID string, productID int64) error {
	if err := s.repo.RemoveItem(ctx, userID, productID); err != nil {
		return fmt.Errorf("remove item from cart: %w", err)
	}

	s.Invalidate(ctx, userID)
	return nil
}

func (s *Service) Clear(ctx context.Context, userID string) error {
	if err := s.repo.Clear(ctx, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}

	s.Invalidate(ctx, userID)
	return nil
}

// ValidateStock reports whether every line currently fits in the observed
// stock of its product.
func (s *Service) ValidateStock(ctx context.Context, userID string) (bool, error) {
	current, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, item := range current.Items {
		product, err := s.catalog.GetProduct(ctx, item.ProductID)
		if errors.Is(err, domain.ErrProductNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if product.StockQuantity < item.Quantity {
			return false, nil
		}
	}
	return true, nil
}

// Invalidate drops the cached copy of a user's cart.
func (s *Service) Invalidate(ctx context.Context, userID string) {
	st := s.stripe(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.gen++

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.WarnContext(ctx, "cart cache invalidate failed", "user_id", userID, "error", err)
	}
}

func (s *Service) stripe(userID string) *cacheStripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &s.stripes[h.Sum32()%cacheStripes]
}

func (s *Service) checkStock(ctx context.Context, productID int64, quantity int) error {
	ok, err := s.ledger.CheckAvailable(ctx, productID, quantity)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrInsufficientStock
	}
	return nil
}
