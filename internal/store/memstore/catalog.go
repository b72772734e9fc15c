package memstore

import (
	"context"
	"sort"

	"github.com/fjod/storefront/internal/domain"
)

type catalog struct {
	s *Store
}

// withStock fills the stock fields from the ledger, which owns them.
func (c *catalog) withStock(p *domain.Product) *domain.Product {
	cp := *p
	if stock, active, err := c.s.ledger.Stock(p.ID); err == nil {
		cp.StockQuantity = stock
		cp.IsActive = active
	}
	return &cp
}

func (c *catalog) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	c.s.catalogMu.RLock()
	p, exists := c.s.products[id]
	c.s.catalogMu.RUnlock()
	if !exists {
		return nil, domain.ErrProductNotFound
	}
	return c.withStock(p), nil
}

func (c *catalog) ListProducts(context.Context) ([]domain.Product, error) {
	c.s.catalogMu.RLock()
	products := make([]domain.Product, 0, len(c.s.products))
	for _, p := range c.s.products {
		products = append(products, *c.withStock(p))
	}
	c.s.catalogMu.RUnlock()

	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (c *catalog) CreateProduct(_ context.Context, p *domain.Product) error {
	c.s.catalogMu.Lock()
	defer c.s.catalogMu.Unlock()

	if _, taken := c.s.skus[p.SKU]; taken {
		return domain.ErrDuplicateSKU
	}
	c.s.nextID++
	now := c.s.now()
	p.ID = c.s.nextID
	p.CreatedAt = now
	p.UpdatedAt = now

	stored := *p
	c.s.products[p.ID] = &stored
	c.s.skus[p.SKU] = p.ID
	c.s.ledger.AddProduct(p.ID, p.StockQuantity, p.IsActive)
	return nil
}
