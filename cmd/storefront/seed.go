package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/store"
	"github.com/shopspring/decimal"
)

var demoCatalog = []domain.Product{
	{SKU: "LAPTOP-001", Name: "Laptop", Description: "14 inch ultrabook", Price: decimal.RequireFromString("1299.99"), StockQuantity: 100, IsActive: true},
	{SKU: "MOUSE-001", Name: "Mouse", Description: "Wireless mouse", Price: decimal.RequireFromString("29.99"), StockQuantity: 500, IsActive: true},
	{SKU: "KEYBOARD-001", Name: "Keyboard", Description: "Mechanical keyboard", Price: decimal.RequireFromString("89.99"), StockQuantity: 300, IsActive: true},
	{SKU: "MONITOR-001", Name: "Monitor", Description: "27 inch 4K monitor", Price: decimal.RequireFromString("399.99"), StockQuantity: 150, IsActive: true},
	{SKU: "HEADPHONES-001", Name: "Headphones", Description: "Noise cancelling headphones", Price: decimal.RequireFromString("199.99"), StockQuantity: 200, IsActive: true},
}

// seedCatalog inserts the demo products when the catalog is empty.
func seedCatalog(ctx context.Context, catalog store.Catalog) (int, error) {
	existing, err := catalog.ListProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list products: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	created := 0
	for _, p := range demoCatalog {
		p := p
		if err := catalog.CreateProduct(ctx, &p); err != nil {
			if errors.Is(err, domain.ErrDuplicateSKU) {
				continue
			}
			return created, fmt.Errorf("create product %s: %w", p.SKU, err)
		}
		created++
	}
	return created, nil
}
