package order

import (
	"context"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

func (l *Lifecycle) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return l.store.Orders().Get(ctx, id)
}

func (l *Lifecycle) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return l.store.Orders().GetByNumber(ctx, number)
}

func (l *Lifecycle) Items(ctx context.Context, id uuid.UUID) ([]domain.OrderItem, error) {
	// Distinguishes an unknown order from one without lines.
	if _, err := l.store.Orders().Get(ctx, id); err != nil {
		return nil, err
	}
	return l.store.Orders().Items(ctx, id)
}

// List returns one page of all orders, newest first, and the total count.
func (l *Lifecycle) List(ctx context.Context, page domain.Page) ([]domain.Order, int, error) {
	if page.Number < 0 {
		return nil, 0, fmt.Errorf("%w: page must not be negative", domain.ErrInvalidArgument)
	}
	switch {
	case page.Size <= 0:
		page.Size = DefaultPageSize
	case page.Size > MaxPageSize:
		page.Size = MaxPageSize
	}
	return l.store.Orders().List(ctx, page)
}

func (l *Lifecycle) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return l.store.Orders().ListByUser(ctx, userID)
}

func (l *Lifecycle) ListByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: order status %q", domain.ErrInvalidStatus, status)
	}
	return l.store.Orders().ListByStatus(ctx, status)
}

func (l *Lifecycle) CountByUser(ctx context.Context, userID string) (int, error) {
	return l.store.Orders().CountByUser(ctx, userID)
}

func (l *Lifecycle) CountByStatus(ctx context.Context, status domain.OrderStatus) (int, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("%w: order status %q", domain.ErrInvalidStatus, status)
	}
	return l.store.Orders().CountByStatus(ctx, status)
}
