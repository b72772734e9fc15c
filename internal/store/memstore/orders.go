package memstore

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
)

type orders struct {
	s *Store
	j *journal
}

func (r *orders) Create(_ context.Context, order *domain.Order) error {
	r.s.ordersMu.Lock()
	defer r.s.ordersMu.Unlock()

	if _, taken := r.s.numbers[order.OrderNumber]; taken {
		return domain.ErrOrderNumberCollision
	}
	r.s.orders[order.ID] = copyOrder(order)
	r.s.numbers[order.OrderNumber] = order.ID

	if r.j != nil {
		id, number := order.ID, order.OrderNumber
		r.j.record(func() {
			r.s.ordersMu.Lock()
			defer r.s.ordersMu.Unlock()
			delete(r.s.orders, id)
			delete(r.s.numbers, number)
		})
	}
	return nil
}

func (r *orders) Get(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	r.s.ordersMu.RLock()
	defer r.s.ordersMu.RUnlock()

	o, exists := r.s.orders[id]
	if !exists {
		return nil, domain.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (r *orders) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	r.s.ordersMu.RLock()
	id, exists := r.s.numbers[number]
	r.s.ordersMu.RUnlock()
	if !exists {
		return nil, domain.ErrOrderNotFound
	}
	return r.Get(ctx, id)
}

func (r *orders) Items(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	o, err := r.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return o.Items, nil
}

// filter returns matching orders newest first, without items.
func (r *orders) filter(match func(o *domain.Order) bool) []domain.Order {
	r.s.ordersMu.RLock()
	result := make([]domain.Order, 0)
	for _, o := range r.s.orders {
		if match(o) {
			cp := *o
			cp.Items = nil
			result = append(result, cp)
		}
	}
	r.s.ordersMu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result
}

func (r *orders) List(_ context.Context, page domain.Page) ([]domain.Order, int, error) {
	all := r.filter(func(*domain.Order) bool { return true })
	start := min(page.Offset(), len(all))
	end := min(start+page.Size, len(all))
	return all[start:end], len(all), nil
}

func (r *orders) ListByUser(_ context.Context, userID string) ([]domain.Order, error) {
	return r.filter(func(o *domain.Order) bool { return o.UserID == userID }), nil
}

func (r *orders) ListByStatus(_ context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	return r.filter(func(o *domain.Order) bool { return o.Status == status }), nil
}

func (r *orders) CountByUser(ctx context.Context, userID string) (int, error) {
	list, err := r.ListByUser(ctx, userID)
	return len(list), err
}

func (r *orders) CountByStatus(ctx context.Context, status domain.OrderStatus) (int, error) {
	list, err := r.ListByStatus(ctx, status)
	return len(list), err
}

// modify applies fn to the stored order under the write lock and journals
// the previous status fields.
func (r *orders) modify(id uuid.UUID, fn func(o *domain.Order) bool) (bool, error) {
	r.s.ordersMu.Lock()
	defer r.s.ordersMu.Unlock()

	o, exists := r.s.orders[id]
	if !exists {
		return false, domain.ErrOrderNotFound
	}
	status, payment, updated := o.Status, o.PaymentStatus, o.UpdatedAt
	if !fn(o) {
		return false, nil
	}

	if r.j != nil {
		r.j.record(func() {
			r.s.ordersMu.Lock()
			defer r.s.ordersMu.Unlock()
			o.Status, o.PaymentStatus, o.UpdatedAt = status, payment, updated
		})
	}
	return true, nil
}

func (r *orders) SetStatus(_ context.Context, id uuid.UUID, status domain.OrderStatus, at time.Time) error {
	_, err := r.modify(id, func(o *domain.Order) bool {
		o.Status, o.UpdatedAt = status, at
		return true
	})
	return err
}

func (r *orders) SetPaymentStatus(_ context.Context, id uuid.UUID, status domain.PaymentStatus, at time.Time) error {
	_, err := r.modify(id, func(o *domain.Order) bool {
		o.PaymentStatus, o.UpdatedAt = status, at
		return true
	})
	return err
}

func (r *orders) TransitionStatus(_ context.Context, id uuid.UUID, from []domain.OrderStatus, to domain.OrderStatus, at time.Time) (bool, error) {
	changed, err := r.modify(id, func(o *domain.Order) bool {
		if !slices.Contains(from, o.Status) {
			return false
		}
		o.Status, o.UpdatedAt = to, at
		return true
	})
	if err != nil {
		// matches the SQL guard, which cannot tell a missing row from a
		// status mismatch
		return false, nil
	}
	return changed, nil
}
