package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Lifecycle moves placed orders between statuses. Status changes and the
// stock they give back are committed together with their outbox event.
type Lifecycle struct {
	store   store.Store
	metrics *metrics.Metrics
	log     *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Lifecycle)

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Lifecycle) { l.metrics = m }
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Lifecycle) { l.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) { l.now = now }
}

func NewLifecycle(s store.Store, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		store:  s,
		log:    slog.Default(),
		tracer: otel.Tracer("github.com/fjod/storefront/internal/order"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// leavable lists every status an ordinary status update may start from. A
// cancelled order keeps its status, so its stock is never credited twice.
var leavable = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
	domain.OrderStatusProcessing,
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
	domain.OrderStatusReturned,
}

// UpdateStatus overwrites the order status. CANCELLED is handed to Cancel so
// that stock comes back exactly once.
func (l *Lifecycle) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) (*domain.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: order status %q", domain.ErrInvalidStatus, status)
	}
	if status == domain.OrderStatusCancelled {
		return l.Cancel(ctx, id)
	}

	var order *domain.Order
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		now := l.now()
		changed, err := tx.Orders().TransitionStatus(ctx, id, leavable, status, now)
		if err != nil {
			return err
		}
		if !changed {
			if _, err := tx.Orders().Get(ctx, id); err != nil {
				return err
			}
			return fmt.Errorf("%w: order is cancelled", domain.ErrInvalidTransition)
		}

		order, err = tx.Orders().Get(ctx, id)
		if err != nil {
			return err
		}
		return tx.Outbox().Append(ctx, domain.NewOrderEvent(domain.EventOrderStatusChanged, order, now))
	})
	if err != nil {
		return nil, err
	}

	l.log.InfoContext(ctx, "order status updated", "order_id", id, "status", status)
	return order, nil
}

func (l *Lifecycle) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status domain.PaymentStatus) (*domain.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: payment status %q", domain.ErrInvalidStatus, status)
	}

	var order *domain.Order
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		now := l.now()
		if err := tx.Orders().SetPaymentStatus(ctx, id, status, now); err != nil {
			return err
		}

		var err error
		order, err = tx.Orders().Get(ctx, id)
		if err != nil {
			return err
		}
		return tx.Outbox().Append(ctx, domain.NewOrderEvent(domain.EventOrderPaymentStatusChanged, order, now))
	})
	if err != nil {
		return nil, err
	}

	l.log.InfoContext(ctx, "order payment status updated", "order_id", id, "payment_status", status)
	return order, nil
}

// Cancel moves a PENDING or CONFIRMED order to CANCELLED and releases the
// stock of every line. The status guard and the releases commit together, so
// a second cancel finds the order no longer cancellable.
func (l *Lifecycle) Cancel(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := l.tracer.Start(ctx, "order.Cancel", trace.WithAttributes(attribute.String("order.id", id.String())))
	defer span.End()

	var order *domain.Order
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		now := l.now()
		changed, err := tx.Orders().TransitionStatus(ctx, id, domain.CancellableStatuses, domain.OrderStatusCancelled, now)
		if err != nil {
			return err
		}
		if !changed {
			if _, err := tx.Orders().Get(ctx, id); err != nil {
				return err
			}
			return domain.ErrNotCancellable
		}

		order, err = tx.Orders().Get(ctx, id)
		if err != nil {
			return err
		}
		items := append([]domain.OrderItem(nil), order.Items...)
		sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
		for _, item := range items {
			if err := tx.Inventory().Release(ctx, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("release %d of product %d: %w", item.Quantity, item.ProductID, err)
			}
		}

		return tx.Outbox().Append(ctx, domain.NewOrderEvent(domain.EventOrderCancelled, order, now))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, domain.ErrNotCancellable) && !errors.Is(err, domain.ErrOrderNotFound) {
			l.log.ErrorContext(ctx, "order cancel failed", "order_id", id, "error", err)
		}
		return nil, err
	}

	l.metrics.OrderCancelled()
	l.log.InfoContext(ctx, "order cancelled", "order_id", id, "order_number", order.OrderNumber, "items", len(order.Items))
	return order, nil
}
