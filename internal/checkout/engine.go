package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/inventory"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultOrderNumberAttempts = 5

// CartInvalidator drops cached cart state once a checkout has emptied the cart.
type CartInvalidator interface {
	Invalidate(ctx context.Context, userID string)
}

type OrderNumbers interface {
	Next(at time.Time) (string, error)
}

// Engine turns a user's cart into an order. Stock reservations, order
// creation, the outbox event and clearing the cart run in one unit of work.
type Engine struct {
	store    store.Store
	carts    CartInvalidator
	numbers  OrderNumbers
	attempts int
	metrics  *metrics.Metrics
	log      *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*Engine)

func WithCartInvalidator(c CartInvalidator) Option {
	return func(e *Engine) { e.carts = c }
}

func WithOrderNumbers(n OrderNumbers) Option {
	return func(e *Engine) { e.numbers = n }
}

// WithOrderNumberAttempts bounds how many order numbers are tried before a
// collision is reported.
func WithOrderNumberAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.attempts = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		numbers:  NewNumberGenerator(),
		attempts: DefaultOrderNumberAttempts,
		log:      slog.Default(),
		tracer:   otel.Tracer("github.com/fjod/storefront/internal/checkout"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Checkout converts the user's cart into a PENDING order. On any failure the
// cart and every stock counter are left as they were.
func (e *Engine) Checkout(ctx context.Context, req Request) (*domain.Order, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	// Once started a checkout runs to commit or rollback, whatever the caller does.
	ctx = context.WithoutCancel(ctx)
	ctx, span := e.tracer.Start(ctx, "checkout.Checkout", trace.WithAttributes(attribute.String("user.id", req.UserID)))
	defer span.End()

	start := time.Now()
	var order *domain.Order
	err := e.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = e.checkout(ctx, tx, req)
		return err
	})
	e.metrics.ObserveCheckout(resultOf(err), time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !isClientError(err) {
			e.log.ErrorContext(ctx, "checkout failed", "user_id", req.UserID, "error", err)
		}
		return nil, err
	}

	if e.carts != nil {
		e.carts.Invalidate(ctx, req.UserID)
	}
	span.SetAttributes(attribute.String("order.number", order.OrderNumber))
	e.log.InfoContext(ctx, "order created",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"user_id", order.UserID,
		"total_amount", order.TotalAmount.StringFixed(2),
		"items", len(order.Items),
	)
	return order, nil
}

func (e *Engine) checkout(ctx context.Context, tx store.Tx, req Request) (*domain.Order, error) {
	cart, err := tx.Carts().GetCartForUpdate(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if cart.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}

	lines := append([]domain.CartItem(nil), cart.Items...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

	if err := e.reserve(ctx, tx.Inventory(), lines); err != nil {
		return nil, err
	}

	now := e.now()
	order := newOrder(req, lines, now)
	if err := e.create(ctx, tx.Orders(), order); err != nil {
		return nil, err
	}

	if err := tx.Outbox().Append(ctx, domain.NewOrderEvent(domain.EventOrderCreated, order, now)); err != nil {
		return nil, fmt.Errorf("append order event: %w", err)
	}
	if err := tx.Carts().Clear(ctx, req.UserID); err != nil {
		return nil, fmt.Errorf("clear cart: %w", err)
	}
	return order, nil
}

// reserve takes stock for every line in order. When one line fails, the lines
// already reserved are released in reverse order before the error is returned.
func (e *Engine) reserve(ctx context.Context, ledger inventory.Ledger, lines []domain.CartItem) error {
	for i, line := range lines {
		err := ledger.TryReserve(ctx, line.ProductID, line.Quantity)
		if err == nil {
			continue
		}

		e.metrics.ReservationFailed(reasonOf(err))
		for j := i - 1; j >= 0; j-- {
			if errRelease := ledger.Release(ctx, lines[j].ProductID, lines[j].Quantity); errRelease != nil {
				e.log.ErrorContext(ctx, "compensating release failed",
					"product_id", lines[j].ProductID,
					"quantity", lines[j].Quantity,
					"error", errRelease,
				)
			}
		}
		return &domain.ReservationError{ProductID: line.ProductID, Requested: line.Quantity, Err: err}
	}
	return nil
}

// create inserts the order, drawing a fresh order number on every collision.
func (e *Engine) create(ctx context.Context, orders store.OrderRepository, order *domain.Order) error {
	for attempt := 1; attempt <= e.attempts; attempt++ {
		number, err := e.numbers.Next(order.CreatedAt)
		if err != nil {
			return err
		}
		order.OrderNumber = number

		err = orders.Create(ctx, order)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrOrderNumberCollision) {
			return fmt.Errorf("create order: %w", err)
		}
		e.log.WarnContext(ctx, "order number collision", "order_number", number, "attempt", attempt)
	}
	return fmt.Errorf("no free order number after %d attempts: %w", e.attempts, domain.ErrOrderNumberCollision)
}

func newOrder(req Request, lines []domain.CartItem, now time.Time) *domain.Order {
	order := &domain.Order{
		ID:              uuid.New(),
		UserID:          req.UserID,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		PaymentMethod:   req.PaymentMethod,
		Notes:           req.Notes,
		Items:           make([]domain.OrderItem, 0, len(lines)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	total := decimal.Zero
	for _, line := range lines {
		lineTotal := line.TotalPrice()
		order.Items = append(order.Items, domain.OrderItem{
			ID:         uuid.New(),
			OrderID:    order.ID,
			ProductID:  line.ProductID,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			TotalPrice: lineTotal,
		})
		total = total.Add(lineTotal)
	}
	order.TotalAmount = total
	return order
}

func isClientError(err error) bool {
	return errors.Is(err, domain.ErrEmptyCart) ||
		errors.Is(err, domain.ErrInsufficientStock) ||
		errors.Is(err, domain.ErrProductUnavailable) ||
		errors.Is(err, domain.ErrProductNotFound)
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrProductUnavailable):
		return "product_unavailable"
	case errors.Is(err, domain.ErrProductNotFound):
		return "product_not_found"
	default:
		return "error"
	}
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrStorageCommitFailed):
		return "commit_failed"
	default:
		return reasonOf(err)
	}
}
