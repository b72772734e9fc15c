package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/inventory"
	"github.com/google/uuid"
)

// Catalog is the read side of the product catalog plus the minimal write
// path needed to seed it.
type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	// CreateProduct inserts p and sets p.ID. Returns domain.ErrDuplicateSKU
	// when the sku is taken.
	CreateProduct(ctx context.Context, p *domain.Product) error
}

type CartRepository interface {
	// GetCart never fails with not found: a user without a cart gets an
	// empty one.
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	// GetCartForUpdate reads the cart like GetCart and, inside a unit of
	// work, keeps other writers of the same cart waiting until it ends.
	GetCartForUpdate(ctx context.Context, userID string) (*domain.Cart, error)
	// AddItem creates the cart if needed, then adds item.Quantity to the
	// existing line or inserts a new line priced at item.UnitPrice.
	AddItem(ctx context.Context, userID string, item domain.CartItem) error
	// SetQuantity returns domain.ErrCartItemNotFound when the line is absent.
	SetQuantity(ctx context.Context, userID string, productID int64, quantity int) error
	RemoveItem(ctx context.Context, userID string, productID int64) error
	Clear(ctx context.Context, userID string) error
}

type OrderRepository interface {
	// Create inserts the order and its items. Returns
	// domain.ErrOrderNumberCollision when the order number is taken.
	Create(ctx context.Context, order *domain.Order) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetByNumber(ctx context.Context, number string) (*domain.Order, error)
	Items(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error)
	List(ctx context.Context, page domain.Page) ([]domain.Order, int, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	ListByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	CountByStatus(ctx context.Context, status domain.OrderStatus) (int, error)
	SetStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus, at time.Time) error
	SetPaymentStatus(ctx context.Context, id uuid.UUID, status domain.PaymentStatus, at time.Time) error
	// TransitionStatus sets the status to `to` only when the current status is
	// one of from, in a single step. It reports whether the row changed.
	TransitionStatus(ctx context.Context, id uuid.UUID, from []domain.OrderStatus, to domain.OrderStatus, at time.Time) (bool, error)
}

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

type OutboxWriter interface {
	Append(ctx context.Context, event domain.OrderEvent) error
}

type OutboxReader interface {
	Pending(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkProcessed(ctx context.Context, id int64, at time.Time) error
}

// Tx is the set of repositories bound to one unit of work. Every write made
// through a Tx is undone when the unit of work fails, including stock
// reservations.
type Tx interface {
	Inventory() inventory.Ledger
	Carts() CartRepository
	Orders() OrderRepository
	Outbox() OutboxWriter
}

// Store gives autocommit access to the same repositories and runs units of
// work. InTx rolls back when fn returns an error and wraps a failed commit in
// domain.ErrStorageCommitFailed.
type Store interface {
	Tx
	Catalog() Catalog
	Events() OutboxReader
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// EncodeEvent turns an order event into an outbox row.
func EncodeEvent(event domain.OrderEvent) (OutboxEvent, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("marshal order event: %w", err)
	}
	return OutboxEvent{
		AggregateID: event.OrderID.String(),
		EventType:   string(event.Type),
		Payload:     payload,
		CreatedAt:   event.OccurredAt,
	}, nil
}
