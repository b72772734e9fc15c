package history

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/storefront/internal/domain"
)

var ErrNotFound = errors.New("order history not found")

// OrderHistory is the read-model document kept per order.
type OrderHistory struct {
	OrderID       string    `bson:"order_id" json:"order_id"`
	OrderNumber   string    `bson:"order_number" json:"order_number"`
	UserID        string    `bson:"user_id" json:"user_id"`
	Status        string    `bson:"status" json:"status"`
	PaymentStatus string    `bson:"payment_status" json:"payment_status"`
	TotalAmount   string    `bson:"total_amount" json:"total_amount"`
	Items         []Item    `bson:"items,omitempty" json:"items,omitempty"`
	Events        []Entry   `bson:"events" json:"events"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updated_at"`
}

type Item struct {
	ProductID int64  `bson:"product_id" json:"product_id"`
	Quantity  int    `bson:"quantity" json:"quantity"`
	UnitPrice string `bson:"unit_price" json:"unit_price"`
}

type Entry struct {
	EventID       string    `bson:"event_id" json:"event_id"`
	Type          string    `bson:"type" json:"type"`
	Status        string    `bson:"status" json:"status"`
	PaymentStatus string    `bson:"payment_status" json:"payment_status"`
	OccurredAt    time.Time `bson:"occurred_at" json:"occurred_at"`
}

type Repository interface {
	// Apply folds an event into its order's document. It reports false when
	// the event was applied before.
	Apply(ctx context.Context, event domain.OrderEvent) (bool, error)
	Get(ctx context.Context, orderID string) (*OrderHistory, error)
}

func entryOf(event domain.OrderEvent) Entry {
	return Entry{
		EventID:       event.EventID.String(),
		Type:          string(event.Type),
		Status:        string(event.Status),
		PaymentStatus: string(event.PaymentStatus),
		OccurredAt:    event.OccurredAt,
	}
}

func itemsOf(event domain.OrderEvent) []Item {
	items := make([]Item, 0, len(event.Items))
	for _, it := range event.Items {
		items = append(items, Item{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice.StringFixed(2)})
	}
	return items
}
