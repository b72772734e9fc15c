package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderCreated              EventType = "order.created"
	EventOrderStatusChanged        EventType = "order.status_changed"
	EventOrderPaymentStatusChanged EventType = "order.payment_status_changed"
	EventOrderCancelled            EventType = "order.cancelled"
)

// OrderEvent is the payload written to the outbox and published to Kafka.
type OrderEvent struct {
	EventID       uuid.UUID        `json:"event_id"`
	Type          EventType        `json:"type"`
	OrderID       uuid.UUID        `json:"order_id"`
	OrderNumber   string           `json:"order_number"`
	UserID        string           `json:"user_id"`
	Status        OrderStatus      `json:"status"`
	PaymentStatus PaymentStatus    `json:"payment_status"`
	TotalAmount   decimal.Decimal  `json:"total_amount"`
	Items         []OrderEventItem `json:"items,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

type OrderEventItem struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func NewOrderEvent(t EventType, o *Order, at time.Time) OrderEvent {
	ev := OrderEvent{
		EventID:       uuid.New(),
		Type:          t,
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		TotalAmount:   o.TotalAmount,
		OccurredAt:    at,
	}
	if t == EventOrderCreated || t == EventOrderCancelled {
		ev.Items = make([]OrderEventItem, 0, len(o.Items))
		for _, item := range o.Items {
			ev.Items = append(ev.Items, OrderEventItem{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
			})
		}
	}
	return ev
}
