package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/store"
)

type outbox struct {
	q querier
}

func (o *outbox) Append(ctx context.Context, event domain.OrderEvent) error {
	row, err := store.EncodeEvent(event)
	if err != nil {
		return err
	}

	query := `INSERT INTO outbox_events (aggregate_id, event_type, payload, created_at) VALUES ($1, $2, $3, $4)`
	_, err = o.q.ExecContext(ctx, query, row.AggregateID, row.EventType, string(row.Payload), row.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (o *outbox) Pending(ctx context.Context, limit int) ([]store.OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at
	          FROM outbox_events WHERE processed_at IS NULL ORDER BY id LIMIT $1`

	rows, err := o.q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	events := make([]store.OutboxEvent, 0)
	for rows.Next() {
		var ev store.OutboxEvent
		if err := rows.Scan(&ev.ID, &ev.AggregateID, &ev.EventType, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (o *outbox) MarkProcessed(ctx context.Context, id int64, at time.Time) error {
	_, err := o.q.ExecContext(ctx, `UPDATE outbox_events SET processed_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("mark outbox event %d: %w", id, err)
	}
	return nil
}
