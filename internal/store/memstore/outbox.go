package memstore

import (
	"context"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/store"
)

type outbox struct {
	s *Store
	j *journal
}

func (o *outbox) Append(_ context.Context, event domain.OrderEvent) error {
	row, err := store.EncodeEvent(event)
	if err != nil {
		return err
	}
	if o.j != nil {
		o.j.events = append(o.j.events, row)
		return nil
	}
	o.s.appendEvent(row)
	return nil
}

func (s *Store) appendEvent(row store.OutboxEvent) {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()
	s.nextEventID++
	row.ID = s.nextEventID
	s.events = append(s.events, row)
}

func (o *outbox) Pending(_ context.Context, limit int) ([]store.OutboxEvent, error) {
	o.s.outboxMu.Lock()
	defer o.s.outboxMu.Unlock()

	pending := make([]store.OutboxEvent, 0)
	for _, row := range o.s.events {
		if len(pending) == limit {
			break
		}
		pending = append(pending, row)
	}
	return pending, nil
}

func (o *outbox) MarkProcessed(_ context.Context, id int64, _ time.Time) error {
	o.s.outboxMu.Lock()
	defer o.s.outboxMu.Unlock()

	// processed rows are dropped so the slice only holds pending work
	for i, row := range o.s.events {
		if row.ID == id {
			o.s.events = append(o.s.events[:i], o.s.events[i+1:]...)
			return nil
		}
	}
	return nil
}
