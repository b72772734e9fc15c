package memstore

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/inventory"
	"github.com/fjod/storefront/internal/store"
)

// journal records how to undo a unit of work. Stock is tracked as the net
// quantity held per product so that a reservation followed by its own
// compensation inside the same unit of work undoes to nothing.
type journal struct {
	undo    []func()
	held    map[int64]int
	touched []int64
	events  []store.OutboxEvent
	locked  map[*sync.Mutex]bool
}

func newJournal() *journal {
	return &journal{held: make(map[int64]int), locked: make(map[*sync.Mutex]bool)}
}

// lock takes mu for the rest of the unit of work. Taking it again is a no-op.
func (j *journal) lock(mu *sync.Mutex) {
	if j.locked[mu] {
		return
	}
	mu.Lock()
	j.locked[mu] = true
}

func (j *journal) unlock() {
	for mu := range j.locked {
		mu.Unlock()
	}
	clear(j.locked)
}

func (j *journal) record(fn func()) {
	j.undo = append(j.undo, fn)
}

func (j *journal) hold(productID int64, delta int) {
	if _, seen := j.held[productID]; !seen {
		j.touched = append(j.touched, productID)
	}
	j.held[productID] += delta
}

func (j *journal) rollback(ledger *inventory.MemoryLedger) {
	for i := len(j.touched) - 1; i >= 0; i-- {
		productID := j.touched[i]
		switch net := j.held[productID]; {
		case net > 0:
			if err := ledger.Release(context.Background(), productID, net); err != nil {
				slog.Error("rollback release failed", "product_id", productID, "quantity", net, "error", err)
			}
		case net < 0:
			if taken := ledger.Reclaim(productID, -net); taken != -net {
				slog.Error("rollback reclaimed less stock than released", "product_id", productID, "wanted", -net, "taken", taken)
			}
		}
	}
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
	j.events = nil
}

// txLedger forwards to the shared ledger and journals what it changed.
type txLedger struct {
	ledger *inventory.MemoryLedger
	j      *journal
}

func (l *txLedger) TryReserve(ctx context.Context, productID int64, quantity int) error {
	if err := l.ledger.TryReserve(ctx, productID, quantity); err != nil {
		return err
	}
	l.j.hold(productID, quantity)
	return nil
}

func (l *txLedger) Release(ctx context.Context, productID int64, quantity int) error {
	if err := l.ledger.Release(ctx, productID, quantity); err != nil {
		return err
	}
	l.j.hold(productID, -quantity)
	return nil
}

func (l *txLedger) CheckAvailable(ctx context.Context, productID int64, quantity int) (bool, error) {
	return l.ledger.CheckAvailable(ctx, productID, quantity)
}

var _ inventory.Ledger = (*txLedger)(nil)

func copyCart(c *domain.Cart) *domain.Cart {
	cp := *c
	cp.Items = append([]domain.CartItem{}, c.Items...)
	return &cp
}

func copyOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = append([]domain.OrderItem{}, o.Items...)
	return &cp
}
