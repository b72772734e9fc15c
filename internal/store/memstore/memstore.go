package memstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/inventory"
	"github.com/fjod/storefront/internal/store"
	"github.com/google/uuid"
)

// Store keeps everything in process memory. Units of work are failure
// atomic through an undo journal but not isolated: concurrent readers may
// observe writes of a unit of work that later rolls back. Outbox events are
// the exception and only become visible on commit.
type Store struct {
	ledger *inventory.MemoryLedger
	now    func() time.Time
	// commitHook runs after fn succeeds and before the commit is final.
	commitHook func() error

	catalogMu sync.RWMutex
	products  map[int64]*domain.Product
	skus      map[string]int64
	nextID    int64

	cartsMu sync.Mutex
	carts   map[string]*domain.Cart
	// cartLocks serialize writers of one user's cart against a unit of work
	// that read it for update. Users share stripes.
	cartLocks [cartLockStripes]sync.Mutex

	ordersMu sync.RWMutex
	orders   map[uuid.UUID]*domain.Order
	numbers  map[string]uuid.UUID

	outboxMu    sync.Mutex
	events      []store.OutboxEvent
	nextEventID int64
}

var _ store.Store = (*Store)(nil)

const cartLockStripes = 64

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithCommitHook installs a function that can fail the final commit step.
func WithCommitHook(hook func() error) Option {
	return func(s *Store) { s.commitHook = hook }
}

func New(opts ...Option) *Store {
	s := &Store{
		ledger:   inventory.NewMemoryLedger(),
		now:      func() time.Time { return time.Now().UTC() },
		products: make(map[int64]*domain.Product),
		skus:     make(map[string]int64),
		carts:    make(map[string]*domain.Cart),
		orders:   make(map[uuid.UUID]*domain.Order),
		numbers:  make(map[string]uuid.UUID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return nil }

func (s *Store) cartLock(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &s.cartLocks[h.Sum32()%cartLockStripes]
}

// Ledger exposes the stock counters, mostly for tests.
func (s *Store) Ledger() *inventory.MemoryLedger { return s.ledger }

func (s *Store) Inventory() inventory.Ledger   { return s.ledger }
func (s *Store) Carts() store.CartRepository   { return &carts{s: s} }
func (s *Store) Orders() store.OrderRepository { return &orders{s: s} }
func (s *Store) Outbox() store.OutboxWriter    { return &outbox{s: s} }
func (s *Store) Events() store.OutboxReader    { return &outbox{s: s} }
func (s *Store) Catalog() store.Catalog        { return &catalog{s: s} }

type tx struct {
	s *Store
	j *journal
}

func (t *tx) Inventory() inventory.Ledger   { return &txLedger{ledger: t.s.ledger, j: t.j} }
func (t *tx) Carts() store.CartRepository   { return &carts{s: t.s, j: t.j} }
func (t *tx) Orders() store.OrderRepository { return &orders{s: t.s, j: t.j} }
func (t *tx) Outbox() store.OutboxWriter    { return &outbox{s: t.s, j: t.j} }

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	j := newJournal()
	defer j.unlock()

	defer func() {
		if p := recover(); p != nil {
			j.rollback(s.ledger)
			panic(p)
		}
	}()

	if err := fn(ctx, &tx{s: s, j: j}); err != nil {
		j.rollback(s.ledger)
		return err
	}

	if s.commitHook != nil {
		if err := s.commitHook(); err != nil {
			j.rollback(s.ledger)
			return fmt.Errorf("%w: %w", domain.ErrStorageCommitFailed, err)
		}
	}

	for _, ev := range j.events {
		s.appendEvent(ev)
	}
	return nil
}
