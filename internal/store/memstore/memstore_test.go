package memstore

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedProduct(t *testing.T, s *Store, sku string, stock int) *domain.Product {
	t.Helper()
	p := &domain.Product{SKU: sku, Name: sku, Price: decimal.RequireFromString("10.00"), StockQuantity: stock, IsActive: true}
	require.NoError(t, s.Catalog().CreateProduct(context.Background(), p))
	return p
}

func stock(t *testing.T, s *Store, id int64) int {
	t.Helper()
	q, _, err := s.Ledger().Stock(id)
	require.NoError(t, err)
	return q
}

func testOrder(number string) *domain.Order {
	now := time.Now().UTC()
	return &domain.Order{
		ID:            uuid.New(),
		OrderNumber:   number,
		UserID:        "u",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestCatalog_StockComesFromLedger(t *testing.T) {
	s := New()
	p := seedProduct(t, s, "A", 5)
	require.NoError(t, s.Inventory().TryReserve(context.Background(), p.ID, 2))

	got, err := s.Catalog().GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.StockQuantity)

	err = s.Catalog().CreateProduct(context.Background(), &domain.Product{SKU: "A"})
	assert.ErrorIs(t, err, domain.ErrDuplicateSKU)
}

func TestInTx_RollbackRestoresEverything(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedProduct(t, s, "A", 5)
	b := seedProduct(t, s, "B", 5)
	require.NoError(t, s.Carts().AddItem(ctx, "u", domain.CartItem{ProductID: a.ID, Quantity: 2, UnitPrice: a.Price}))
	existing := testOrder("ORD-0")
	require.NoError(t, s.Orders().Create(ctx, existing))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.Inventory().TryReserve(ctx, a.ID, 2))
		require.NoError(t, tx.Inventory().Release(ctx, b.ID, 1))
		require.NoError(t, tx.Carts().Clear(ctx, "u"))
		require.NoError(t, tx.Carts().AddItem(ctx, "other", domain.CartItem{ProductID: b.ID, Quantity: 1, UnitPrice: b.Price}))
		require.NoError(t, tx.Orders().Create(ctx, testOrder("ORD-1")))
		require.NoError(t, tx.Orders().SetStatus(ctx, existing.ID, domain.OrderStatusShipped, time.Now()))
		require.NoError(t, tx.Outbox().Append(ctx, domain.NewOrderEvent(domain.EventOrderCreated, existing, time.Now())))
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 5, stock(t, s, a.ID))
	assert.Equal(t, 5, stock(t, s, b.ID))

	cart, _ := s.Carts().GetCart(ctx, "u")
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)
	other, _ := s.Carts().GetCart(ctx, "other")
	assert.Empty(t, other.Items)

	_, err = s.Orders().GetByNumber(ctx, "ORD-1")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	got, err := s.Orders().Get(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, got.Status)

	pending, _ := s.Events().Pending(ctx, 10)
	assert.Empty(t, pending)
}

func TestInTx_CompensationInsideUnitOfWorkIsNotUndoneTwice(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedProduct(t, s, "A", 5)

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.Inventory().TryReserve(ctx, a.ID, 3))
		require.NoError(t, tx.Inventory().Release(ctx, a.ID, 3))
		return domain.ErrInsufficientStock
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 5, stock(t, s, a.ID))
}

func TestInTx_CommitHookFailure(t *testing.T) {
	s := New(WithCommitHook(func() error { return errors.New("disk full") }))
	ctx := context.Background()
	a := seedProduct(t, s, "A", 5)

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Inventory().TryReserve(ctx, a.ID, 5)
	})
	require.ErrorIs(t, err, domain.ErrStorageCommitFailed)
	assert.Equal(t, 5, stock(t, s, a.ID))
}

func TestInTx_CommitPublishesOutbox(t *testing.T) {
	s := New()
	ctx := context.Background()
	o := testOrder("ORD-1")

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.Outbox().Append(ctx, domain.NewOrderEvent(domain.EventOrderCreated, o, time.Now())))
		pending, _ := s.Events().Pending(ctx, 10)
		assert.Empty(t, pending, "uncommitted events are invisible")
		return nil
	})
	require.NoError(t, err)

	pending, err := s.Events().Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, s.Events().MarkProcessed(ctx, pending[0].ID, time.Now()))
	pending, _ = s.Events().Pending(ctx, 10)
	assert.Empty(t, pending)
}

func TestOrders_CollisionAndTransition(t *testing.T) {
	s := New()
	ctx := context.Background()
	o := testOrder("ORD-1")
	require.NoError(t, s.Orders().Create(ctx, o))
	assert.ErrorIs(t, s.Orders().Create(ctx, testOrder("ORD-1")), domain.ErrOrderNumberCollision)

	changed, err := s.Orders().TransitionStatus(ctx, o.ID, domain.CancellableStatuses, domain.OrderStatusCancelled, time.Now())
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.Orders().TransitionStatus(ctx, o.ID, domain.CancellableStatuses, domain.OrderStatusCancelled, time.Now())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestOrders_ListPaging(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now().UTC()
	for i, n := range []string{"a", "b", "c"} {
		o := testOrder(n)
		o.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Orders().Create(ctx, o))
	}

	page, total, err := s.Orders().List(ctx, domain.Page{Number: 0, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].OrderNumber)

	page, _, err = s.Orders().List(ctx, domain.Page{Number: 5, Size: 2})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestCarts_SetQuantityMissing(t *testing.T) {
	s := New()
	err := s.Carts().SetQuantity(context.Background(), "nobody", 1, 2)
	assert.ErrorIs(t, err, domain.ErrCartItemNotFound)
	require.NoError(t, s.Carts().RemoveItem(context.Background(), "nobody", 1))
	require.NoError(t, s.Carts().Clear(context.Background(), "nobody"))
}

func TestCarts_MergedQuantityStaysInRange(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := seedProduct(t, s, "A", 10)
	line := func(q int) domain.CartItem { return domain.CartItem{ProductID: p.ID, Quantity: q, UnitPrice: p.Price} }

	require.NoError(t, s.Carts().AddItem(ctx, "u", line(1)))
	assert.ErrorIs(t, s.Carts().AddItem(ctx, "u", line(math.MaxInt)), domain.ErrInvalidQuantity)
	assert.ErrorIs(t, s.Carts().AddItem(ctx, "u", line(domain.MaxItemQuantity)), domain.ErrInvalidQuantity)
	assert.ErrorIs(t, s.Carts().SetQuantity(ctx, "u", p.ID, math.MaxInt), domain.ErrInvalidQuantity)

	cart, err := s.Carts().GetCart(ctx, "u")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 1, cart.Items[0].Quantity)
}

func TestCarts_ReadForUpdateHoldsWritersUntilCommit(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := seedProduct(t, s, "A", 10)
	item := domain.CartItem{ProductID: p.ID, Quantity: 1, UnitPrice: p.Price}
	require.NoError(t, s.Carts().AddItem(ctx, "u", item))

	locked := make(chan struct{})
	release := make(chan struct{})
	txDone := make(chan error, 1)
	go func() {
		txDone <- s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if _, err := tx.Carts().GetCartForUpdate(ctx, "u"); err != nil {
				return err
			}
			close(locked)
			<-release
			return tx.Carts().Clear(ctx, "u")
		})
	}()
	<-locked

	added := make(chan error, 1)
	go func() { added <- s.Carts().AddItem(ctx, "u", item) }()

	select {
	case err := <-added:
		t.Fatalf("write went through while the cart was held: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-txDone)
	require.NoError(t, <-added)

	cart, err := s.Carts().GetCart(ctx, "u")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1, "the write lands after the clear, not before it")
	assert.Equal(t, 1, cart.Items[0].Quantity)
}
