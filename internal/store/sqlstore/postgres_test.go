package sqlstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *Store {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	s, err := OpenPostgres(&Credentials{
		Host:     host,
		Port:     port.Int(),
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
	}, nil)
	require.NoError(t, err)
	require.NoError(t, s.RunMigrations())

	t.Cleanup(func() {
		s.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})
	return s
}

func TestPostgres_ConcurrentReservationsNeverOversell(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()
	p := createProduct(t, s, "HOT", "10.00", 25, true)

	var (
		wg       sync.WaitGroup
		reserved atomic.Int64
	)
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Inventory().TryReserve(ctx, p.ID, 1)
			if err == nil {
				reserved.Add(1)
				return
			}
			if !errors.Is(err, domain.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(25), reserved.Load())
	assert.Equal(t, 0, stockOf(t, s, p.ID))
}

func TestPostgres_CartAndOrderRoundTrip(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()
	p := createProduct(t, s, "A", "12.50", 5, true)

	require.NoError(t, s.Carts().AddItem(ctx, "u", domain.CartItem{ProductID: p.ID, Quantity: 2, UnitPrice: p.Price}))
	cart, err := s.Carts().GetCart(ctx, "u")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "25", cart.Subtotal().String())

	order := newTestOrder("u", "ORD-PG", domain.OrderItem{ProductID: p.ID, Quantity: 2, UnitPrice: p.Price})
	require.NoError(t, s.Orders().Create(ctx, order))
	assert.ErrorIs(t, s.Orders().Create(ctx, newTestOrder("u", "ORD-PG", domain.OrderItem{ProductID: p.ID, Quantity: 1, UnitPrice: p.Price})), domain.ErrOrderNumberCollision)

	got, err := s.Orders().Get(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, order.TotalAmount.Equal(got.TotalAmount))
	assert.Len(t, got.Items, 1)
}

func TestPostgres_CartReadForUpdateHoldsWriters(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()
	p := createProduct(t, s, "LOCK", "1.00", 10, true)
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
		t.Fatalf("write went through while the cart row was locked: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-txDone)
	require.NoError(t, <-added)

	cart, err := s.Carts().GetCart(ctx, "u")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 1, cart.Items[0].Quantity)
}
