package inventory

import "context"

// Ledger owns per-product stock counters.
//
// TryReserve is the only gate against overselling: it checks that the
// product is active and has at least quantity in stock and decrements it in
// one atomic step. On failure nothing changes and the error is one of
// domain.ErrProductNotFound, domain.ErrProductUnavailable or
// domain.ErrInsufficientStock.
//
// Release returns quantity to stock. Callers release exactly what they
// reserved, once.
//
// CheckAvailable is advisory and may be stale by the time it returns.
type Ledger interface {
	TryReserve(ctx context.Context, productID int64, quantity int) error
	Release(ctx context.Context, productID int64, quantity int) error
	CheckAvailable(ctx context.Context, productID int64, quantity int) (bool, error)
}
