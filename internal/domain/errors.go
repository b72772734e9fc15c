package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound      = errors.New("product not found")
	ErrProductUnavailable   = errors.New("product is not available")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrEmptyCart            = errors.New("cart is empty, nothing to checkout")
	ErrCartItemNotFound     = errors.New("cart item not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrNotCancellable       = errors.New("order cannot be cancelled in its current status")
	ErrOrderNumberCollision = errors.New("order number already taken")
	ErrStorageCommitFailed  = errors.New("storage commit failed")
	ErrInvalidQuantity      = errors.New("quantity must be at least 1")
	ErrInvalidStatus        = errors.New("unknown status")
	ErrInvalidTransition    = errors.New("illegal order status transition")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrDuplicateSKU         = errors.New("product with this sku already exists")
)

// ReservationError reports which product a failed reservation was for.
type ReservationError struct {
	ProductID int64
	Requested int
	Err       error
}

func (e *ReservationError) Error() string {
	return fmt.Sprintf("reserve %d of product %d: %v", e.Requested, e.ProductID, e.Err)
}

func (e *ReservationError) Unwrap() error {
	return e.Err
}
