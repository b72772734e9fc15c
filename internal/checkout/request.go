package checkout

import (
	"fmt"
	"strings"

	"github.com/fjod/storefront/internal/domain"
)

type Request struct {
	UserID          string `json:"user_id"`
	ShippingAddress string `json:"shipping_address"`
	BillingAddress  string `json:"billing_address,omitempty"`
	PaymentMethod   string `json:"payment_method,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// normalize trims the request, fills the billing address from the shipping
// address and rejects what cannot become an order.
func (r *Request) normalize() error {
	r.UserID = strings.TrimSpace(r.UserID)
	r.ShippingAddress = strings.TrimSpace(r.ShippingAddress)
	r.BillingAddress = strings.TrimSpace(r.BillingAddress)
	r.PaymentMethod = strings.TrimSpace(r.PaymentMethod)

	if r.UserID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	if r.ShippingAddress == "" {
		return fmt.Errorf("%w: shipping address is required", domain.ErrInvalidArgument)
	}
	if len(r.PaymentMethod) > domain.MaxPaymentMethodLength {
		return fmt.Errorf("%w: payment method longer than %d characters", domain.ErrInvalidArgument, domain.MaxPaymentMethodLength)
	}
	if r.BillingAddress == "" {
		r.BillingAddress = r.ShippingAddress
	}
	return nil
}
