package http

import (
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

type RouterConfig struct {
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	CheckoutLimiter    *rate.Limiter
	Metrics            *metrics.Metrics
}

func NewRouter(cfg RouterConfig, carts *CartHandler, orders *OrdersHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.Compress(5))
	if cfg.MaxRequestBodySize > 0 {
		r.Use(middleware.RequestSize(cfg.MaxRequestBodySize))
	}
	r.Use(Instrument(cfg.Metrics))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart/{user_id}", func(r chi.Router) {
			r.Get("/", carts.GetCart)
			r.Delete("/", carts.ClearCart)
			r.Get("/total", carts.GetTotal)
			r.Get("/count", carts.GetCount)
			r.Get("/validate", carts.Validate)
			r.Post("/items", carts.AddItem)
			r.Put("/items/{product_id}", carts.UpdateQuantity)
			r.Delete("/items/{product_id}", carts.RemoveItem)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", orders.ListOrders)
			r.With(checkoutLimit(cfg.CheckoutLimiter)).Post("/create-from-cart", orders.CreateFromCart)
			r.Get("/number/{order_number}", orders.GetByNumber)
			r.Get("/user/{user_id}", orders.ListByUser)
			r.Get("/user/{user_id}/count", orders.CountByUser)
			r.Get("/status/{status}", orders.ListByStatus)
			r.Get("/status/{status}/count", orders.CountByStatus)
			r.Route("/{order_id}", func(r chi.Router) {
				r.Get("/", orders.GetOrder)
				r.Get("/items", orders.GetOrderItems)
				r.Patch("/status", orders.UpdateStatus)
				r.Patch("/payment-status", orders.UpdatePaymentStatus)
				r.Delete("/cancel", orders.CancelOrder)
			})
		})
	})

	return otelhttp.NewHandler(r, "storefront")
}

func checkoutLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	if limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return RateLimit(limiter)
}
