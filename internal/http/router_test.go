package http

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/order"
	"github.com/fjod/storefront/internal/store/memstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type testAPI struct {
	handler http.Handler
	store   *memstore.Store
}

func newTestAPI(t *testing.T) *testAPI {
	return newTestAPIWithLimiter(t, rate.NewLimiter(rate.Inf, 1))
}

func newTestAPIWithLimiter(t *testing.T, limiter *rate.Limiter) *testAPI {
	t.Helper()
	s := memstore.New()
	carts := cart.NewService(s, nil, nil)
	engine := checkout.NewEngine(s, checkout.WithCartInvalidator(carts))
	lifecycle := order.NewLifecycle(s)

	h := NewRouter(RouterConfig{
		RequestTimeout:     5 * time.Second,
		MaxRequestBodySize: 1 << 20,
		CheckoutLimiter:    limiter,
		Metrics:            metrics.New(prometheus.NewRegistry()),
	},
		NewCartHandler(carts, 5*time.Second, nil),
		NewOrdersHandler(engine, lifecycle, 5*time.Second, nil),
	)
	return &testAPI{handler: h, store: s}
}

func (a *testAPI) product(t *testing.T, sku, price string, stock int) int64 {
	t.Helper()
	p := &domain.Product{SKU: sku, Name: sku, Price: decimal.RequireFromString(price), StockQuantity: stock, IsActive: true}
	require.NoError(t, a.store.Catalog().CreateProduct(context.Background(), p))
	return p.ID
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestCartEndpoints(t *testing.T) {
	api := newTestAPI(t)
	id := api.product(t, "MUG", "25.00", 10)

	rec := api.do(t, http.MethodPost, "/api/v1/cart/u1/items", AddItemRequestDTO{ProductID: id, Quantity: 3})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	summary := decode[domain.CartSummary](t, rec)
	assert.True(t, decimal.RequireFromString("75.00").Equal(summary.Subtotal))
	assert.Equal(t, 3, summary.ItemCount)

	rec = api.do(t, http.MethodGet, "/api/v1/cart/u1/total", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	total := decode[CartTotalDTO](t, rec)
	assert.True(t, decimal.RequireFromString("75").Equal(total.Subtotal))

	rec = api.do(t, http.MethodPut, "/api/v1/cart/u1/items/"+itoa(id), UpdateQuantityRequestDTO{Quantity: 5})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/cart/u1/count", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, decode[CartCountDTO](t, rec).ItemCount)

	rec = api.do(t, http.MethodGet, "/api/v1/cart/u1/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[CartValidationDTO](t, rec).Valid)

	rec = api.do(t, http.MethodDelete, "/api/v1/cart/u1/items/"+itoa(id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[domain.CartSummary](t, rec).Items)

	rec = api.do(t, http.MethodDelete, "/api/v1/cart/u1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCartEndpoints_Errors(t *testing.T) {
	api := newTestAPI(t)
	id := api.product(t, "MUG", "25.00", 2)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"unknown product", http.MethodPost, "/api/v1/cart/u1/items", AddItemRequestDTO{ProductID: 999, Quantity: 1}, http.StatusNotFound, "not_found"},
		{"zero quantity", http.MethodPost, "/api/v1/cart/u1/items", AddItemRequestDTO{ProductID: id, Quantity: 0}, http.StatusBadRequest, "invalid_argument"},
		{"quantity above ceiling", http.MethodPost, "/api/v1/cart/u1/items", AddItemRequestDTO{ProductID: id, Quantity: math.MaxInt}, http.StatusBadRequest, "invalid_argument"},
		{"over stock", http.MethodPost, "/api/v1/cart/u1/items", AddItemRequestDTO{ProductID: id, Quantity: 3}, http.StatusConflict, "insufficient_stock"},
		{"bad product id", http.MethodPost, "/api/v1/cart/u1/items", AddItemRequestDTO{ProductID: -1, Quantity: 1}, http.StatusBadRequest, "invalid_product_id"},
		{"bad path product", http.MethodDelete, "/api/v1/cart/u1/items/abc", nil, http.StatusBadRequest, "invalid_product_id"},
		{"missing line", http.MethodPut, "/api/v1/cart/u1/items/" + itoa(id), UpdateQuantityRequestDTO{Quantity: 1}, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestAddItem_InvalidJSON(t *testing.T) {
	api := newTestAPI(t)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cart/u1/items", strings.NewReader("{")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decode[ErrorResponse](t, rec).Code)
}

func TestOrderLifecycleEndpoints(t *testing.T) {
	api := newTestAPI(t)
	id := api.product(t, "MUG", "25.00", 10)
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/api/v1/cart/u1/items", AddItemRequestDTO{ProductID: id, Quantity: 3}).Code)

	rec := api.do(t, http.MethodPost, "/api/v1/orders/create-from-cart", checkout.Request{UserID: "u1", ShippingAddress: "1 Main St"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[domain.Order](t, rec)
	assert.Equal(t, domain.OrderStatusPending, created.Status)
	assert.Equal(t, "1 Main St", created.BillingAddress)
	assert.True(t, decimal.RequireFromString("75").Equal(created.TotalAmount))

	rec = api.do(t, http.MethodGet, "/api/v1/cart/u1/count", nil)
	assert.Equal(t, 0, decode[CartCountDTO](t, rec).ItemCount)

	orderPath := "/api/v1/orders/" + created.ID.String()

	rec = api.do(t, http.MethodGet, orderPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.OrderNumber, decode[domain.Order](t, rec).OrderNumber)

	rec = api.do(t, http.MethodGet, orderPath+"/items", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.OrderItem](t, rec), 1)

	rec = api.do(t, http.MethodGet, "/api/v1/orders/number/"+created.OrderNumber, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPatch, orderPath+"/status", UpdateStatusRequestDTO{Status: "confirmed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OrderStatusConfirmed, decode[domain.Order](t, rec).Status)

	rec = api.do(t, http.MethodPatch, orderPath+"/payment-status", UpdatePaymentStatusRequestDTO{PaymentStatus: "PAID"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PaymentStatusPaid, decode[domain.Order](t, rec).PaymentStatus)

	rec = api.do(t, http.MethodGet, "/api/v1/orders/status/confirmed/count", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[CountDTO](t, rec).Count)

	rec = api.do(t, http.MethodDelete, orderPath+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OrderStatusCancelled, decode[domain.Order](t, rec).Status)

	p, err := api.store.Catalog().GetProduct(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 10, p.StockQuantity)

	rec = api.do(t, http.MethodDelete, orderPath+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPatch, orderPath+"/status", UpdateStatusRequestDTO{Status: "SHIPPED"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/orders/user/u1/count", nil)
	assert.Equal(t, 1, decode[CountDTO](t, rec).Count)

	rec = api.do(t, http.MethodGet, "/api/v1/orders?page=0&size=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[OrderListDTO](t, rec)
	assert.Equal(t, 1, list.Total)
	assert.Len(t, list.Orders, 1)
}

func TestUpdateStatus_CancelAfterShippingConflicts(t *testing.T) {
	api := newTestAPI(t)
	id := api.product(t, "MUG", "25.00", 10)
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/api/v1/cart/u1/items", AddItemRequestDTO{ProductID: id, Quantity: 2}).Code)
	rec := api.do(t, http.MethodPost, "/api/v1/orders/create-from-cart", checkout.Request{UserID: "u1", ShippingAddress: "1 Main St"})
	require.Equal(t, http.StatusCreated, rec.Code)
	orderPath := "/api/v1/orders/" + decode[domain.Order](t, rec).ID.String()

	require.Equal(t, http.StatusOK, api.do(t, http.MethodPatch, orderPath+"/status", UpdateStatusRequestDTO{Status: "SHIPPED"}).Code)

	rec = api.do(t, http.MethodPatch, orderPath+"/status", UpdateStatusRequestDTO{Status: "CANCELLED"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decode[ErrorResponse](t, rec).Code)

	p, err := api.store.Catalog().GetProduct(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 8, p.StockQuantity, "stock stays with the shipped order")
}

func TestOrderEndpoints_Errors(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"empty cart", http.MethodPost, "/api/v1/orders/create-from-cart", checkout.Request{UserID: "u1", ShippingAddress: "x"}, http.StatusConflict, "empty_cart"},
		{"missing address", http.MethodPost, "/api/v1/orders/create-from-cart", checkout.Request{UserID: "u1"}, http.StatusBadRequest, "invalid_argument"},
		{"bad order id", http.MethodGet, "/api/v1/orders/not-a-uuid", nil, http.StatusBadRequest, "invalid_order_id"},
		{"unknown order", http.MethodGet, "/api/v1/orders/6f1c2a9e-8b0e-4d6c-9a51-3c1f4f1f0a11", nil, http.StatusNotFound, "not_found"},
		{"unknown status", http.MethodGet, "/api/v1/orders/status/LOST", nil, http.StatusBadRequest, "invalid_argument"},
		{"bad page", http.MethodGet, "/api/v1/orders?page=x", nil, http.StatusBadRequest, "invalid_page"},
		{"negative page", http.MethodGet, "/api/v1/orders?page=-1", nil, http.StatusBadRequest, "invalid_argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestCreateFromCart_RateLimited(t *testing.T) {
	// A zero rate with burst 1 admits exactly one request.
	api := newTestAPIWithLimiter(t, rate.NewLimiter(0, 1))

	first := api.do(t, http.MethodPost, "/api/v1/orders/create-from-cart", checkout.Request{UserID: "u1", ShippingAddress: "x"})
	assert.Equal(t, http.StatusConflict, first.Code)

	second := api.do(t, http.MethodPost, "/api/v1/orders/create-from-cart", checkout.Request{UserID: "u1", ShippingAddress: "x"})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decode[ErrorResponse](t, second).Code)

	other := api.do(t, http.MethodGet, "/api/v1/orders", nil)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	rec = api.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "storefront_http_requests_total")
	assert.Contains(t, rec.Body.String(), `route="/health"`)
}
