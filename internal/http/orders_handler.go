package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (*domain.Order, error)
}

type OrderService interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetByNumber(ctx context.Context, number string) (*domain.Order, error)
	Items(ctx context.Context, id uuid.UUID) ([]domain.OrderItem, error)
	List(ctx context.Context, page domain.Page) ([]domain.Order, int, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	ListByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	CountByStatus(ctx context.Context, status domain.OrderStatus) (int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) (*domain.Order, error)
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status domain.PaymentStatus) (*domain.Order, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Order, error)
}

type OrdersHandler struct {
	checkout Checkouter
	orders   OrderService
	timeout  time.Duration
	log      *slog.Logger
}

func NewOrdersHandler(c Checkouter, orders OrderService, timeout time.Duration, log *slog.Logger) *OrdersHandler {
	if log == nil {
		log = slog.Default()
	}
	return &OrdersHandler{checkout: c, orders: orders, timeout: timeout, log: log}
}

type UpdateStatusRequestDTO struct {
	Status string `json:"status"`
}

type UpdatePaymentStatusRequestDTO struct {
	PaymentStatus string `json:"payment_status"`
}

type OrderListDTO struct {
	Orders []domain.Order `json:"orders"`
	Page   int            `json:"page"`
	Size   int            `json:"size"`
	Total  int            `json:"total"`
}

type CountDTO struct {
	Count int `json:"count"`
}

// POST /api/v1/orders/create-from-cart
func (h *OrdersHandler) CreateFromCart(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	order, err := h.checkout.Checkout(r.Context(), req)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

// GET /api/v1/orders?page=0&size=20
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	page, ok := queryInt(w, r, "page", 0)
	if !ok {
		return
	}
	size, ok := queryInt(w, r, "size", 0)
	if !ok {
		return
	}

	orders, total, err := h.orders.List(ctx, domain.Page{Number: page, Size: size})
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, OrderListDTO{Orders: orders, Page: page, Size: len(orders), Total: total})
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	order, err := h.orders.Get(ctx, id)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// GET /api/v1/orders/{order_id}/items
func (h *OrdersHandler) GetOrderItems(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	items, err := h.orders.Items(ctx, id)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

// GET /api/v1/orders/number/{order_number}
func (h *OrdersHandler) GetByNumber(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, err := h.orders.GetByNumber(ctx, chi.URLParam(r, "order_number"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// GET /api/v1/orders/user/{user_id}
func (h *OrdersHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	orders, err := h.orders.ListByUser(ctx, userID)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

// GET /api/v1/orders/user/{user_id}/count
func (h *OrdersHandler) CountByUser(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	n, err := h.orders.CountByUser(ctx, userID)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, CountDTO{Count: n})
}

// GET /api/v1/orders/status/{status}
func (h *OrdersHandler) ListByStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orders, err := h.orders.ListByStatus(ctx, statusParam(r))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

// GET /api/v1/orders/status/{status}/count
func (h *OrdersHandler) CountByStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	n, err := h.orders.CountByStatus(ctx, statusParam(r))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, CountDTO{Count: n})
}

// PATCH /api/v1/orders/{order_id}/status
//
// A CANCELLED target is a cancellation and restores stock, so it answers 409
// unless the order is PENDING or CONFIRMED. Leaving CANCELLED answers 409 too.
func (h *OrdersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req UpdateStatusRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	order, err := h.orders.UpdateStatus(ctx, id, status)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// PATCH /api/v1/orders/{order_id}/payment-status
func (h *OrdersHandler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req UpdatePaymentStatusRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	status := domain.PaymentStatus(strings.ToUpper(strings.TrimSpace(req.PaymentStatus)))
	order, err := h.orders.UpdatePaymentStatus(ctx, id, status)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// DELETE /api/v1/orders/{order_id}/cancel
func (h *OrdersHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Cancel(r.Context(), id)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "order_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

func statusParam(r *http.Request) domain.OrderStatus {
	return domain.OrderStatus(strings.ToUpper(chi.URLParam(r, "status")))
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_"+key, key+" must be an integer")
		return 0, false
	}
	return n, true
}
