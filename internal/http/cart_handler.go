package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type CartService interface {
	Summarize(ctx context.Context, userID string) (domain.CartSummary, error)
	AddItem(ctx context.Context, userID string, productID int64, quantity int) error
	UpdateItem(ctx context.Context, userID string, productID int64, quantity int) error
	RemoveItem(ctx context.Context, userID string, productID int64) error
	Clear(ctx context.Context, userID string) error
	ValidateStock(ctx context.Context, userID string) (bool, error)
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
	log     *slog.Logger
}

func NewCartHandler(carts CartService, timeout time.Duration, log *slog.Logger) *CartHandler {
	if log == nil {
		log = slog.Default()
	}
	return &CartHandler{carts: carts, timeout: timeout, log: log}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type CartTotalDTO struct {
	UserID   string          `json:"user_id"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type CartCountDTO struct {
	UserID    string `json:"user_id"`
	ItemCount int    `json:"item_count"`
}

type CartValidationDTO struct {
	UserID string `json:"user_id"`
	Valid  bool   `json:"valid"`
}

// GET /api/v1/cart/{user_id}
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.withSummary(w, r, func(userID string, s domain.CartSummary) interface{} {
		s.UserID = userID
		return s
	})
}

// GET /api/v1/cart/{user_id}/total
func (h *CartHandler) GetTotal(w http.ResponseWriter, r *http.Request) {
	h.withSummary(w, r, func(userID string, s domain.CartSummary) interface{} {
		return CartTotalDTO{UserID: userID, Subtotal: s.Subtotal}
	})
}

// GET /api/v1/cart/{user_id}/count
func (h *CartHandler) GetCount(w http.ResponseWriter, r *http.Request) {
	h.withSummary(w, r, func(userID string, s domain.CartSummary) interface{} {
		return CartCountDTO{UserID: userID, ItemCount: s.ItemCount}
	})
}

func (h *CartHandler) withSummary(w http.ResponseWriter, r *http.Request, view func(string, domain.CartSummary) interface{}) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	summary, err := h.carts.Summarize(ctx, userID)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, view(userID, summary))
}

// GET /api/v1/cart/{user_id}/validate
func (h *CartHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	valid, err := h.carts.ValidateStock(ctx, userID)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, CartValidationDTO{UserID: userID, Valid: valid})
}

// POST /api/v1/cart/{user_id}/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}

	if err := h.carts.AddItem(ctx, userID, req.ProductID, req.Quantity); err != nil {
		handleError(w, r, h.log, err)
		return
	}
	h.respondCart(ctx, w, r, userID, http.StatusCreated)
}

// PUT /api/v1/cart/{user_id}/items/{product_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if err := h.carts.UpdateItem(ctx, userID, productID, req.Quantity); err != nil {
		handleError(w, r, h.log, err)
		return
	}
	h.respondCart(ctx, w, r, userID, http.StatusOK)
}

// DELETE /api/v1/cart/{user_id}/items/{product_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	if err := h.carts.RemoveItem(ctx, userID, productID); err != nil {
		handleError(w, r, h.log, err)
		return
	}
	h.respondCart(ctx, w, r, userID, http.StatusOK)
}

// DELETE /api/v1/cart/{user_id}
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	if err := h.carts.Clear(ctx, userID); err != nil {
		handleError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) respondCart(ctx context.Context, w http.ResponseWriter, r *http.Request, userID string, status int) {
	summary, err := h.carts.Summarize(ctx, userID)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	summary.UserID = userID
	respondJSON(w, status, summary)
}

func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(chi.URLParam(r, "user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return "", false
	}
	return userID, true
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return 0, false
	}
	return productID, true
}
