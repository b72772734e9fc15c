package history

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewRouter serves the projected documents at GET /history/{orderID}.
func NewRouter(repo Repository, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/history/{orderID}", func(w http.ResponseWriter, req *http.Request) {
		orderID := chi.URLParam(req, "orderID")
		if _, err := uuid.Parse(orderID); err != nil {
			respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_argument", Message: "order id must be a uuid"})
			return
		}

		doc, err := repo.Get(req.Context(), orderID)
		if errors.Is(err, ErrNotFound) {
			respondJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: err.Error()})
			return
		}
		if err != nil {
			log.ErrorContext(req.Context(), "order history lookup failed", "order_id", orderID, "error", err)
			respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error", Message: "internal server error"})
			return
		}
		respondJSON(w, http.StatusOK, doc)
	})
	return r
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
