package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
	"gotest.tools/v3/assert"
)

func TestRouter_GetHistory(t *testing.T) {
	repo := newMemoryRepository()
	o := testOrder()
	_, err := repo.Apply(context.Background(), domain.NewOrderEvent(domain.EventOrderCreated, o, time.Now().UTC()))
	assert.NilError(t, err)
	h := NewRouter(repo, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history/"+o.ID.String(), nil))
	assert.Equal(t, rec.Code, http.StatusOK)

	var doc OrderHistory
	assert.NilError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, doc.OrderNumber, o.OrderNumber)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history/"+uuid.NewString(), nil))
	assert.Equal(t, rec.Code, http.StatusNotFound)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history/not-a-uuid", nil))
	assert.Equal(t, rec.Code, http.StatusBadRequest)
}
