package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crawlkit/prodstore/pkg/config"
	"github.com/crawlkit/prodstore/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *Client {
	return New(Config{
		BaseURL: baseURL,
		Timeout: time.Second,
		Resilience: config.ResilienceConfig{
			Retry: config.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond},
			CircuitBreaker: config.CircuitBreakerConfig{
				ConsecutiveFailures: 100,
				ErrorRatePercent:    100,
				OpenTimeout:         time.Second,
			},
		},
	})
}

func Test_Client_SaveProduct(t *testing.T) {
	// given
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/products", r.URL.Path)
		var rec model.Record
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rec))
		rec.ID = "p1"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		require.NoError(t, json.NewEncoder(w).Encode(rec))
	}))
	defer server.Close()
	c := newTestClient(server.URL)

	// when
	saved, err := c.SaveProduct(context.Background(), model.Record{Title: "Test Product"})

	// then
	require.NoError(t, err)
	assert.Equal(t, "p1", saved.ID)
	assert.Equal(t, "Test Product", saved.Title)
}

func Test_Client_SaveProducts(t *testing.T) {
	// given
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/products/batch", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ids":["p1","p2"]}`))
	}))
	defer server.Close()
	c := newTestClient(server.URL)

	// when
	ids, err := c.SaveProducts(context.Background(), []model.Record{{Title: "A"}, {Title: "B"}})

	// then
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, ids)
}

func Test_Client_GetProducts(t *testing.T) {
	// given
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/products/batch", r.URL.Path)
		assert.Equal(t, "p1,p2", r.URL.Query().Get("ids"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":"p1","title":"A"},{"id":"p2","title":"B"}]}`))
	}))
	defer server.Close()
	c := newTestClient(server.URL)

	// when
	records, err := c.GetProducts(context.Background(), []string{"p1", "p2"})

	// then
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "p1", records[0].ID)
	assert.Equal(t, "p2", records[1].ID)
}

func Test_Client_UpdateProducts(t *testing.T) {
	// given
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/products/batch", r.URL.Path)
		var recs []model.Record
		require.NoError(t, json.NewDecoder(r.Body).Decode(&recs))
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(batchItemsResponse{Items: recs}))
	}))
	defer server.Close()
	c := newTestClient(server.URL)

	// when
	updated, err := c.UpdateProducts(context.Background(), []model.Record{{ID: "p1", Title: "Renamed"}})

	// then
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, "Renamed", updated[0].Title)
}

func Test_Client_DeleteProducts(t *testing.T) {
	// given
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v1/products/batch", r.URL.Path)
		assert.Equal(t, "p1,p2", r.URL.Query().Get("ids"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()
	c := newTestClient(server.URL)

	// when
	err := c.DeleteProducts(context.Background(), []string{"p1", "p2"})

	// then
	assert.NoError(t, err)
}

func Test_Client_GetProduct_StatusMapping(t *testing.T) {
	testCases := []struct {
		name        string
		status      int
		expectError error
	}{
		{name: "not found", status: http.StatusNotFound, expectError: ErrNotFound},
		{name: "conflict", status: http.StatusConflict, expectError: ErrDuplicate},
		{name: "bad request", status: http.StatusBadRequest, expectError: ErrInvalid},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// given
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()
			c := newTestClient(server.URL)
			// when
			_, err := c.GetProduct(context.Background(), "p1")
			// then
			assert.ErrorIs(t, err, tc.expectError)
		})
	}
}

func Test_Client_DeleteProduct(t *testing.T) {
	// given
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v1/products/p1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()
	c := newTestClient(server.URL)

	// when
	err := c.DeleteProduct(context.Background(), "p1")

	// then
	assert.NoError(t, err)
}

func Test_Client_ListProducts(t *testing.T) {
	// given
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		assert.Equal(t, "Acme", query.Get("brand"))
		assert.Equal(t, "price", query.Get("sort_by"))
		assert.Equal(t, "desc", query.Get("sort_order"))
		assert.Equal(t, "5", query.Get("limit"))
		assert.Equal(t, "10", query.Get("offset"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":"p1","title":"Test Product"}],"total":42,"limit":5,"offset":10}`))
	}))
	defer server.Close()
	c := newTestClient(server.URL)

	// when
	result, err := c.ListProducts(context.Background(), ListOptions{
		Brand:     "Acme",
		SortBy:    "price",
		SortOrder: "desc",
		Limit:     5,
		Offset:    10,
	})

	// then
	require.NoError(t, err)
	assert.Equal(t, 42, result.Total)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "p1", result.Items[0].ID)
}

func Test_Client_RetriesServerErrors(t *testing.T) {
	// given: the first two attempts fail with 500, the third succeeds
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"id":"p1","title":"Test Product"}`))
	}))
	defer server.Close()
	c := newTestClient(server.URL)

	// when
	rec, err := c.GetProduct(context.Background(), "p1")

	// then
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func Test_Client_DomainErrorsAreNotRetried(t *testing.T) {
	// given
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()
	c := newTestClient(server.URL)

	// when
	_, err := c.GetProduct(context.Background(), "p1")

	// then
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func Test_Client_CircuitBreakerOpensAfterFailures(t *testing.T) {
	// given: a server that always fails and a breaker that trips quickly
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	c := New(Config{
		BaseURL: server.URL,
		Timeout: time.Second,
		Resilience: config.ResilienceConfig{
			Retry: config.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond},
			CircuitBreaker: config.CircuitBreakerConfig{
				ConsecutiveFailures: 2,
				ErrorRatePercent:    100,
				OpenTimeout:         time.Minute,
			},
		},
	})

	// when: enough failures to trip the breaker, then one more call
	for i := 0; i < 3; i++ {
		_, err := c.GetProduct(context.Background(), "p1")
		require.Error(t, err)
	}
	before := calls.Load()
	_, err := c.GetProduct(context.Background(), "p1")

	// then: the breaker is open and the server is not contacted again
	assert.Error(t, err)
	assert.Equal(t, before, calls.Load())
}
