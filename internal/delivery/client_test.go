package delivery

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/shoplite/internal/domain"
)

func testOrder() *domain.Order {
	return &domain.Order{
		ID:          "o-1",
		TotalAmount: decimal.RequireFromString("20"),
		Lines: []domain.OrderLine{
			{ProductID: "p-1", ProductName: "E-book", Quantity: 2, UnitPrice: decimal.RequireFromString("10")},
		},
	}
}

func TestClient_Deliver(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("posts message to /send", func(t *testing.T) {
		var got Message
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/send", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		c := NewClient(server.URL, server.Client(), Settings{}, logger)
		require.NoError(t, c.Deliver(context.Background(), testOrder(), "jane@example.com"))

		assert.Equal(t, "jane@example.com", got.To)
		assert.Equal(t, "Your order o-1", got.Subject)
		assert.Contains(t, got.Body, "total 20.00")
		assert.Contains(t, got.Body, "E-book x2")
	})

	t.Run("opens after consecutive failures", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		c := NewClient(server.URL, server.Client(), Settings{MaxFailures: 2, OpenTimeout: time.Minute}, logger)
		for range 2 {
			assert.Error(t, c.Deliver(context.Background(), testOrder(), "jane@example.com"))
		}

		err := c.Deliver(context.Background(), testOrder(), "jane@example.com")
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
		assert.Equal(t, int32(2), hits.Load())
	})
}
