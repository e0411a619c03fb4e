package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/shoplite/internal/apperror"
	"github.com/joao-fontenele/shoplite/internal/auth"
	"github.com/joao-fontenele/shoplite/internal/domain"
	"github.com/joao-fontenele/shoplite/internal/messaging"
)

type ledgerKey struct{ order, product string }

// memStock mirrors the ledger semantics of StockRepository.
type memStock struct {
	products map[string]*domain.Product
	ledger   map[ledgerKey]domain.StockMovement
}

func (s *memStock) ApplyOrder(_ context.Context, orderID string, lines []Line) (*ApplyResult, error) {
	for _, l := range lines {
		if _, ok := s.products[l.ProductID]; !ok {
			return nil, apperror.NotFound("product %s not found", l.ProductID)
		}
	}

	res := &ApplyResult{}
	for _, l := range lines {
		p := s.products[l.ProductID]
		key := ledgerKey{orderID, l.ProductID}
		switch _, seen := s.ledger[key]; {
		case seen:
			res.Duplicates++
		case p.Stock < l.Quantity:
			s.ledger[key] = domain.StockMovement{OrderID: orderID, ProductID: l.ProductID, Quantity: l.Quantity}
			res.Skipped++
		default:
			s.ledger[key] = domain.StockMovement{OrderID: orderID, ProductID: l.ProductID, Quantity: l.Quantity, Applied: true}
			p.Stock -= l.Quantity
			res.Applied++
		}
		res.Products = append(res.Products, *p)
	}
	return res, nil
}

func (s *memStock) Movements(_ context.Context, orderID string) ([]domain.StockMovement, error) {
	var out []domain.StockMovement
	for k, m := range s.ledger {
		if k.order == orderID {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil, apperror.NotFound("no stock movements for order %s", orderID)
	}
	return out, nil
}

type fakePublisher struct {
	err    error
	events []domain.ProductUpdatedEvent
}

func (p *fakePublisher) Publish(_ context.Context, _, _ string, event domain.Event, _ ...messaging.PublishOption) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event.(domain.ProductUpdatedEvent))
	return nil
}

func orderDelivery(t *testing.T, evt domain.OrderCreatedEvent) messaging.Delivery {
	t.Helper()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	return messaging.Delivery{
		Exchange:   domain.ExchangeOrderEvents,
		RoutingKey: domain.RoutingKeyOrderCreated,
		Envelope:   domain.Envelope{Type: domain.EventTypeOrderCreated, Payload: payload, EmittedAt: time.Now()},
	}
}

func setup(stock int) (*Consumer, *memStock, *fakePublisher, string) {
	productID := uuid.NewString()
	store := &memStock{
		products: map[string]*domain.Product{
			productID: {ID: productID, Name: "Widget", Price: decimal.NewFromInt(10), Stock: stock},
		},
		ledger: map[ledgerKey]domain.StockMovement{},
	}
	pub := &fakePublisher{}
	return NewConsumer(store, pub, slog.New(slog.NewTextHandler(io.Discard, nil))), store, pub, productID
}

func TestConsumer_RedeliveryDoesNotDecrementTwice(t *testing.T) {
	c, store, pub, productID := setup(10)
	d := orderDelivery(t, domain.OrderCreatedEvent{
		ID:           uuid.NewString(),
		OrderedItems: []domain.OrderedItem{{ItemID: productID, ItemName: "Widget", Quantity: 3}},
	})

	require.NoError(t, c.Handle(context.Background(), d))
	d.Attempt = 1
	require.NoError(t, c.Handle(context.Background(), d))

	assert.Equal(t, 7, store.products[productID].Stock)
	require.Len(t, pub.events, 2)
	assert.Equal(t, 7, pub.events[0].Stock)
	assert.Equal(t, 7, pub.events[1].Stock)
}

func TestConsumer_InsufficientStockIsSkipped(t *testing.T) {
	c, store, pub, productID := setup(2)
	orderID := uuid.NewString()
	d := orderDelivery(t, domain.OrderCreatedEvent{
		ID:           orderID,
		OrderedItems: []domain.OrderedItem{{ItemID: productID, Quantity: 5}},
	})

	require.NoError(t, c.Handle(context.Background(), d))

	assert.Equal(t, 2, store.products[productID].Stock)
	assert.False(t, store.ledger[ledgerKey{orderID, productID}].Applied)
	require.Len(t, pub.events, 1)
	assert.Equal(t, 2, pub.events[0].Stock)
}

func TestConsumer_MergesRepeatedItems(t *testing.T) {
	c, store, _, productID := setup(10)
	d := orderDelivery(t, domain.OrderCreatedEvent{
		ID: uuid.NewString(),
		OrderedItems: []domain.OrderedItem{
			{ItemID: productID, Quantity: 2},
			{ItemID: productID, Quantity: 3},
		},
	})

	require.NoError(t, c.Handle(context.Background(), d))
	assert.Equal(t, 5, store.products[productID].Stock)
}

func TestConsumer_Errors(t *testing.T) {
	t.Run("unknown product is permanent", func(t *testing.T) {
		c, store, pub, productID := setup(10)
		d := orderDelivery(t, domain.OrderCreatedEvent{
			ID: uuid.NewString(),
			OrderedItems: []domain.OrderedItem{
				{ItemID: productID, Quantity: 1},
				{ItemID: uuid.NewString(), Quantity: 1},
			},
		})

		err := c.Handle(context.Background(), d)
		assert.True(t, apperror.IsPermanent(err))
		assert.Equal(t, 10, store.products[productID].Stock)
		assert.Empty(t, pub.events)
	})

	t.Run("malformed payload is permanent", func(t *testing.T) {
		c, _, _, _ := setup(10)
		d := messaging.Delivery{Envelope: domain.Envelope{Type: domain.EventTypeOrderCreated, Payload: []byte(`{"id":`)}}
		assert.True(t, apperror.IsPermanent(c.Handle(context.Background(), d)))
	})

	t.Run("no items is permanent", func(t *testing.T) {
		c, _, _, _ := setup(10)
		d := orderDelivery(t, domain.OrderCreatedEvent{ID: uuid.NewString()})
		assert.True(t, apperror.IsPermanent(c.Handle(context.Background(), d)))
	})

	t.Run("non-uuid item is permanent", func(t *testing.T) {
		c, _, _, _ := setup(10)
		d := orderDelivery(t, domain.OrderCreatedEvent{
			ID:           uuid.NewString(),
			OrderedItems: []domain.OrderedItem{{ItemID: "sku-1", Quantity: 1}},
		})
		assert.True(t, apperror.IsPermanent(c.Handle(context.Background(), d)))
	})

	t.Run("publish failure is transient", func(t *testing.T) {
		c, store, pub, productID := setup(10)
		pub.err = errors.New("broker down")
		d := orderDelivery(t, domain.OrderCreatedEvent{
			ID:           uuid.NewString(),
			OrderedItems: []domain.OrderedItem{{ItemID: productID, Quantity: 4}},
		})

		err := c.Handle(context.Background(), d)
		require.Error(t, err)
		assert.False(t, apperror.IsPermanent(err))

		pub.err = nil
		require.NoError(t, c.Handle(context.Background(), d))
		assert.Equal(t, 6, store.products[productID].Stock)
		require.Len(t, pub.events, 1)
		assert.Equal(t, 6, pub.events[0].Stock)
	})
}

func TestHandler_HandleListMovements(t *testing.T) {
	c, store, _, productID := setup(10)
	orderID := uuid.NewString()
	require.NoError(t, c.Handle(context.Background(), orderDelivery(t, domain.OrderCreatedEvent{
		ID:           orderID,
		OrderedItems: []domain.OrderedItem{{ItemID: productID, Quantity: 1}},
	})))

	v := auth.NewVerifier("secret")
	h := NewHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	h.Routes(mux, v)

	bearer := func(role auth.Role) string {
		token, err := v.Sign(auth.Identity{UserID: uuid.NewString(), Role: role},
			jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
		require.NoError(t, err)
		return "Bearer " + token
	}
	get := func(id, authorization string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/stock/"+id+"/movements", nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	rec := get(orderID, bearer(auth.RoleAdmin))
	require.Equal(t, http.StatusOK, rec.Code)

	var movements []domain.StockMovement
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&movements))
	require.Len(t, movements, 1)
	assert.True(t, movements[0].Applied)

	assert.Equal(t, http.StatusNotFound, get(uuid.NewString(), bearer(auth.RoleAdmin)).Code)
	assert.Equal(t, http.StatusForbidden, get(orderID, "").Code)
	assert.Equal(t, http.StatusForbidden, get(orderID, bearer(auth.RoleCustomer)).Code)
}
