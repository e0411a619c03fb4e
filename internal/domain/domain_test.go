package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusTransitions(t *testing.T) {
	assert.True(t, OrderStatusPaid.CanTransitionFrom(OrderStatusPending))
	assert.True(t, OrderStatusDelivered.CanTransitionFrom(OrderStatusPaid))
	assert.True(t, OrderStatusFailed.CanTransitionFrom(OrderStatusPending))

	assert.False(t, OrderStatusPending.CanTransitionFrom(OrderStatusPaid))
	assert.False(t, OrderStatusDelivered.CanTransitionFrom(OrderStatusPending))
	assert.False(t, OrderStatusFailed.CanTransitionFrom(OrderStatusPaid))
}

func TestLinesTotal(t *testing.T) {
	lines := []OrderLine{
		{ProductID: "a", Quantity: 2, UnitPrice: decimal.RequireFromString("5.00")},
		{ProductID: "b", Quantity: 3, UnitPrice: decimal.RequireFromString("0.34")},
	}
	assert.Equal(t, "11.02", LinesTotal(lines).StringFixed(2))
}

func TestLineValueRoundsHalfUp(t *testing.T) {
	assert.Equal(t, "0.02", LineValue(decimal.RequireFromString("0.005"), 3).StringFixed(2))
	assert.Equal(t, "0.01", LineValue(decimal.RequireFromString("0.005"), 1).StringFixed(2))
}

func TestNewOrderCreatedEvent(t *testing.T) {
	createdAt := time.Date(2024, 11, 17, 10, 0, 0, 0, time.UTC)
	order := &Order{
		ID:     "order-1",
		UserID: "user-1",
		Lines: []OrderLine{
			{ProductID: "p-1", ProductName: "E-book", Quantity: 2, UnitPrice: decimal.RequireFromString("5.00")},
		},
		TotalAmount: decimal.RequireFromString("10.00"),
		CreatedAt:   createdAt,
	}

	event := NewOrderCreatedEvent(order)

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "order-1", decoded["id"])
	assert.Equal(t, "user-1", decoded["userId"])
	items := decoded["orderedItems"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "p-1", item["itemId"])
	assert.Equal(t, "E-book", item["itemName"])
	assert.EqualValues(t, 2, item["quantity"])
	assert.Equal(t, EventTypeOrderCreated, event.EventType())
	assert.Equal(t, "order-1", event.AggregateID())
}
