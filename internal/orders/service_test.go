package orders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/shoplite/internal/apperror"
	"github.com/joao-fontenele/shoplite/internal/auth"
	"github.com/joao-fontenele/shoplite/internal/domain"
	"github.com/joao-fontenele/shoplite/internal/messaging"
)

type memStore struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	// failPaid makes the next n PAID updates fail.
	failPaid int
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[string]*domain.Order)}
}

func clone(o *domain.Order) *domain.Order {
	c := *o
	c.Lines = slices.Clone(o.Lines)
	return &c
}

func (s *memStore) Create(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = clone(order)
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperror.NotFound("order %s not found", id)
	}
	return clone(o), nil
}

func (s *memStore) ListByUser(_ context.Context, userID string) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *clone(o))
		}
	}
	return out, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id string, status domain.OrderStatus, paymentID *string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperror.NotFound("order %s not found", id)
	}
	if status == domain.OrderStatusPaid && s.failPaid > 0 {
		s.failPaid--
		return nil, errors.New("connection reset")
	}
	if !status.CanTransitionFrom(o.Status) {
		return nil, apperror.Conflict("order %s is %s", id, o.Status)
	}
	o.Status = status
	if paymentID != nil {
		o.PaymentID = paymentID
	}
	return clone(o), nil
}

type fakeCharger struct {
	err   error
	calls []chargeCall
}

type chargeCall struct {
	amount decimal.Decimal
	payee  string
	key    string
}

func (c *fakeCharger) Charge(_ context.Context, amount decimal.Decimal, payee, key string) (string, error) {
	c.calls = append(c.calls, chargeCall{amount, payee, key})
	if c.err != nil {
		return "", c.err
	}
	return "ch_1", nil
}

type fakeDeliverer struct {
	err   error
	calls int
}

func (d *fakeDeliverer) Deliver(context.Context, *domain.Order, string) error {
	d.calls++
	return d.err
}

type published struct {
	exchange   string
	routingKey string
	event      domain.Event
	opts       int
}

type fakePublisher struct {
	err    error
	events []published
}

func (p *fakePublisher) Publish(_ context.Context, exchange, routingKey string, event domain.Event, opts ...messaging.PublishOption) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, published{exchange, routingKey, event, len(opts)})
	return nil
}

type fixture struct {
	workflow  *Workflow
	store     *memStore
	charger   *fakeCharger
	deliverer *fakeDeliverer
	publisher *fakePublisher
}

func newFixture() *fixture {
	f := &fixture{
		store:     newMemStore(),
		charger:   &fakeCharger{},
		deliverer: &fakeDeliverer{},
		publisher: &fakePublisher{},
	}
	f.workflow = NewWorkflow(f.store, f.charger, f.deliverer, f.publisher, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

var customer = auth.Identity{UserID: "5c0b8b5e-6f1c-4c8e-9d7a-1f2e3d4c5b6a", Email: "jane@example.com", Role: auth.RoleCustomer}

const productID = "8a1b7c6d-5e4f-4a3b-9c2d-1e0f9a8b7c6d"

func tenDollarOrder() CreateOrderInput {
	return CreateOrderInput{
		Items:       []ItemInput{{ProductID: productID, Name: "E-book", Quantity: 2, Price: decimal.RequireFromString("5.00")}},
		TotalAmount: decimal.RequireFromString("10.00"),
	}
}

func TestCreateOrder_Success(t *testing.T) {
	f := newFixture()

	order, err := f.workflow.CreateOrder(context.Background(), customer, tenDollarOrder())
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusDelivered, order.Status)
	require.NotNil(t, order.PaymentID)
	assert.Equal(t, "ch_1", *order.PaymentID)

	require.Len(t, f.charger.calls, 1)
	assert.True(t, f.charger.calls[0].amount.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "jane@example.com", f.charger.calls[0].payee)
	assert.Equal(t, order.ID, f.charger.calls[0].key)

	require.Len(t, f.publisher.events, 1)
	pub := f.publisher.events[0]
	assert.Equal(t, domain.ExchangeOrderEvents, pub.exchange)
	assert.Equal(t, domain.RoutingKeyOrderCreated, pub.routingKey)
	assert.Equal(t, 1, pub.opts)

	evt, ok := pub.event.(domain.OrderCreatedEvent)
	require.True(t, ok)
	assert.Equal(t, order.ID, evt.ID)
	assert.Equal(t, customer.UserID, evt.UserID)
	assert.True(t, evt.TotalAmount.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, []domain.OrderedItem{{ItemID: productID, ItemName: "E-book", Quantity: 2}}, evt.OrderedItems)
}

func TestCreateOrder_PaymentFailure(t *testing.T) {
	f := newFixture()
	f.charger.err = errors.New("card declined")

	order, err := f.workflow.CreateOrder(context.Background(), customer, tenDollarOrder())

	require.Error(t, err)
	assert.Nil(t, order)
	assert.True(t, apperror.IsKind(err, apperror.KindPaymentFailed))
	assert.Empty(t, f.publisher.events)
	assert.Zero(t, f.deliverer.calls)

	stored, err := f.store.ListByUser(context.Background(), customer.UserID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, domain.OrderStatusFailed, stored[0].Status)
	assert.Nil(t, stored[0].PaymentID)
}

func TestCreateOrder_DeliveryFailureStaysPaid(t *testing.T) {
	f := newFixture()
	f.deliverer.err = errors.New("email service unavailable")

	order, err := f.workflow.CreateOrder(context.Background(), customer, tenDollarOrder())

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
	assert.Len(t, f.publisher.events, 1)
}

func TestCreateOrder_PublishFailureStillReturnsOrder(t *testing.T) {
	f := newFixture()
	f.publisher.err = errors.New("broker down")

	order, err := f.workflow.CreateOrder(context.Background(), customer, tenDollarOrder())

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, order.Status)
}

func TestCreateOrder_Validation(t *testing.T) {
	tests := []struct {
		name  string
		input func() CreateOrderInput
	}{
		{"no items", func() CreateOrderInput {
			in := tenDollarOrder()
			in.Items = nil
			return in
		}},
		{"zero quantity", func() CreateOrderInput {
			in := tenDollarOrder()
			in.Items[0].Quantity = 0
			return in
		}},
		{"non positive price", func() CreateOrderInput {
			in := tenDollarOrder()
			in.Items[0].Price = decimal.Zero
			return in
		}},
		{"total mismatch", func() CreateOrderInput {
			in := tenDollarOrder()
			in.TotalAmount = decimal.RequireFromString("9.99")
			return in
		}},
		{"sub-cent price", func() CreateOrderInput {
			in := tenDollarOrder()
			in.Items = []ItemInput{{ProductID: productID, Name: "Sticker", Quantity: 3, Price: decimal.RequireFromString("0.335")}}
			in.TotalAmount = decimal.RequireFromString("1.01")
			return in
		}},
		{"product id not a uuid", func() CreateOrderInput {
			in := tenDollarOrder()
			in.Items[0].ProductID = "abc"
			return in
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.workflow.CreateOrder(context.Background(), customer, tt.input())

			assert.True(t, apperror.IsKind(err, apperror.KindValidation), "got %v", err)
			assert.Empty(t, f.charger.calls)
			assert.Empty(t, f.store.orders)
		})
	}
}

func TestCreateOrder_TrailingZeroPriceAccepted(t *testing.T) {
	f := newFixture()
	in := tenDollarOrder()
	in.Items[0].Price = decimal.RequireFromString("5.000")

	order, err := f.workflow.CreateOrder(context.Background(), customer, in)

	require.NoError(t, err)
	assert.True(t, domain.LinesTotal(order.Lines).Equal(order.TotalAmount))
}

func TestCreateOrder_MarkPaidRetriedOnce(t *testing.T) {
	f := newFixture()
	f.store.failPaid = 1

	order, err := f.workflow.CreateOrder(context.Background(), customer, tenDollarOrder())

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, order.Status)
	assert.Len(t, f.charger.calls, 1)
}

func TestCreateOrder_MarkPaidFailsTwice(t *testing.T) {
	f := newFixture()
	f.store.failPaid = 2

	order, err := f.workflow.CreateOrder(context.Background(), customer, tenDollarOrder())

	require.Error(t, err)
	assert.Nil(t, order)
	assert.Len(t, f.charger.calls, 1)
	assert.Empty(t, f.publisher.events)

	stored, err := f.store.ListByUser(context.Background(), customer.UserID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, domain.OrderStatusPending, stored[0].Status)
}

func TestGetOrderByID(t *testing.T) {
	f := newFixture()
	order, err := f.workflow.CreateOrder(context.Background(), customer, tenDollarOrder())
	require.NoError(t, err)

	got, err := f.workflow.GetOrderByID(context.Background(), customer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	other := auth.Identity{UserID: "0f0e0d0c-0b0a-4909-8807-060504030201", Role: auth.RoleCustomer}
	_, err = f.workflow.GetOrderByID(context.Background(), other, order.ID)
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))

	admin := auth.Identity{UserID: other.UserID, Role: auth.RoleAdmin}
	_, err = f.workflow.GetOrderByID(context.Background(), admin, order.ID)
	assert.NoError(t, err)

	_, err = f.workflow.GetOrderByID(context.Background(), customer, "not-a-uuid")
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}

func TestGetUserOrders_EmptyIsNotFound(t *testing.T) {
	f := newFixture()
	_, err := f.workflow.GetUserOrders(context.Background(), customer)
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
}
