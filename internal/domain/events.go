package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Exchanges and routing keys of the event catalog.
const (
	ExchangeOrderEvents   = "order-events"
	ExchangeProductEvents = "product-events"
	ExchangeAuthEvents    = "auth-events"

	RoutingKeyOrderCreated   = "order-created-queue"
	RoutingKeyProductCreated = "product.created"
	RoutingKeyProductUpdated = "product.updated"
	RoutingKeyProductDeleted = "product.deleted"
	RoutingKeyUserCreated    = "user.created"
	RoutingKeyUserUpdated    = "user.updated"
	RoutingKeyUserDeleted    = "user.deleted"
)

// Event type names carried in the envelope.
const (
	EventTypeOrderCreated   = "OrderCreated"
	EventTypeProductCreated = "ProductCreated"
	EventTypeProductUpdated = "ProductUpdated"
	EventTypeProductDeleted = "ProductDeleted"
	EventTypeUserCreated    = "UserCreated"
	EventTypeUserUpdated    = "UserUpdated"
	EventTypeUserDeleted    = "UserDeleted"
)

// Envelope wraps every payload put on the broker.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	EmittedAt time.Time       `json:"emittedAt"`
}

// Event is implemented by every payload in the catalog.
type Event interface {
	EventType() string
	AggregateID() string
}

type OrderedItem struct {
	ItemID   string `json:"itemId"`
	ItemName string `json:"itemName"`
	Quantity int    `json:"quantity"`
}

type OrderCreatedEvent struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	OrderedItems []OrderedItem   `json:"orderedItems"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func (e OrderCreatedEvent) EventType() string   { return EventTypeOrderCreated }
func (e OrderCreatedEvent) AggregateID() string { return e.ID }

func NewOrderCreatedEvent(o *Order) OrderCreatedEvent {
	items := make([]OrderedItem, 0, len(o.Lines))
	for _, l := range o.Lines {
		items = append(items, OrderedItem{ItemID: l.ProductID, ItemName: l.ProductName, Quantity: l.Quantity})
	}
	return OrderCreatedEvent{
		ID:           o.ID,
		UserID:       o.UserID,
		OrderedItems: items,
		TotalAmount:  o.TotalAmount,
		CreatedAt:    o.CreatedAt,
	}
}

type ProductCreatedEvent struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	CategoryID  string          `json:"categoryId"`
	Stock       int             `json:"stock"`
	Price       decimal.Decimal `json:"price"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (e ProductCreatedEvent) EventType() string   { return EventTypeProductCreated }
func (e ProductCreatedEvent) AggregateID() string { return e.ID }

type ProductUpdatedEvent struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (e ProductUpdatedEvent) EventType() string   { return EventTypeProductUpdated }
func (e ProductUpdatedEvent) AggregateID() string { return e.ID }

func NewProductUpdatedEvent(p *Product) ProductUpdatedEvent {
	return ProductUpdatedEvent{ID: p.ID, Name: p.Name, Price: p.Price, Stock: p.Stock, UpdatedAt: p.UpdatedAt}
}

type ProductDeletedEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func (e ProductDeletedEvent) EventType() string   { return EventTypeProductDeleted }
func (e ProductDeletedEvent) AggregateID() string { return e.ID }

type UserCreatedEvent struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func (e UserCreatedEvent) EventType() string   { return EventTypeUserCreated }
func (e UserCreatedEvent) AggregateID() string { return e.UserID }

type UserUpdatedEvent struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (e UserUpdatedEvent) EventType() string   { return EventTypeUserUpdated }
func (e UserUpdatedEvent) AggregateID() string { return e.UserID }

type UserDeletedEvent struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	DeletedAt time.Time `json:"deletedAt"`
}

func (e UserDeletedEvent) EventType() string   { return EventTypeUserDeleted }
func (e UserDeletedEvent) AggregateID() string { return e.UserID }
