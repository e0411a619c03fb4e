package carts

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/shoplite/internal/domain"
)

// Store runs cart work in a transaction. fn's changes are committed when it
// returns nil and discarded otherwise.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the unit of work over carts and their items. Lock methods hold the
// cart row until the transaction ends.
type Tx interface {
	// LockCart returns the user's cart or a NotFound error.
	LockCart(ctx context.Context, userID string) (*domain.Cart, error)
	// InsertCart returns a ConcurrencyConflict when the user already has one.
	InsertCart(ctx context.Context, cart *domain.Cart) error
	// LockCartsWithProduct locks every cart holding productID, in id order.
	LockCartsWithProduct(ctx context.Context, productID string) ([]string, error)
	SetTotal(ctx context.Context, cartID string, total decimal.Decimal) error

	Items(ctx context.Context, cartID string) ([]domain.CartItem, error)
	FindItem(ctx context.Context, cartID, itemID string) (*domain.CartItem, error)
	FindItemByProduct(ctx context.Context, cartID, productID string) (*domain.CartItem, error)
	InsertItem(ctx context.Context, item *domain.CartItem) error
	SaveItem(ctx context.Context, item *domain.CartItem) error
	DeleteItem(ctx context.Context, itemID string) error
	DeleteItems(ctx context.Context, cartID string) error
}
