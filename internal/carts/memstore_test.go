package carts

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/shoplite/internal/apperror"
	"github.com/joao-fontenele/shoplite/internal/domain"
)

type memState struct {
	carts map[string]domain.Cart
	items map[string]domain.CartItem
}

func (s memState) clone() memState {
	return memState{carts: maps.Clone(s.carts), items: maps.Clone(s.items)}
}

// memStore serializes transactions and commits a copy of the state only when
// the transaction function succeeds.
type memStore struct {
	mu    sync.Mutex
	state memState

	// beforeInsertCart runs once inside InsertCart, simulating a concurrent
	// request that created the cart first.
	beforeInsertCart func(st *memState, userID string)
	failSetTotal     error
}

func newMemStore() *memStore {
	return &memStore{state: memState{carts: map[string]domain.Cart{}, items: map[string]domain.CartItem{}}}
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{store: m, st: m.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.state = tx.st
	return nil
}

func (m *memStore) snapshot() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

type memTx struct {
	store *memStore
	st    memState
}

func (t *memTx) LockCart(_ context.Context, userID string) (*domain.Cart, error) {
	for _, c := range t.st.carts {
		if c.UserID == userID {
			return &c, nil
		}
	}
	return nil, apperror.NotFound("cart for user %s not found", userID)
}

func (t *memTx) InsertCart(_ context.Context, c *domain.Cart) error {
	if hook := t.store.beforeInsertCart; hook != nil {
		t.store.beforeInsertCart = nil
		hook(&t.st, c.UserID)
	}
	for _, existing := range t.st.carts {
		if existing.UserID == c.UserID {
			return apperror.Conflict("cart for user %s already exists", c.UserID)
		}
	}
	t.st.carts[c.ID] = *c
	return nil
}

func (t *memTx) LockCartsWithProduct(_ context.Context, productID string) ([]string, error) {
	seen := map[string]bool{}
	for _, it := range t.st.items {
		if it.ProductID == productID {
			seen[it.CartID] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (t *memTx) SetTotal(_ context.Context, cartID string, total decimal.Decimal) error {
	if t.store.failSetTotal != nil {
		return t.store.failSetTotal
	}
	if total.IsNegative() {
		return errors.New("check constraint carts_total_check violated")
	}
	c, ok := t.st.carts[cartID]
	if !ok {
		return errors.New("no such cart")
	}
	c.Total = total
	t.st.carts[cartID] = c
	return nil
}

func (t *memTx) Items(_ context.Context, cartID string) ([]domain.CartItem, error) {
	items := []domain.CartItem{}
	for _, it := range t.st.items {
		if it.CartID == cartID {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (t *memTx) FindItem(_ context.Context, cartID, itemID string) (*domain.CartItem, error) {
	it, ok := t.st.items[itemID]
	if !ok || it.CartID != cartID {
		return nil, apperror.NotFound("cart item %s not found", itemID)
	}
	return &it, nil
}

func (t *memTx) FindItemByProduct(_ context.Context, cartID, productID string) (*domain.CartItem, error) {
	for _, it := range t.st.items {
		if it.CartID == cartID && it.ProductID == productID {
			return &it, nil
		}
	}
	return nil, apperror.NotFound("product %s is not in cart", productID)
}

func (t *memTx) InsertItem(_ context.Context, it *domain.CartItem) error {
	if it.Quantity <= 0 {
		return errors.New("check constraint cart_items_quantity_check violated")
	}
	for _, existing := range t.st.items {
		if existing.CartID == it.CartID && existing.ProductID == it.ProductID {
			return errors.New("duplicate cart line")
		}
	}
	t.st.items[it.ID] = *it
	return nil
}

func (t *memTx) SaveItem(_ context.Context, it *domain.CartItem) error {
	if it.Quantity <= 0 {
		return errors.New("check constraint cart_items_quantity_check violated")
	}
	if _, ok := t.st.items[it.ID]; !ok {
		return errors.New("no such item")
	}
	t.st.items[it.ID] = *it
	return nil
}

func (t *memTx) DeleteItem(_ context.Context, itemID string) error {
	delete(t.st.items, itemID)
	return nil
}

func (t *memTx) DeleteItems(_ context.Context, cartID string) error {
	for id, it := range t.st.items {
		if it.CartID == cartID {
			delete(t.st.items, id)
		}
	}
	return nil
}
