package carts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/shoplite/internal/apperror"
	"github.com/joao-fontenele/shoplite/internal/domain"
	"github.com/joao-fontenele/shoplite/internal/pgerr"
)

type CartRepository struct {
	db *sql.DB
}

func NewCartRepository(db *sql.DB) *CartRepository {
	return &CartRepository{db: db}
}

func (r *CartRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &cartTx{tx: tx}); err != nil {
		return classify(err)
	}
	return classify(tx.Commit())
}

// classify turns serialization failures and deadlocks into conflicts so
// callers can retry.
func classify(err error) error {
	if pgerr.IsRetryable(err) {
		return apperror.Conflict("cart transaction aborted: %v", err)
	}
	return err
}

type cartTx struct {
	tx *sql.Tx
}

func (t *cartTx) LockCart(ctx context.Context, userID string) (*domain.Cart, error) {
	c := &domain.Cart{}
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, user_id, total, created_at, updated_at
		FROM carts
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&c.ID, &c.UserID, &c.Total, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("cart for user %s not found", userID)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (t *cartTx) InsertCart(ctx context.Context, c *domain.Cart) error {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO carts (id, user_id, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO NOTHING
	`, c.ID, c.UserID, c.Total, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert cart: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperror.Conflict("cart for user %s already exists", c.UserID)
	}
	return nil
}

func (t *cartTx) LockCartsWithProduct(ctx context.Context, productID string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT c.id
		FROM carts c
		WHERE EXISTS (SELECT 1 FROM cart_items i WHERE i.cart_id = c.id AND i.product_id = $1)
		ORDER BY c.id
		FOR UPDATE
	`, productID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *cartTx) SetTotal(ctx context.Context, cartID string, total decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE carts SET total = $2, updated_at = NOW() WHERE id = $1
	`, cartID, total)
	if err != nil {
		return fmt.Errorf("set cart total: %w", err)
	}
	return nil
}

const itemColumns = `id, cart_id, product_id, name, description, image_uri, price, quantity`

func scanItem(row interface{ Scan(dest ...any) error }) (*domain.CartItem, error) {
	it := &domain.CartItem{}
	err := row.Scan(&it.ID, &it.CartID, &it.ProductID, &it.Name, &it.Description, &it.ImageURI, &it.Price, &it.Quantity)
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (t *cartTx) Items(ctx context.Context, cartID string) ([]domain.CartItem, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY name, id
	`, cartID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	items := []domain.CartItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func (t *cartTx) FindItem(ctx context.Context, cartID, itemID string) (*domain.CartItem, error) {
	it, err := scanItem(t.tx.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM cart_items WHERE cart_id = $1 AND id = $2
	`, cartID, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("cart item %s not found", itemID)
	}
	return it, err
}

func (t *cartTx) FindItemByProduct(ctx context.Context, cartID, productID string) (*domain.CartItem, error) {
	it, err := scanItem(t.tx.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM cart_items WHERE cart_id = $1 AND product_id = $2
	`, cartID, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("product %s is not in cart", productID)
	}
	return it, err
}

func (t *cartTx) InsertItem(ctx context.Context, it *domain.CartItem) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cart_items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, it.ID, it.CartID, it.ProductID, it.Name, it.Description, it.ImageURI, it.Price, it.Quantity)
	if err != nil {
		return fmt.Errorf("insert cart item: %w", err)
	}
	return nil
}

func (t *cartTx) SaveItem(ctx context.Context, it *domain.CartItem) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE cart_items SET name = $2, price = $3, quantity = $4 WHERE id = $1
	`, it.ID, it.Name, it.Price, it.Quantity)
	if err != nil {
		return fmt.Errorf("update cart item: %w", err)
	}
	return nil
}

func (t *cartTx) DeleteItem(ctx context.Context, itemID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	return nil
}

func (t *cartTx) DeleteItems(ctx context.Context, cartID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
