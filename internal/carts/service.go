// Package carts keeps each user's cart and its total, and reconciles carts
// with catalog changes.
package carts

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/shoplite/internal/apperror"
	"github.com/joao-fontenele/shoplite/internal/domain"
)

type AddItemInput struct {
	ProductID   string          `json:"product_id" validate:"required,uuid"`
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description" validate:"required"`
	ImageURI    *string         `json:"image_uri" validate:"omitempty,url"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity" validate:"gte=1"`
}

// Service mutates carts. Each operation is one transaction holding the cart
// row lock, and keeps total equal to the sum of rounded line values.
type Service struct {
	store    Store
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GetCart returns the user's cart, creating an empty one on first use.
func (s *Service) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if err := validateID("user", userID); err != nil {
		return nil, err
	}

	var cart *domain.Cart
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := s.getOrCreate(ctx, tx, userID)
		if err != nil {
			return err
		}
		cart, err = snapshot(ctx, tx, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *Service) AddItem(ctx context.Context, userID string, in AddItemInput) (*domain.Cart, error) {
	if err := validateID("user", userID); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, apperror.Validation("%v", err)
	}
	if in.Price.IsNegative() {
		return nil, apperror.Validation("price must not be negative")
	}
	price := domain.RoundMoney(in.Price)

	var cart *domain.Cart
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := s.getOrCreate(ctx, tx, userID)
		if err != nil {
			return err
		}

		item, err := tx.FindItemByProduct(ctx, c.ID, in.ProductID)
		switch {
		case err == nil:
			// The stored price of an existing line is kept in step with the
			// catalog by product events; the added quantity is valued at it.
			old := item.LineTotal()
			item.Quantity += in.Quantity
			if err := tx.SaveItem(ctx, item); err != nil {
				return err
			}
			c.Total = domain.RoundMoney(c.Total.Add(domain.RoundMoney(item.LineTotal().Sub(old))))
		case apperror.IsKind(err, apperror.KindNotFound):
			item = &domain.CartItem{
				ID:          uuid.NewString(),
				CartID:      c.ID,
				ProductID:   in.ProductID,
				Name:        in.Name,
				Description: in.Description,
				ImageURI:    in.ImageURI,
				Price:       price,
				Quantity:    in.Quantity,
			}
			if err := tx.InsertItem(ctx, item); err != nil {
				return err
			}
			c.Total = domain.RoundMoney(c.Total.Add(domain.LineValue(price, in.Quantity)))
		default:
			return err
		}

		if err := tx.SetTotal(ctx, c.ID, c.Total); err != nil {
			return err
		}
		cart, err = snapshot(ctx, tx, c)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "cart item added", "cart_id", cart.ID, "product_id", in.ProductID, "quantity", in.Quantity)
	return cart, nil
}

func (s *Service) RemoveItem(ctx context.Context, userID, itemID string) (*domain.Cart, error) {
	if err := validateID("user", userID); err != nil {
		return nil, err
	}
	if err := validateID("cart item", itemID); err != nil {
		return nil, err
	}

	var cart *domain.Cart
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		c, item, err := lockOwnedItem(ctx, tx, userID, itemID)
		if err != nil {
			return err
		}

		if err := tx.DeleteItem(ctx, item.ID); err != nil {
			return err
		}
		c.Total = domain.RoundMoney(c.Total.Sub(item.LineTotal()))
		if err := tx.SetTotal(ctx, c.ID, c.Total); err != nil {
			return err
		}
		cart, err = snapshot(ctx, tx, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// UpdateItem changes a line's quantity by delta. Reaching zero removes the
// line; going below zero is rejected without changing anything.
func (s *Service) UpdateItem(ctx context.Context, userID, itemID string, delta int) (*domain.Cart, error) {
	if err := validateID("user", userID); err != nil {
		return nil, err
	}
	if err := validateID("cart item", itemID); err != nil {
		return nil, err
	}

	var cart *domain.Cart
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		c, item, err := lockOwnedItem(ctx, tx, userID, itemID)
		if err != nil {
			return err
		}

		next := item.Quantity + delta
		switch {
		case next < 0:
			return apperror.Validation("quantity cannot go below zero: have %d, delta %d", item.Quantity, delta)
		case next == 0:
			if err := tx.DeleteItem(ctx, item.ID); err != nil {
				return err
			}
			c.Total = domain.RoundMoney(c.Total.Sub(item.LineTotal()))
		default:
			old := item.LineTotal()
			item.Quantity = next
			if err := tx.SaveItem(ctx, item); err != nil {
				return err
			}
			c.Total = domain.RoundMoney(c.Total.Add(domain.RoundMoney(item.LineTotal().Sub(old))))
		}

		if err := tx.SetTotal(ctx, c.ID, c.Total); err != nil {
			return err
		}
		cart, err = snapshot(ctx, tx, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *Service) ClearCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if err := validateID("user", userID); err != nil {
		return nil, err
	}

	var cart *domain.Cart
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.LockCart(ctx, userID)
		if err != nil {
			return err
		}
		if err := tx.DeleteItems(ctx, c.ID); err != nil {
			return err
		}
		c.Total = decimal.Zero
		if err := tx.SetTotal(ctx, c.ID, c.Total); err != nil {
			return err
		}
		cart, err = snapshot(ctx, tx, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// HandleProductDeleted drops the product's line from every cart holding it and
// recomputes those totals. It returns the number of carts changed.
func (s *Service) HandleProductDeleted(ctx context.Context, productID string) (int, error) {
	return s.reconcile(ctx, productID, func(ctx context.Context, tx Tx, item *domain.CartItem) (bool, error) {
		return false, tx.DeleteItem(ctx, item.ID)
	})
}

// HandleProductUpdated copies the product's name and price onto every cart
// line for it and recomputes those totals.
func (s *Service) HandleProductUpdated(ctx context.Context, evt domain.ProductUpdatedEvent) (int, error) {
	price := domain.RoundMoney(evt.Price)
	return s.reconcile(ctx, evt.ID, func(ctx context.Context, tx Tx, item *domain.CartItem) (bool, error) {
		item.Name = evt.Name
		item.Price = price
		return true, tx.SaveItem(ctx, item)
	})
}

// reconcile applies fn to the product's line in each affected cart. fn
// reports whether the line is kept.
func (s *Service) reconcile(ctx context.Context, productID string, fn func(ctx context.Context, tx Tx, item *domain.CartItem) (bool, error)) (int, error) {
	if err := validateID("product", productID); err != nil {
		return 0, err
	}

	var changed int
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		changed = 0
		cartIDs, err := tx.LockCartsWithProduct(ctx, productID)
		if err != nil {
			return err
		}

		for _, cartID := range cartIDs {
			items, err := tx.Items(ctx, cartID)
			if err != nil {
				return err
			}

			kept := items[:0]
			for i := range items {
				item := &items[i]
				if item.ProductID != productID {
					kept = append(kept, *item)
					continue
				}
				keep, err := fn(ctx, tx, item)
				if err != nil {
					return err
				}
				if keep {
					kept = append(kept, *item)
				}
			}

			if err := tx.SetTotal(ctx, cartID, domain.ItemsTotal(kept)); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

func (s *Service) getOrCreate(ctx context.Context, tx Tx, userID string) (*domain.Cart, error) {
	c, err := tx.LockCart(ctx, userID)
	if err == nil || !apperror.IsKind(err, apperror.KindNotFound) {
		return c, err
	}

	now := s.now()
	c = &domain.Cart{
		ID:        uuid.NewString(),
		UserID:    userID,
		Total:     decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = tx.InsertCart(ctx, c)
	if apperror.IsKind(err, apperror.KindConcurrencyConflict) {
		// Another request created it first.
		return tx.LockCart(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "cart created", "cart_id", c.ID, "user_id", userID)
	return c, nil
}

func lockOwnedItem(ctx context.Context, tx Tx, userID, itemID string) (*domain.Cart, *domain.CartItem, error) {
	c, err := tx.LockCart(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	item, err := tx.FindItem(ctx, c.ID, itemID)
	if err != nil {
		return nil, nil, err
	}
	return c, item, nil
}

func snapshot(ctx context.Context, tx Tx, c *domain.Cart) (*domain.Cart, error) {
	items, err := tx.Items(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	out := *c
	out.Items = items
	return &out, nil
}

func validateID(what, id string) error {
	if err := uuid.Validate(id); err != nil {
		return apperror.Validation("invalid %s id %q", what, id)
	}
	return nil
}
