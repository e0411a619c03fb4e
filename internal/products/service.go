// Package products owns the catalog: products, their stock and categories.
// Every change is announced on the product-events exchange.
package products

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/shoplite/internal/apperror"
	"github.com/joao-fontenele/shoplite/internal/domain"
	"github.com/joao-fontenele/shoplite/internal/messaging"
)

const PageSize = 10

type Store interface {
	CreateProduct(ctx context.Context, p *domain.Product) error
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, limit, offset int) ([]domain.Product, error)
	ListProductsByCategory(ctx context.Context, category string, limit, offset int) ([]domain.Product, error)
	// MutateProduct locks a live product, applies fn and saves the result in
	// one transaction. An error from fn aborts without writing.
	MutateProduct(ctx context.Context, id string, fn func(p *domain.Product) error) (*domain.Product, error)

	CreateCategory(ctx context.Context, c *domain.Category) error
	ListCategories(ctx context.Context) ([]domain.Category, error)
	MutateCategory(ctx context.Context, id string, fn func(c *domain.Category) error) (*domain.Category, error)
}

type CreateProductInput struct {
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description" validate:"required"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock" validate:"gte=0"`
	CategoryID  string          `json:"category_id" validate:"required,uuid"`
}

// UpdateProductInput patches a product. Stock is a signed delta, not the new
// level.
type UpdateProductInput struct {
	Name        *string          `json:"name" validate:"omitempty,min=1"`
	Description *string          `json:"description" validate:"omitempty,min=1"`
	Stock       *int             `json:"stock"`
	Price       *decimal.Decimal `json:"price"`
	CategoryID  *string          `json:"category_id" validate:"omitempty,uuid"`
}

// UpdateResult reports whether a requested stock delta was applied. It is
// false when none was requested or when it would have made stock negative.
type UpdateResult struct {
	Product      *domain.Product `json:"product"`
	StockApplied bool            `json:"stock_applied"`
}

type CreateCategoryInput struct {
	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description" validate:"required"`
	ImageURI    *string `json:"image_uri" validate:"omitempty,url"`
}

type UpdateCategoryInput struct {
	Name        *string `json:"name" validate:"omitempty,min=1"`
	Description *string `json:"description" validate:"omitempty,min=1"`
	ImageURI    *string `json:"image_uri" validate:"omitempty,url"`
}

type Service struct {
	store     Store
	publisher messaging.Publisher
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(store Store, publisher messaging.Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) CreateProduct(ctx context.Context, in CreateProductInput) (*domain.Product, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, apperror.Validation("%v", err)
	}
	if !in.Price.IsPositive() {
		return nil, apperror.Validation("price must be positive")
	}

	now := s.now()
	p := &domain.Product{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		Price:       domain.RoundMoney(in.Price),
		Stock:       in.Stock,
		CategoryID:  in.CategoryID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateProduct(ctx, p); err != nil {
		return nil, err
	}

	s.publish(ctx, domain.RoutingKeyProductCreated, domain.ProductCreatedEvent{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		CategoryID:  p.CategoryID,
		Stock:       p.Stock,
		Price:       p.Price,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	})
	s.logger.InfoContext(ctx, "product created", "product_id", p.ID)
	return p, nil
}

// UpdateProduct applies in under the product's row lock. A stock delta that
// would go below zero is skipped while the other fields still apply, and a
// single ProductUpdated carries the stored state.
func (s *Service) UpdateProduct(ctx context.Context, id string, in UpdateProductInput) (*UpdateResult, error) {
	if err := uuid.Validate(id); err != nil {
		return nil, apperror.Validation("invalid product id %q", id)
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, apperror.Validation("%v", err)
	}
	if in.Price != nil && !in.Price.IsPositive() {
		return nil, apperror.Validation("price must be positive")
	}

	var applied bool
	p, err := s.store.MutateProduct(ctx, id, func(p *domain.Product) error {
		applied = false
		if in.Name != nil {
			p.Name = *in.Name
		}
		if in.Description != nil {
			p.Description = *in.Description
		}
		if in.Price != nil {
			p.Price = domain.RoundMoney(*in.Price)
		}
		if in.CategoryID != nil {
			p.CategoryID = *in.CategoryID
		}
		if in.Stock != nil {
			if next := p.Stock + *in.Stock; next >= 0 {
				p.Stock = next
				applied = true
			}
		}
		p.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if in.Stock != nil && !applied {
		s.logger.WarnContext(ctx, "stock change skipped", "product_id", id, "stock", p.Stock, "delta", *in.Stock)
	}

	s.publish(ctx, domain.RoutingKeyProductUpdated, domain.NewProductUpdatedEvent(p))
	return &UpdateResult{Product: p, StockApplied: applied}, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if err := uuid.Validate(id); err != nil {
		return apperror.Validation("invalid product id %q", id)
	}

	deletedAt := s.now()
	if _, err := s.store.MutateProduct(ctx, id, func(p *domain.Product) error {
		p.IsDeleted = true
		p.UpdatedAt = deletedAt
		return nil
	}); err != nil {
		return err
	}

	s.publish(ctx, domain.RoutingKeyProductDeleted, domain.ProductDeletedEvent{ID: id, Timestamp: deletedAt})
	s.logger.InfoContext(ctx, "product deleted", "product_id", id)
	return nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if err := uuid.Validate(id); err != nil {
		return nil, apperror.Validation("invalid product id %q", id)
	}
	return s.store.GetProduct(ctx, id)
}

func (s *Service) ListProducts(ctx context.Context, page int) ([]domain.Product, error) {
	offset, err := pageOffset(page)
	if err != nil {
		return nil, err
	}
	return s.store.ListProducts(ctx, PageSize, offset)
}

func (s *Service) ListProductsByCategory(ctx context.Context, category string, page int) ([]domain.Product, error) {
	offset, err := pageOffset(page)
	if err != nil {
		return nil, err
	}
	return s.store.ListProductsByCategory(ctx, normalizeName(category), PageSize, offset)
}

func (s *Service) CreateCategory(ctx context.Context, in CreateCategoryInput) (*domain.Category, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, apperror.Validation("%v", err)
	}

	c := &domain.Category{
		ID:          uuid.NewString(),
		Name:        normalizeName(in.Name),
		Description: in.Description,
		ImageURI:    in.ImageURI,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateCategory(ctx, c); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "category created", "category_id", c.ID, "name", c.Name)
	return c, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.store.ListCategories(ctx)
}

func (s *Service) UpdateCategory(ctx context.Context, id string, in UpdateCategoryInput) (*domain.Category, error) {
	if err := uuid.Validate(id); err != nil {
		return nil, apperror.Validation("invalid category id %q", id)
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, apperror.Validation("%v", err)
	}

	return s.store.MutateCategory(ctx, id, func(c *domain.Category) error {
		if in.Name != nil {
			c.Name = normalizeName(*in.Name)
		}
		if in.Description != nil {
			c.Description = *in.Description
		}
		if in.ImageURI != nil {
			c.ImageURI = in.ImageURI
		}
		return nil
	})
}

func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	if err := uuid.Validate(id); err != nil {
		return apperror.Validation("invalid category id %q", id)
	}
	_, err := s.store.MutateCategory(ctx, id, func(c *domain.Category) error {
		c.IsDeleted = true
		return nil
	})
	return err
}

// publish logs failures. The catalog change is already committed and other
// services catch up on the next event for the product.
func (s *Service) publish(ctx context.Context, routingKey string, event domain.Event) {
	if err := s.publisher.Publish(ctx, domain.ExchangeProductEvents, routingKey, event, messaging.Persistent()); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish product event",
			"event_type", event.EventType(),
			"product_id", event.AggregateID(),
			"error", err,
		)
	}
}

func pageOffset(page int) (int, error) {
	if page < 1 {
		return 0, apperror.Validation("page must be at least 1")
	}
	return (page - 1) * PageSize, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
