package products

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joao-fontenele/shoplite/internal/apperror"
	"github.com/joao-fontenele/shoplite/internal/domain"
	"github.com/joao-fontenele/shoplite/internal/pgerr"
)

const productColumns = `id, name, description, price, stock, category_id, is_deleted, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	p := &domain.Product{}
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.CategoryID, &p.IsDeleted, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

type CatalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) CreateProduct(ctx context.Context, p *domain.Product) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.Name, p.Description, p.Price, p.Stock, p.CategoryID, p.IsDeleted, p.CreatedAt, p.UpdatedAt)
	if pgerr.IsForeignKeyViolation(err) {
		return apperror.NotFound("category %s not found", p.CategoryID)
	}
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *CatalogRepository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1 AND is_deleted = false
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("product %s not found", id)
	}
	return p, err
}

func (r *CatalogRepository) ListProducts(ctx context.Context, limit, offset int) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE is_deleted = false
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}

func (r *CatalogRepository) ListProductsByCategory(ctx context.Context, category string, limit, offset int) ([]domain.Product, error) {
	var categoryID string
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM categories WHERE name = $1 AND is_deleted = false
	`, category).Scan(&categoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("category %s not found", category)
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE category_id = $1 AND is_deleted = false
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`, categoryID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}

func collectProducts(rows *sql.Rows) ([]domain.Product, error) {
	defer func() { _ = rows.Close() }()

	products := []domain.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (r *CatalogRepository) MutateProduct(ctx context.Context, id string, fn func(p *domain.Product) error) (*domain.Product, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	p, err := LockProduct(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := fn(p); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET name = $2, description = $3, price = $4, stock = $5, category_id = $6, is_deleted = $7, updated_at = $8
		WHERE id = $1
	`, p.ID, p.Name, p.Description, p.Price, p.Stock, p.CategoryID, p.IsDeleted, p.UpdatedAt)
	if pgerr.IsForeignKeyViolation(err) {
		return nil, apperror.NotFound("category %s not found", p.CategoryID)
	}
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return p, nil
}

// LockProduct reads a live product with FOR UPDATE inside tx.
func LockProduct(ctx context.Context, tx *sql.Tx, id string) (*domain.Product, error) {
	p, err := scanProduct(tx.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1 AND is_deleted = false
		FOR UPDATE
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("product %s not found", id)
	}
	return p, err
}

func (r *CatalogRepository) CreateCategory(ctx context.Context, c *domain.Category) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, description, image_uri, is_deleted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.Name, c.Description, c.ImageURI, c.IsDeleted, c.CreatedAt)
	if pgerr.IsUniqueViolation(err) {
		return apperror.AlreadyExist("category %s already exists", c.Name)
	}
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

func (r *CatalogRepository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, image_uri, is_deleted, created_at
		FROM categories
		WHERE is_deleted = false
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	categories := []domain.Category{}
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.ImageURI, &c.IsDeleted, &c.CreatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (r *CatalogRepository) MutateCategory(ctx context.Context, id string, fn func(c *domain.Category) error) (*domain.Category, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	c := &domain.Category{}
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, description, image_uri, is_deleted, created_at
		FROM categories
		WHERE id = $1 AND is_deleted = false
		FOR UPDATE
	`, id).Scan(&c.ID, &c.Name, &c.Description, &c.ImageURI, &c.IsDeleted, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("category %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	if err := fn(c); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE categories SET name = $2, description = $3, image_uri = $4, is_deleted = $5
		WHERE id = $1
	`, c.ID, c.Name, c.Description, c.ImageURI, c.IsDeleted)
	if pgerr.IsUniqueViolation(err) {
		return nil, apperror.AlreadyExist("category %s already exists", c.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("update category: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return c, nil
}
