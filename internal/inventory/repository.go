package inventory

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/joao-fontenele/shoplite/internal/apperror"
	"github.com/joao-fontenele/shoplite/internal/domain"
	"github.com/joao-fontenele/shoplite/internal/products"
)

// Line is one product's quantity within an order.
type Line struct {
	ProductID string
	Quantity  int
}

// ApplyResult describes what applying an order did to the catalog.
type ApplyResult struct {
	// Products holds the stored state of every product the order names,
	// including ones already applied on an earlier delivery.
	Products   []domain.Product
	Applied    int
	Skipped    int
	Duplicates int
}

type StockRepository struct {
	db *sql.DB
}

func NewStockRepository(db *sql.DB) *StockRepository {
	return &StockRepository{db: db}
}

// ApplyOrder decrements stock for every line of an order in one transaction.
// Each (order, product) pair is recorded in stock_movements, so a line seen
// before is left alone. A line with more quantity than stock is recorded as
// not applied and the stock stays unchanged.
func (r *StockRepository) ApplyOrder(ctx context.Context, orderID string, lines []Line) (*ApplyResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock rows in a stable order so concurrent orders cannot deadlock.
	ordered := slices.Clone(lines)
	slices.SortFunc(ordered, func(a, b Line) int { return cmp.Compare(a.ProductID, b.ProductID) })

	res := &ApplyResult{}
	for _, line := range ordered {
		p, err := products.LockProduct(ctx, tx, line.ProductID)
		if err != nil {
			return nil, err
		}

		applied := p.Stock >= line.Quantity
		result, err := tx.ExecContext(ctx, `
			INSERT INTO stock_movements (order_id, product_id, quantity, applied, processed_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (order_id, product_id) DO NOTHING
		`, orderID, line.ProductID, line.Quantity, applied)
		if err != nil {
			return nil, fmt.Errorf("record stock movement: %w", err)
		}

		inserted, err := result.RowsAffected()
		if err != nil {
			return nil, err
		}

		switch {
		case inserted == 0:
			res.Duplicates++
		case !applied:
			res.Skipped++
		default:
			err = tx.QueryRowContext(ctx, `
				UPDATE products SET stock = stock - $2, updated_at = NOW()
				WHERE id = $1
				RETURNING stock, updated_at
			`, line.ProductID, line.Quantity).Scan(&p.Stock, &p.UpdatedAt)
			if err != nil {
				return nil, fmt.Errorf("decrement stock: %w", err)
			}
			res.Applied++
		}

		res.Products = append(res.Products, *p)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// Movements lists the ledger rows recorded for an order.
func (r *StockRepository) Movements(ctx context.Context, orderID string) ([]domain.StockMovement, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, quantity, applied, processed_at
		FROM stock_movements
		WHERE order_id = $1
		ORDER BY product_id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var movements []domain.StockMovement
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.OrderID, &m.ProductID, &m.Quantity, &m.Applied, &m.ProcessedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(movements) == 0 {
		return nil, apperror.NotFound("no stock movements for order %s", orderID)
	}
	return movements, nil
}
