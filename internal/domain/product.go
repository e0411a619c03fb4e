package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	CategoryID  string          `json:"category_id"`
	IsDeleted   bool            `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ImageURI    *string   `json:"image_uri,omitempty"`
	IsDeleted   bool      `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// StockMovement is one ledger row recording that an order line was applied to
// a product's stock. Applied is false when the stock was insufficient and the
// decrement was skipped.
type StockMovement struct {
	OrderID     string    `json:"order_id"`
	ProductID   string    `json:"product_id"`
	Quantity    int       `json:"quantity"`
	Applied     bool      `json:"applied"`
	ProcessedAt time.Time `json:"processed_at"`
}
