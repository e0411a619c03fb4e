package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Cart struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Total     decimal.Decimal `json:"total"`
	Items     []CartItem      `json:"items"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type CartItem struct {
	ID          string          `json:"id"`
	CartID      string          `json:"cart_id"`
	ProductID   string          `json:"product_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	ImageURI    *string         `json:"image_uri,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

// LineTotal is price*quantity rounded to cents.
func (i CartItem) LineTotal() decimal.Decimal {
	return LineValue(i.Price, i.Quantity)
}

func LineValue(price decimal.Decimal, quantity int) decimal.Decimal {
	return RoundMoney(price.Mul(decimal.NewFromInt(int64(quantity))))
}

// ItemsTotal recomputes a cart total from its lines.
func ItemsTotal(items []CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return RoundMoney(total)
}
