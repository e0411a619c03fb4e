package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// orderTransitions lists the states each status may be reached from.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPaid:      {OrderStatusPending},
	OrderStatusDelivered: {OrderStatusPaid},
	OrderStatusFailed:    {OrderStatusPending},
}

// Predecessors returns the statuses an order must be in to move to s.
func (s OrderStatus) Predecessors() []OrderStatus {
	return orderTransitions[s]
}

func (s OrderStatus) CanTransitionFrom(from OrderStatus) bool {
	for _, p := range orderTransitions[s] {
		if p == from {
			return true
		}
	}
	return false
}

// OrderLine is a snapshot of the product at the time the order was placed.
type OrderLine struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Lines       []OrderLine     `json:"lines"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      OrderStatus     `json:"status"`
	PaymentID   *string         `json:"payment_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// LinesTotal sums the line subtotals rounded to cents.
func LinesTotal(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return RoundMoney(total)
}
