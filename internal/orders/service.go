// Package orders places orders: it charges the customer, delivers digital
// goods and announces the order so inventory can follow.
package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/shoplite/internal/apperror"
	"github.com/joao-fontenele/shoplite/internal/auth"
	"github.com/joao-fontenele/shoplite/internal/domain"
	"github.com/joao-fontenele/shoplite/internal/messaging"
)

type Store interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, paymentID *string) (*domain.Order, error)
}

type Charger interface {
	Charge(ctx context.Context, amount decimal.Decimal, payee, idempotencyKey string) (string, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, order *domain.Order, recipient string) error
}

type ItemInput struct {
	ProductID string          `json:"product_id" validate:"required,uuid"`
	Name      string          `json:"name" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gte=1"`
	Price     decimal.Decimal `json:"price"`
}

type CreateOrderInput struct {
	Items       []ItemInput     `json:"items" validate:"required,min=1,dive"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type Workflow struct {
	store     Store
	payments  Charger
	deliverer Deliverer
	publisher messaging.Publisher
	validate  *validator.Validate
	logger    *slog.Logger
	outcomes  metric.Int64Counter
	now       func() time.Time
}

func NewWorkflow(store Store, payments Charger, deliverer Deliverer, publisher messaging.Publisher, logger *slog.Logger) *Workflow {
	outcomes, err := otel.Meter("orders").Int64Counter("orders.workflow.outcomes",
		metric.WithDescription("Order creation outcomes"),
	)
	if err != nil {
		logger.Warn("failed to create order outcome counter", "error", err)
	}
	return &Workflow{
		store:     store,
		payments:  payments,
		deliverer: deliverer,
		publisher: publisher,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
		outcomes:  outcomes,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder persists a pending order and charges for it. A paid order is
// never rolled back: delivery and publish failures are logged and the order is
// still returned.
func (w *Workflow) CreateOrder(ctx context.Context, id auth.Identity, in CreateOrderInput) (*domain.Order, error) {
	lines, err := w.validateInput(in)
	if err != nil {
		return nil, err
	}

	now := w.now()
	order := &domain.Order{
		ID:          uuid.NewString(),
		UserID:      id.UserID,
		Lines:       lines,
		TotalAmount: domain.RoundMoney(in.TotalAmount),
		Status:      domain.OrderStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := w.store.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	paymentID, err := w.payments.Charge(ctx, order.TotalAmount, id.Email, order.ID)
	if err != nil {
		w.logger.WarnContext(ctx, "payment failed", "order_id", order.ID, "error", err)
		if _, ferr := w.store.UpdateStatus(ctx, order.ID, domain.OrderStatusFailed, nil); ferr != nil {
			w.logger.ErrorContext(ctx, "failed to mark order failed", "order_id", order.ID, "error", ferr)
		}
		w.count(ctx, "payment_failed")
		if apperror.IsKind(err, apperror.KindPaymentFailed) {
			return nil, err
		}
		return nil, apperror.PaymentFailed(err, "payment failed")
	}

	paid, err := w.markPaid(ctx, order.ID, paymentID)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to mark order paid", "order_id", order.ID, "payment_id", paymentID, "error", err)
		w.count(ctx, "mark_paid_failed")
		return nil, fmt.Errorf("mark order paid: %w", err)
	}
	order = paid

	if err := w.deliverer.Deliver(ctx, order, id.Email); err != nil {
		w.logger.WarnContext(ctx, "digital delivery failed", "order_id", order.ID, "error", err)
	} else if delivered, err := w.store.UpdateStatus(ctx, order.ID, domain.OrderStatusDelivered, nil); err != nil {
		w.logger.ErrorContext(ctx, "failed to mark order delivered", "order_id", order.ID, "error", err)
	} else {
		order = delivered
	}

	event := domain.NewOrderCreatedEvent(order)
	if err := w.publisher.Publish(ctx, domain.ExchangeOrderEvents, domain.RoutingKeyOrderCreated, event, messaging.Persistent()); err != nil {
		w.logger.ErrorContext(ctx, "failed to publish order created event", "order_id", order.ID, "error", err)
		w.count(ctx, "publish_failed")
	}

	w.count(ctx, string(order.Status))
	w.logger.InfoContext(ctx, "order created", "order_id", order.ID, "user_id", order.UserID, "status", order.Status)
	return order, nil
}

// markPaid records the charge, retrying the update once. An order that still
// fails stays PENDING although the customer was charged.
func (w *Workflow) markPaid(ctx context.Context, orderID, paymentID string) (*domain.Order, error) {
	paid, err := w.store.UpdateStatus(ctx, orderID, domain.OrderStatusPaid, &paymentID)
	if err == nil || apperror.IsKind(err, apperror.KindConcurrencyConflict) || apperror.IsKind(err, apperror.KindNotFound) {
		return paid, err
	}
	w.logger.WarnContext(ctx, "retrying mark order paid", "order_id", orderID, "payment_id", paymentID, "error", err)
	return w.store.UpdateStatus(ctx, orderID, domain.OrderStatusPaid, &paymentID)
}

func (w *Workflow) validateInput(in CreateOrderInput) ([]domain.OrderLine, error) {
	if err := w.validate.Struct(in); err != nil {
		return nil, apperror.Validation("%v", err)
	}

	lines := make([]domain.OrderLine, 0, len(in.Items))
	for _, it := range in.Items {
		if !it.Price.IsPositive() {
			return nil, apperror.Validation("price of %s must be positive", it.ProductID)
		}
		if !it.Price.Equal(domain.RoundMoney(it.Price)) {
			return nil, apperror.Validation("price of %s has more than two decimal places", it.ProductID)
		}
		lines = append(lines, domain.OrderLine{
			ProductID:   it.ProductID,
			ProductName: it.Name,
			Quantity:    it.Quantity,
			UnitPrice:   it.Price,
		})
	}

	if !in.TotalAmount.IsPositive() {
		return nil, apperror.Validation("total amount must be positive")
	}
	if sum := domain.LinesTotal(lines); !sum.Equal(domain.RoundMoney(in.TotalAmount)) {
		return nil, apperror.Validation("total amount %s does not match items total %s", in.TotalAmount, sum)
	}
	return lines, nil
}

// GetOrderByID returns an order owned by the caller. Admins may read any.
func (w *Workflow) GetOrderByID(ctx context.Context, id auth.Identity, orderID string) (*domain.Order, error) {
	if err := uuid.Validate(orderID); err != nil {
		return nil, apperror.Validation("invalid order id %q", orderID)
	}

	order, err := w.store.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != id.UserID && id.Role != auth.RoleAdmin {
		return nil, apperror.NotFound("order %s not found", orderID)
	}
	return order, nil
}

func (w *Workflow) GetUserOrders(ctx context.Context, id auth.Identity) ([]domain.Order, error) {
	orders, err := w.store.ListByUser(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, apperror.NotFound("no orders for user %s", id.UserID)
	}
	return orders, nil
}

func (w *Workflow) count(ctx context.Context, outcome string) {
	if w.outcomes == nil {
		return
	}
	w.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
