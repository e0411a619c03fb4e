// Package inventory follows placed orders and takes their quantities out of
// the catalog's stock.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joao-fontenele/shoplite/internal/apperror"
	"github.com/joao-fontenele/shoplite/internal/domain"
	"github.com/joao-fontenele/shoplite/internal/messaging"
)

const Queue = "order-created-queue"

type Applier interface {
	ApplyOrder(ctx context.Context, orderID string, lines []Line) (*ApplyResult, error)
}

type Consumer struct {
	stock     Applier
	publisher messaging.Publisher
	logger    *slog.Logger
}

func NewConsumer(stock Applier, publisher messaging.Publisher, logger *slog.Logger) *Consumer {
	return &Consumer{stock: stock, publisher: publisher, logger: logger}
}

// Subscription is the queue binding the consumer reads from.
func Subscription(maxRedeliveries int) messaging.Subscription {
	return messaging.Subscription{
		Queue:           Queue,
		Exchange:        domain.ExchangeOrderEvents,
		RoutingKeys:     []string{domain.RoutingKeyOrderCreated},
		Prefetch:        1,
		DeadLetter:      true,
		MaxRedeliveries: maxRedeliveries,
	}
}

// Handle applies one OrderCreated event and announces the resulting stock
// of each product. Redeliveries never decrement twice and publish again.
func (c *Consumer) Handle(ctx context.Context, d messaging.Delivery) error {
	evt, err := messaging.Decode[domain.OrderCreatedEvent](d, domain.EventTypeOrderCreated)
	if err != nil {
		return err
	}

	lines, err := orderLines(evt)
	if err != nil {
		return err
	}

	res, err := c.stock.ApplyOrder(ctx, evt.ID, lines)
	if err != nil {
		if apperror.IsPermanent(err) {
			c.logger.ErrorContext(ctx, "order cannot be applied to stock", "order_id", evt.ID, "error", err)
		}
		return err
	}

	var errs []error
	for i := range res.Products {
		p := &res.Products[i]
		if err := c.publisher.Publish(ctx, domain.ExchangeProductEvents, domain.RoutingKeyProductUpdated,
			domain.NewProductUpdatedEvent(p), messaging.Persistent()); err != nil {
			errs = append(errs, fmt.Errorf("product %s: %w", p.ID, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("publish stock updates for order %s: %w", evt.ID, err)
	}

	c.logger.InfoContext(ctx, "order applied to stock",
		"order_id", evt.ID,
		"applied", res.Applied,
		"skipped", res.Skipped,
		"duplicates", res.Duplicates,
		"attempt", d.Attempt,
	)
	return nil
}

// orderLines merges repeated items so each product appears once.
func orderLines(evt domain.OrderCreatedEvent) ([]Line, error) {
	if err := uuid.Validate(evt.ID); err != nil {
		return nil, apperror.Validation("invalid order id %q", evt.ID)
	}
	if len(evt.OrderedItems) == 0 {
		return nil, apperror.Validation("order %s has no items", evt.ID)
	}

	index := make(map[string]int, len(evt.OrderedItems))
	lines := make([]Line, 0, len(evt.OrderedItems))
	for _, it := range evt.OrderedItems {
		if err := uuid.Validate(it.ItemID); err != nil {
			return nil, apperror.Validation("invalid item id %q", it.ItemID)
		}
		if it.Quantity <= 0 {
			return nil, apperror.Validation("item %s has quantity %d", it.ItemID, it.Quantity)
		}
		if i, ok := index[it.ItemID]; ok {
			lines[i].Quantity += it.Quantity
			continue
		}
		index[it.ItemID] = len(lines)
		lines = append(lines, Line{ProductID: it.ItemID, Quantity: it.Quantity})
	}
	return lines, nil
}
