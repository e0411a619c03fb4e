package carts

import (
	"context"
	"log/slog"

	"github.com/joao-fontenele/shoplite/internal/domain"
	"github.com/joao-fontenele/shoplite/internal/messaging"
)

const Queue = "cart-product-events"

// Consumer applies product events to carts.
type Consumer struct {
	service *Service
	logger  *slog.Logger
}

func NewConsumer(service *Service, logger *slog.Logger) *Consumer {
	return &Consumer{service: service, logger: logger}
}

func Subscription(maxRedeliveries int) messaging.Subscription {
	return messaging.Subscription{
		Queue:           Queue,
		Exchange:        domain.ExchangeProductEvents,
		RoutingKeys:     []string{domain.RoutingKeyProductUpdated, domain.RoutingKeyProductDeleted},
		Prefetch:        1,
		DeadLetter:      true,
		MaxRedeliveries: maxRedeliveries,
	}
}

func (c *Consumer) Handle(ctx context.Context, d messaging.Delivery) error {
	switch d.RoutingKey {
	case domain.RoutingKeyProductDeleted:
		evt, err := messaging.Decode[domain.ProductDeletedEvent](d, domain.EventTypeProductDeleted)
		if err != nil {
			return err
		}
		n, err := c.service.HandleProductDeleted(ctx, evt.ID)
		if err != nil {
			return err
		}
		c.logger.InfoContext(ctx, "deleted product removed from carts", "product_id", evt.ID, "carts", n)

	case domain.RoutingKeyProductUpdated:
		evt, err := messaging.Decode[domain.ProductUpdatedEvent](d, domain.EventTypeProductUpdated)
		if err != nil {
			return err
		}
		n, err := c.service.HandleProductUpdated(ctx, evt)
		if err != nil {
			return err
		}
		c.logger.InfoContext(ctx, "product update applied to carts", "product_id", evt.ID, "carts", n)
	}
	return nil
}
