package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/shoplite/internal/domain"
)

var producerTracer = otel.Tracer("messaging/producer")

// Publisher is the publishing half of the gateway.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, event domain.Event, opts ...PublishOption) error
}

type publishOptions struct {
	persistent bool
}

type PublishOption func(*publishOptions)

// Persistent makes the write wait for every in-sync replica.
func Persistent() PublishOption {
	return func(o *publishOptions) { o.persistent = true }
}

// Publish wraps event in an envelope and writes it to the exchange topic.
// The aggregate id is the message key so events of one entity stay ordered.
func (g *Gateway) Publish(ctx context.Context, exchange, routingKey string, event domain.Event, opts ...PublishOption) error {
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.EventType(), err)
	}
	data, err := json.Marshal(domain.Envelope{
		Type:      event.EventType(),
		Payload:   payload,
		EmittedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	key := event.AggregateID()
	msg := kafka.Message{
		Topic: exchange,
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: HeaderRoutingKey, Value: []byte(routingKey)},
			{Key: HeaderEventType, Value: []byte(event.EventType())},
		},
	}

	ctx, span := producerTracer.Start(ctx, "send "+exchange,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("send"),
			semconv.MessagingOperationTypePublish,
			semconv.MessagingDestinationName(exchange),
			semconv.MessagingKafkaMessageKey(key),
		),
	)
	defer span.End()

	otel.GetTextMapPropagator().Inject(ctx, NewMessageCarrier(&msg))

	w := g.transient
	if o.persistent {
		w = g.persistent
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("publish %s to %s: %w", event.EventType(), exchange, err)
	}

	return nil
}
