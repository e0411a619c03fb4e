package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/shoplite/internal/apperror"
	"github.com/joao-fontenele/shoplite/internal/domain"
)

var consumerTracer = otel.Tracer("messaging/consumer")

const (
	DefaultMaxRedeliveries = 5
	defaultRetryDelay      = 500 * time.Millisecond
	maxRetryDelay          = 30 * time.Second
)

const (
	outcomeAcked        = "acked"
	outcomeSkipped      = "skipped"
	outcomeRedelivered  = "redelivered"
	outcomeDeadLettered = "dead_lettered"
	outcomeDropped      = "dropped"
)

// Subscription binds a queue to routing keys of one exchange. Messages with
// other keys are acknowledged without reaching the handler.
type Subscription struct {
	Queue       string
	Exchange    string
	RoutingKeys []string
	// Prefetch bounds how many fetched messages wait in memory.
	Prefetch int
	// DeadLetter routes rejected messages to DeadLetterQueue. Without it a
	// rejected message is dropped.
	DeadLetter      bool
	MaxRedeliveries int
	RetryDelay      time.Duration
}

func (s Subscription) DeadLetterQueue() string    { return s.Queue + ".dlq" }
func (s Subscription) DeadLetterExchange() string { return s.Exchange + "-dlx" }

func (s Subscription) prefetch() int {
	if s.Prefetch <= 0 {
		return 1
	}
	return s.Prefetch
}

func (s Subscription) maxRedeliveries() int {
	if s.MaxRedeliveries <= 0 {
		return DefaultMaxRedeliveries
	}
	return s.MaxRedeliveries
}

func (s Subscription) binds(routingKey string) bool {
	return slices.Contains(s.RoutingKeys, routingKey)
}

func (s Subscription) backoff(attempt int) time.Duration {
	d := s.RetryDelay
	if d <= 0 {
		d = defaultRetryDelay
	}
	for range attempt {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}

// Delivery is one message handed to a Handler.
type Delivery struct {
	Exchange   string
	RoutingKey string
	Envelope   domain.Envelope
	// Attempt is zero on first delivery.
	Attempt int
}

// Handler processes a delivery. A nil return acknowledges it. Errors for which
// apperror.IsPermanent holds reject it, any other error redelivers it.
type Handler func(ctx context.Context, d Delivery) error

// Decode unmarshals the payload of d, checking the envelope carries eventType.
// Failures are validation errors so the message is rejected, not retried.
func Decode[T any](d Delivery, eventType string) (T, error) {
	var v T
	if d.Envelope.Type != eventType {
		return v, apperror.Validation("unexpected event type %q, want %q", d.Envelope.Type, eventType)
	}
	if err := json.Unmarshal(d.Envelope.Payload, &v); err != nil {
		return v, apperror.Wrap(apperror.KindValidation, err, "malformed %s payload", eventType)
	}
	return v, nil
}

// Subscribe consumes sub until ctx is canceled or the gateway is closed.
// Messages are handled one at a time and committed once the outcome is
// settled.
func (g *Gateway) Subscribe(ctx context.Context, sub Subscription, handler Handler) error {
	if sub.Queue == "" || sub.Exchange == "" {
		return errors.New("messaging: subscription needs a queue and an exchange")
	}

	r := g.newReader(sub)
	if err := g.track(r); err != nil {
		_ = r.Close()
		return err
	}

	g.logger.Info("subscription started",
		"queue", sub.Queue,
		"exchange", sub.Exchange,
		"routing_keys", sub.RoutingKeys,
		"prefetch", sub.prefetch(),
	)

	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("fetch from %s: %w", sub.Queue, err)
		}

		outcome, err := g.deliver(ctx, sub, msg, handler)
		if err != nil {
			return err
		}
		g.count(ctx, sub, outcome)

		if err := r.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit on %s: %w", sub.Queue, err)
		}
	}
}

func (g *Gateway) deliver(ctx context.Context, sub Subscription, msg kafka.Message, handler Handler) (string, error) {
	routingKey := headerValue(&msg, HeaderRoutingKey)
	if !sub.binds(routingKey) {
		return outcomeSkipped, nil
	}

	var env domain.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return g.reject(ctx, sub, msg, 0, "malformed envelope: "+err.Error())
	}

	d := Delivery{Exchange: msg.Topic, RoutingKey: routingKey, Envelope: env}
	for attempt := 0; ; attempt++ {
		d.Attempt = attempt
		err := g.process(ctx, sub, msg, d, handler)
		if err == nil {
			return outcomeAcked, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if apperror.IsPermanent(err) {
			return g.reject(ctx, sub, msg, attempt, err.Error())
		}
		if attempt >= sub.maxRedeliveries() {
			g.logger.Error("redeliveries exhausted", "queue", sub.Queue, "attempts", attempt+1, "error", err)
			return g.reject(ctx, sub, msg, attempt, "redeliveries exhausted: "+err.Error())
		}

		delay := sub.backoff(attempt)
		g.logger.Warn("message handling failed, redelivering",
			"queue", sub.Queue,
			"event_type", env.Type,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		g.count(ctx, sub, outcomeRedelivered)
		if err := g.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
}

func (g *Gateway) process(ctx context.Context, sub Subscription, msg kafka.Message, d Delivery, handler Handler) error {
	parentCtx := otel.GetTextMapPropagator().Extract(ctx, NewMessageCarrier(&msg))

	spanCtx, span := consumerTracer.Start(parentCtx, "process "+sub.Queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(msg.Topic),
			semconv.MessagingKafkaConsumerGroup(sub.Queue),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(msg.Partition)),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
			attribute.String("messaging.routing_key", d.RoutingKey),
			attribute.Int("messaging.redelivery", d.Attempt),
		),
	)
	defer span.End()

	if err := handler(spanCtx, d); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (g *Gateway) reject(ctx context.Context, sub Subscription, msg kafka.Message, attempts int, reason string) (string, error) {
	if !sub.DeadLetter {
		g.logger.Warn("message dropped", "queue", sub.Queue, "reason", reason)
		return outcomeDropped, nil
	}

	dead := kafka.Message{
		Topic:   sub.DeadLetterQueue(),
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: slices.Clone(msg.Headers),
	}
	setHeader(&dead, HeaderDeathReason, reason)
	setHeader(&dead, HeaderDeadLetterExchange, sub.DeadLetterExchange())
	setHeader(&dead, HeaderOriginalExchange, msg.Topic)
	setHeader(&dead, HeaderOriginalQueue, sub.Queue)
	setHeader(&dead, HeaderRedeliveries, strconv.Itoa(attempts))

	if err := g.persistent.WriteMessages(ctx, dead); err != nil {
		return "", fmt.Errorf("dead-letter to %s: %w", dead.Topic, err)
	}

	g.logger.Warn("message dead-lettered", "queue", sub.Queue, "dlq", dead.Topic, "reason", reason)
	return outcomeDeadLettered, nil
}

func (g *Gateway) count(ctx context.Context, sub Subscription, outcome string) {
	if g.consumed == nil {
		return
	}
	g.consumed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", sub.Queue),
		attribute.String("outcome", outcome),
	))
}
