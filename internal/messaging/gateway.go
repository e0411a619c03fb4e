// Package messaging is the broker gateway. Exchanges map to Kafka topics,
// routing keys travel in a header and queues map to consumer groups.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var ErrClosed = errors.New("messaging: gateway closed")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Gateway owns the process's broker connection. Build one in main with
// Connect and pass it to every publisher and consumer.
type Gateway struct {
	brokers []string
	dialer  *kafka.Dialer
	conn    *kafka.Conn
	logger  *slog.Logger

	// persistent waits for all in-sync replicas, transient for the leader.
	persistent messageWriter
	transient  messageWriter
	newReader  func(Subscription) messageReader

	consumed metric.Int64Counter
	sleep    func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	readers []messageReader
	closed  bool
}

// Connect dials the cluster and fails if no broker answers. Callers treat the
// error as fatal.
func Connect(ctx context.Context, brokers []string, clientID string, logger *slog.Logger) (*Gateway, error) {
	if len(brokers) == 0 {
		return nil, errors.New("messaging: no brokers configured")
	}

	dialer := &kafka.Dialer{
		ClientID:  clientID,
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return nil, fmt.Errorf("messaging: connect to %s: %w", brokers[0], err)
	}
	if _, err := conn.Brokers(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("messaging: list brokers: %w", err)
	}

	g := newGateway(logger)
	g.brokers = brokers
	g.dialer = dialer
	g.conn = conn
	g.persistent = newWriter(brokers, kafka.RequireAll)
	g.transient = newWriter(brokers, kafka.RequireOne)
	g.newReader = g.kafkaReader

	return g, nil
}

func newGateway(logger *slog.Logger) *Gateway {
	consumed, err := otel.Meter("messaging").Int64Counter("messaging.consumer.messages",
		metric.WithDescription("Messages handled by subscriptions, by outcome"),
	)
	if err != nil {
		logger.Warn("failed to create consumer counter", "error", err)
	}
	return &Gateway{
		logger:   logger,
		consumed: consumed,
		sleep:    sleepContext,
	}
}

func newWriter(brokers []string, acks kafka.RequiredAcks) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           acks,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
}

func (g *Gateway) kafkaReader(sub Subscription) messageReader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:       g.brokers,
		GroupID:       sub.Queue,
		Topic:         sub.Exchange,
		Dialer:        g.dialer,
		QueueCapacity: sub.prefetch(),
		StartOffset:   kafka.FirstOffset,
		MaxWait:       500 * time.Millisecond,
	})
}

// Topology lists the exchanges and subscriptions a process relies on.
type Topology struct {
	Exchanges     []string
	Subscriptions []Subscription
	Partitions    int
	Replication   int
}

// Declare creates the exchange topics and the dead-letter topics of
// subscriptions that ask for one. Existing topics are left alone.
func (g *Gateway) Declare(ctx context.Context, t Topology) error {
	partitions, replication := t.Partitions, t.Replication
	if partitions <= 0 {
		partitions = 3
	}
	if replication <= 0 {
		replication = 1
	}

	var configs []kafka.TopicConfig
	for _, ex := range t.Exchanges {
		configs = append(configs, kafka.TopicConfig{Topic: ex, NumPartitions: partitions, ReplicationFactor: replication})
	}
	for _, sub := range t.Subscriptions {
		if sub.DeadLetter {
			configs = append(configs, kafka.TopicConfig{Topic: sub.DeadLetterQueue(), NumPartitions: 1, ReplicationFactor: replication})
		}
	}

	controller, err := g.conn.Controller()
	if err != nil {
		return fmt.Errorf("messaging: find controller: %w", err)
	}
	ctrl, err := g.dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("messaging: dial controller: %w", err)
	}
	defer func() { _ = ctrl.Close() }()

	if err := ctrl.CreateTopics(configs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("messaging: create topics: %w", err)
	}

	g.logger.Info("broker topology declared", "topics", len(configs))
	return nil
}

// Close stops every subscription reader and flushes the writers.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	readers := g.readers
	g.readers = nil
	g.mu.Unlock()

	var errs []error
	for _, r := range readers {
		errs = append(errs, r.Close())
	}
	if g.persistent != nil {
		errs = append(errs, g.persistent.Close())
	}
	if g.transient != nil {
		errs = append(errs, g.transient.Close())
	}
	if g.conn != nil {
		errs = append(errs, g.conn.Close())
	}
	return errors.Join(errs...)
}

func (g *Gateway) track(r messageReader) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	g.readers = append(g.readers, r)
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
