// Package delivery hands paid orders' digital artifacts to the email service.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/joao-fontenele/shoplite/internal/domain"
)

// Message is the body accepted by the email service's /send endpoint.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type Settings struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Client posts delivery emails through a circuit breaker so an unavailable
// email service fails fast instead of holding order requests.
type Client struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewClient(baseURL string, client *http.Client, s Settings, logger *slog.Logger) *Client {
	maxFailures := s.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "email-delivery",
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		breaker: breaker,
	}
}

// Deliver emails the order's artifacts to recipient.
func (c *Client) Deliver(ctx context.Context, order *domain.Order, recipient string) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.send(ctx, NewMessage(order, recipient))
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("email service unavailable: %w", err)
	}
	return err
}

func (c *Client) send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send delivery: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("email service returned %d", resp.StatusCode)
	}
	return nil
}

// NewMessage renders the delivery email for order.
func NewMessage(order *domain.Order, recipient string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Thanks for your purchase. Order %s, total %s.\n\n", order.ID, order.TotalAmount.StringFixed(2))
	for _, l := range order.Lines {
		fmt.Fprintf(&b, "- %s x%d: download at /downloads/%s/%s\n", l.ProductName, l.Quantity, order.ID, l.ProductID)
	}
	return Message{
		To:      recipient,
		Subject: "Your order " + order.ID,
		Body:    b.String(),
	}
}
