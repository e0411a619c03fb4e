// Package payment charges customers through the external payment provider.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/shoplite/internal/apperror"
)

// Client talks to the provider's charge endpoint. It never retries; the
// idempotency key lets the caller retry safely.
type Client struct {
	baseURL  string
	apiKey   string
	currency string
	client   *http.Client
}

func NewClient(baseURL, apiKey, currency string, client *http.Client) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		currency: currency,
		client:   client,
	}
}

type chargeRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	ReceiptMail string `json:"receipt_email"`
	Description string `json:"description"`
}

type chargeResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type providerError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Charge debits amount from payee and returns the provider's payment id. Any
// failure is reported as a PaymentFailed error.
func (c *Client) Charge(ctx context.Context, amount decimal.Decimal, payee, idempotencyKey string) (string, error) {
	cents := amount.Shift(2).Round(0).IntPart()
	if cents <= 0 {
		return "", apperror.PaymentFailed(nil, "amount must be positive")
	}

	body, err := json.Marshal(chargeRequest{
		Amount:      cents,
		Currency:    c.currency,
		ReceiptMail: payee,
		Description: "order " + idempotencyKey,
	})
	if err != nil {
		return "", fmt.Errorf("marshal charge: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/charges", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", apperror.PaymentFailed(err, "payment provider unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", apperror.PaymentFailed(err, "read payment response")
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var perr providerError
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(data, &perr) == nil && perr.Error.Message != "" {
			msg = perr.Error.Message
		}
		return "", apperror.PaymentFailed(nil, "charge declined: %s", msg)
	}

	var out chargeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", apperror.PaymentFailed(err, "malformed payment response")
	}
	if out.ID == "" {
		return "", apperror.PaymentFailed(nil, "payment response has no id")
	}
	return out.ID, nil
}
