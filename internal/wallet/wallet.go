package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrInsufficientBalance is returned when the rider cannot cover the
	// fare estimate.
	ErrInsufficientBalance = errors.New("insufficient wallet balance")

	// ErrUnavailable is returned when the wallet service times out or
	// fails; nothing was debited.
	ErrUnavailable = errors.New("wallet service unavailable")
)

// Service is the external wallet collaborator. Debits are guarded by
// caller-supplied idempotency keys; this core never retries a debit
// without one.
type Service interface {
	// CheckBalance verifies the rider can cover the fare for the service
	// class. Returns ErrInsufficientBalance or ErrUnavailable.
	CheckBalance(ctx context.Context, riderID, serviceClass string) error

	// Debit deducts amount from the rider's balance.
	Debit(ctx context.Context, riderID string, amount int64, idempotencyKey string) error

	// Refund compensates a previous debit identified by the same key.
	Refund(ctx context.Context, riderID string, amount int64, idempotencyKey string) error
}

// Client talks to the wallet service over HTTP with a per-call timeout.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ Service = (*Client)(nil)

// NewClient creates a wallet Client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CheckBalance implements Service.
func (c *Client) CheckBalance(ctx context.Context, riderID, serviceClass string) error {
	url := fmt.Sprintf("%s/internal/wallets/%s/balance?service=%s", c.baseURL, riderID, serviceClass)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return c.do(req)
}

type movementRequest struct {
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// Debit implements Service.
func (c *Client) Debit(ctx context.Context, riderID string, amount int64, idempotencyKey string) error {
	return c.movement(ctx, riderID, "debit", amount, idempotencyKey)
}

// Refund implements Service.
func (c *Client) Refund(ctx context.Context, riderID string, amount int64, idempotencyKey string) error {
	return c.movement(ctx, riderID, "refund", amount, idempotencyKey)
}

func (c *Client) movement(ctx context.Context, riderID, op string, amount int64, idempotencyKey string) error {
	body, err := json.Marshal(movementRequest{Amount: amount, IdempotencyKey: idempotencyKey})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	url := fmt.Sprintf("%s/internal/wallets/%s/%s", c.baseURL, riderID, op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusPaymentRequired:
		return ErrInsufficientBalance
	default:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}
