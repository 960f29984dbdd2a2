package accountclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

// HeaderIdempotencyKey lets the account service deduplicate repeated movements
const HeaderIdempotencyKey = "Idempotency-Key"

type movementRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	TransferID  string          `json:"transferId"`
	Description string          `json:"description,omitempty"`
	Operation   string          `json:"operation"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client talks to the external account service.
// Every call is bounded by the client timeout; a timeout counts as a transient failure.
type Client struct {
	http *resty.Client
}

// New creates a client for the account service at baseURL
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
	}
}

// Debit removes funds from m.AccountID
func (c *Client) Debit(ctx context.Context, m domain.AccountMovement) error {
	return c.move(ctx, "debit", m)
}

// Credit adds funds to m.AccountID. Compensations are credits with OperationCompensate.
func (c *Client) Credit(ctx context.Context, m domain.AccountMovement) error {
	return c.move(ctx, "credit", m)
}

func (c *Client) move(ctx context.Context, action string, m domain.AccountMovement) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(HeaderIdempotencyKey, m.IdempotencyKey()).
		SetPathParam("id", m.AccountID).
		SetBody(movementRequest{
			Amount:      m.Amount,
			Currency:    m.Currency,
			TransferID:  m.TransferID.String(),
			Description: m.Description,
			Operation:   string(m.Operation),
		}).
		SetError(&errorResponse{}).
		Post("/accounts/{id}/" + action)
	if err != nil {
		return fmt.Errorf("%w: %s of account %s: %v", domain.ErrAccountUnavailable, action, m.AccountID, err)
	}

	switch status := resp.StatusCode(); {
	case resp.IsSuccess(), status == http.StatusConflict:
		// 409 means this idempotency key was already applied
		return nil
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: %s of account %s: %s", domain.ErrAccountRejected, action, m.AccountID, describe(resp))
	default:
		return fmt.Errorf("%w: %s of account %s: %s", domain.ErrAccountUnavailable, action, m.AccountID, describe(resp))
	}
}

func describe(resp *resty.Response) string {
	if e, ok := resp.Error().(*errorResponse); ok && e.Message != "" {
		return fmt.Sprintf("status %d: %s", resp.StatusCode(), e.Message)
	}
	return fmt.Sprintf("status %d", resp.StatusCode())
}
