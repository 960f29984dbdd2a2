package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

// ErrDeliveryFailed is returned when the gateway did not accept the notification
var ErrDeliveryFailed = errors.New("notification delivery failed")

type sendRequest struct {
	ID            string `json:"id"`
	TransferID    string `json:"transferId"`
	CorrelationID string `json:"correlationId"`
	Recipient     string `json:"recipient"`
	Template      string `json:"template"`
	Subject       string `json:"subject,omitempty"`
	Body          string `json:"body"`
	Urgent        bool   `json:"urgent"`
}

// Client posts notifications to the notification gateway
type Client struct {
	http *resty.Client
}

// New creates a gateway client rooted at baseURL
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// Send delivers n on its channel. The notification id doubles as the idempotency key.
func (c *Client) Send(ctx context.Context, n domain.Notification) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", n.ID.String()).
		SetPathParam("channel", string(n.Channel)).
		SetBody(sendRequest{
			ID:            n.ID.String(),
			TransferID:    n.TransferID.String(),
			CorrelationID: n.CorrelationID,
			Recipient:     n.Recipient,
			Template:      n.Template,
			Subject:       n.Subject,
			Body:          n.Body,
			Urgent:        n.Urgent,
		}).
		Post("/notifications/{channel}")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeliveryFailed, n.Channel, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: %s: status %d", ErrDeliveryFailed, n.Channel, resp.StatusCode())
	}
	return nil
}
