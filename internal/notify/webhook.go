package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const DefaultTimeout = 10 * time.Second

// Sink delivers one canonical body. deliveryID is stable across retries of the same event.
type Sink interface {
	Name() string
	Send(ctx context.Context, deliveryID string, depositID int64, body []byte) error
}

type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook responded %d: %s", e.Status, e.Body)
}

type Webhook struct {
	URL    string
	Secret string
	client *http.Client
}

func NewWebhook(url, secret string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Webhook{
		URL:    url,
		Secret: secret,
		client: &http.Client{Timeout: timeout},
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, deliveryID string, depositID int64, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(body, w.Secret))
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	req.Header.Set(DeliveryHeader, deliveryID)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return &StatusError{Status: resp.StatusCode, Body: string(snippet)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
