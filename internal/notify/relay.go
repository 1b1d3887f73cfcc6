package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notification is a push/in-app message. Delivery is always
// best-effort relative to the ride transition that produced it.
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	SenderID string            `json:"sender_id,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
}

// Relay delivers one notification to one recipient.
type Relay interface {
	Send(ctx context.Context, recipientID string, n Notification) error
}

// HTTPRelay posts notifications to a push provider (FCM-style HTTP
// endpoint with bearer auth).
type HTTPRelay struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewHTTPRelay(endpoint, key string) *HTTPRelay {
	return &HTTPRelay{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (r *HTTPRelay) Send(ctx context.Context, recipientID string, n Notification) error {
	body := map[string]any{
		"message": map[string]any{
			"recipient": recipientID,
			"title":     n.Title,
			"body":      n.Body,
			"sender_id": n.SenderID,
			"data":      n.Data,
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.Key != "" {
		req.Header.Set("Authorization", "Bearer "+r.Key)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push provider returned %d", resp.StatusCode)
	}
	return nil
}
