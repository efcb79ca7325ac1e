package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Webhook POSTs each notification as JSON to a URL.
type Webhook struct {
	client *http.Client
	url    string
}

func NewWebhook(url string) *Webhook {
	return &Webhook{client: &http.Client{Timeout: 5 * time.Second}, url: url}
}

func (w *Webhook) Notify(ctx context.Context, n Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// Bell rings the terminal bell: two beeps for a warning, three for an alert.
type Bell struct {
	W io.Writer
}

func (b Bell) Notify(_ context.Context, n Notification) error {
	if b.W == nil {
		return nil
	}
	seq := "\a\a"
	if n.Type == TypeAlert {
		seq = "\a\a\a"
	}
	_, err := io.WriteString(b.W, seq)
	return err
}
