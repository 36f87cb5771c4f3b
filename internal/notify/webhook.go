package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// DefaultWebhookTimeout bounds one webhook POST.
const DefaultWebhookTimeout = 5 * time.Second

// Webhook POSTs messages to a subscriber URL.
type Webhook struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewWebhook returns a Webhook sink for url.
func NewWebhook(client *http.Client, url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &Webhook{url: url, client: client, timeout: timeout}
}

// ParseURLs splits a comma-separated URL list, dropping blanks.
func ParseURLs(csv string) []string {
	var out []string
	for _, u := range strings.Split(csv, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func (w *Webhook) Kind() string { return "webhook" }

func (w *Webhook) Deliver(ctx context.Context, m Message) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(m.Body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", m.Type)

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "post %s", w.url)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("post %s: status %d", w.url, resp.StatusCode)
	}
	return nil
}

func (w *Webhook) Close() error { return nil }
