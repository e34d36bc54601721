package sink

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/connwatchhq/agent/internal/record"
)

const webhookTimeout = 5 * time.Second

// Webhook pushes each record to an HTTP endpoint as a single POST, body
// identical to the persisted log line. Best-effort: the caller discards
// failures after logging them.
type Webhook struct {
	url        string
	token      string
	httpClient *http.Client
}

// WebhookOptions tune the sink; HTTPClient overrides are for tests.
type WebhookOptions struct {
	Token         string
	SkipTLSVerify bool
	HTTPClient    *http.Client
}

func NewWebhook(url string, opts WebhookOptions) *Webhook {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.SkipTLSVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		httpClient = &http.Client{
			Timeout:   webhookTimeout,
			Transport: transport,
		}
	}
	return &Webhook{url: url, token: opts.Token, httpClient: httpClient}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Deliver(ctx context.Context, m record.Measurement, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "connwatch-agent/0.1.0")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook rejected record: status %s", resp.Status)
	}
	return nil
}
