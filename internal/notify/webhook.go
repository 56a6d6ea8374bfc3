package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// JoinMode controls how the endpoint is appended to the base URL.
// Neither mode normalises slashes: the base URL must be configured to match.
type JoinMode string

const (
	// JoinSlash yields base + "/" + endpoint.
	JoinSlash JoinMode = "slash"
	// JoinConcat yields base + endpoint.
	JoinConcat JoinMode = "concat"
)

// ParseJoinMode validates a configured join mode.
func ParseJoinMode(s string) (JoinMode, error) {
	switch JoinMode(strings.ToLower(s)) {
	case JoinSlash:
		return JoinSlash, nil
	case JoinConcat:
		return JoinConcat, nil
	}
	return "", fmt.Errorf("unknown join mode %q (want slash or concat)", s)
}

// Join builds the target URL for an endpoint.
func (m JoinMode) Join(base, endpoint string) string {
	if m == JoinSlash {
		return base + "/" + endpoint
	}
	return base + endpoint
}

// detailLimit caps how much of an error response body ends up in logs.
const detailLimit = 512

// Webhook POSTs notifications as JSON to an HTTP endpoint.
// Certificate validation is disabled: room devices talk to self-signed servers.
type Webhook struct {
	baseURL string
	join    JoinMode
	client  *http.Client
}

// NewWebhook creates a webhook notifier. A zero timeout means 10 seconds.
func NewWebhook(baseURL string, join JoinMode, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed endpoints
	}
	return &Webhook{
		baseURL: baseURL,
		join:    join,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// Name identifies the notifier in logs.
func (w *Webhook) Name() string {
	return "webhook"
}

// URL returns the target URL for an endpoint.
func (w *Webhook) URL(endpoint string) string {
	return w.join.Join(w.baseURL, endpoint)
}

// Notify sends one POST and returns a *DeliveryError on failure.
func (w *Webhook) Notify(ctx context.Context, n Notification) error {
	target := w.URL(n.Endpoint)

	body, err := EncodeBody(n)
	if err != nil {
		return &DeliveryError{Endpoint: n.Endpoint, URL: target, Err: fmt.Errorf("encode body: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Endpoint: n.Endpoint, URL: target, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if n.ID != "" {
		req.Header.Set("X-Request-ID", n.ID)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return &DeliveryError{Endpoint: n.Endpoint, URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, detailLimit))
		return &DeliveryError{
			Endpoint:   n.Endpoint,
			URL:        target,
			StatusCode: resp.StatusCode,
			Detail:     strings.TrimSpace(string(detail)),
			Err:        fmt.Errorf("non-2xx response: %s", resp.Status),
		}
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Close releases idle connections.
func (w *Webhook) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
