package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// BackoffConfig controls reconnection of long-lived source connections.
type BackoffConfig struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Multiplier float64
}

// DefaultBackoff is used when a zero BackoffConfig is given.
var DefaultBackoff = BackoffConfig{
	MinBackoff: time.Second,
	MaxBackoff: time.Minute,
	Multiplier: 2,
}

// rpcRequest is a JSON-RPC 2.0 request as accepted by the xAPI websocket.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcMessage covers responses and notifications.
type rpcMessage struct {
	ID     *string         `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Params json.RawMessage `json:"params"`
}

type subscribeParams struct {
	Query              []string `json:"Query"`
	NotifyCurrentValue bool     `json:"NotifyCurrentValue"`
}

// XAPIWatcher subscribes to people count feedback over the device's
// JSON-RPC websocket and reconnects with exponential backoff.
type XAPIWatcher struct {
	device  Device
	dialer  *websocket.Dialer
	backoff BackoffConfig

	// OnConnect, if set, is called with true after a subscription is
	// established and false when the connection drops.
	OnConnect func(connected bool)
}

// NewXAPIWatcher creates a watcher for the device.
func NewXAPIWatcher(device Device, backoff BackoffConfig) *XAPIWatcher {
	if backoff.MinBackoff <= 0 {
		backoff = DefaultBackoff
	}
	return &XAPIWatcher{
		device: device,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			TLSClientConfig:  insecureTLS(),
		},
		backoff: backoff,
	}
}

// Watch runs until ctx is done, reconnecting on failures.
func (w *XAPIWatcher) Watch(ctx context.Context, out chan<- string) error {
	retry := 0
	current := w.backoff.MinBackoff

	for {
		if ctx.Err() != nil {
			return nil
		}

		subscribed, err := w.session(ctx, out)
		if w.OnConnect != nil && subscribed {
			w.OnConnect(false)
		}
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			retry = 0
			current = w.backoff.MinBackoff
		}

		retry++
		log.Warn().
			Err(err).
			Dur("backoff", current).
			Int("retry", retry).
			Msg("xapi websocket disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(current):
		}

		next := time.Duration(float64(current) * w.backoff.Multiplier)
		if next > w.backoff.MaxBackoff {
			next = w.backoff.MaxBackoff
		}
		current = next
	}
}

// session runs one connection. subscribed reports whether the feedback
// subscription was accepted before the session ended.
func (w *XAPIWatcher) session(ctx context.Context, out chan<- string) (subscribed bool, err error) {
	u, err := w.device.baseURL()
	if err != nil {
		return false, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/ws"

	header := http.Header{}
	if w.device.Username != "" {
		creds := w.device.Username + ":" + w.device.Password
		header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(creds)))
	}

	conn, resp, err := w.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial %s: %w (status %d)", u, err, resp.StatusCode)
		}
		return false, fmt.Errorf("dial %s: %w", u, err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the context ends.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	subID := uuid.NewString()
	err = conn.WriteJSON(rpcRequest{
		JSONRPC: "2.0",
		ID:      subID,
		Method:  "xFeedback/Subscribe",
		Params: subscribeParams{
			Query:              PeopleCountPath,
			NotifyCurrentValue: true,
		},
	})
	if err != nil {
		return false, fmt.Errorf("send subscribe: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return subscribed, fmt.Errorf("read: %w", err)
		}

		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Msg("ignoring undecodable xapi message")
			continue
		}

		if msg.ID != nil && *msg.ID == subID {
			if msg.Error != nil {
				return false, fmt.Errorf("subscribe rejected: %d %s", msg.Error.Code, msg.Error.Message)
			}
			subscribed = true
			log.Info().Str("device", u.Host).Msg("subscribed to people count feedback")
			if w.OnConnect != nil {
				w.OnConnect(true)
			}
			continue
		}

		if msg.Method != "xFeedback/Event" {
			continue
		}
		raw, ok, err := extractFeedback(msg.Params)
		if err != nil {
			log.Debug().Err(err).Msg("ignoring unexpected feedback shape")
			continue
		}
		if ok && !send(ctx, out, raw) {
			return subscribed, ctx.Err()
		}
	}
}

var errNotObject = errors.New("feedback node is not an object")

// extractFeedback walks params.Status.RoomAnalytics.PeopleCount.Current.
// ok is false when the event concerns another status node.
func extractFeedback(params json.RawMessage) (raw string, ok bool, err error) {
	node := params
	for _, key := range PeopleCountPath {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(node, &obj); err != nil {
			return "", false, errNotObject
		}
		next, found := obj[key]
		if !found {
			return "", false, nil
		}
		node = next
	}

	var s string
	if err := json.Unmarshal(node, &s); err == nil {
		return s, true, nil
	}
	// Numbers and anything else are handed over verbatim for the detector to judge.
	return strings.TrimSpace(string(node)), true, nil
}

// Close is a no-op; connections end with the Watch context.
func (w *XAPIWatcher) Close() error {
	return nil
}
