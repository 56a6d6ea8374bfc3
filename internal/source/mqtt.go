package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// MQTTWatcherConfig configures a broker-backed count source.
type MQTTWatcherConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// MQTTWatcher forwards payloads published on a topic as raw readings.
// The subscription is re-established on every (re)connect.
type MQTTWatcher struct {
	cfg MQTTWatcherConfig

	// OnConnect, if set, is called with true once subscribed and false
	// when the connection is lost.
	OnConnect func(connected bool)

	mu     sync.Mutex
	client paho.Client
}

// NewMQTTWatcher creates a watcher; the connection is made in Watch.
func NewMQTTWatcher(cfg MQTTWatcherConfig) *MQTTWatcher {
	return &MQTTWatcher{cfg: cfg}
}

// Watch connects, subscribes and blocks until ctx is done.
func (w *MQTTWatcher) Watch(ctx context.Context, out chan<- string) error {
	handler := w.handler(ctx, out)

	opts := paho.NewClientOptions().
		AddBroker(w.cfg.Broker).
		SetClientID(w.cfg.ClientID).
		SetUsername(w.cfg.Username).
		SetPassword(w.cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(c paho.Client) {
			if token := c.Subscribe(w.cfg.Topic, 0, handler); token.Wait() && token.Error() != nil {
				log.Error().Err(token.Error()).Str("topic", w.cfg.Topic).Msg("mqtt subscribe failed")
				return
			}
			log.Info().Str("topic", w.cfg.Topic).Msg("subscribed to people count topic")
			if w.OnConnect != nil {
				w.OnConnect(true)
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Str("broker", w.cfg.Broker).Msg("mqtt source connection lost")
			if w.OnConnect != nil {
				w.OnConnect(false)
			}
		})

	client := paho.NewClient(opts)
	w.mu.Lock()
	w.client = client
	w.mu.Unlock()

	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("connect to broker: %w", err)
		}
	case <-ctx.Done():
		client.Disconnect(250)
		return nil
	}

	<-ctx.Done()
	client.Disconnect(250)
	return nil
}

// handler forwards each payload. It runs on paho's goroutine.
func (w *MQTTWatcher) handler(ctx context.Context, out chan<- string) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		send(ctx, out, string(msg.Payload()))
	}
}

// IsConnected reports the broker connection state.
func (w *MQTTWatcher) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.client != nil && w.client.IsConnectionOpen()
}

// Close is a no-op; the connection ends with the Watch context.
func (w *MQTTWatcher) Close() error {
	return nil
}
