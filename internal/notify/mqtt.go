package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// Topic suffixes below the configured prefix.
const (
	TopicEvents = "events"
	TopicSystem = "system"
)

// DefaultBufferSize is how many messages are held while the broker is away.
const DefaultBufferSize = 100

// MQTTConfig configures the MQTT mirror.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	BufferSize  int
}

// MQTT mirrors notifications and lifecycle events to a broker.
// Messages published while disconnected are buffered and replayed on reconnect.
type MQTT struct {
	client paho.Client
	prefix string

	mu  sync.Mutex
	box *outbox
}

// NewMQTT connects to the broker. The connection is retried in the
// background by paho, so a broker that is down at startup is not fatal.
func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	m := newMQTT(nil, cfg.TopicPrefix, cfg.BufferSize)

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "LWT"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(m.topic(TopicSystem), will, 1, true).
		SetOnConnectHandler(m.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost")
		})

	m.client = paho.NewClient(opts)
	token := m.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Warn().Str("broker", cfg.Broker).Msg("mqtt connect still pending, continuing in background")
		return m, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return m, nil
}

func newMQTT(client paho.Client, prefix string, bufferSize int) *MQTT {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &MQTT{
		client: client,
		prefix: prefix,
		box:    newOutbox(bufferSize),
	}
}

func (m *MQTT) topic(suffix string) string {
	if m.prefix == "" {
		return suffix
	}
	return m.prefix + "/" + suffix
}

// Name identifies the notifier in logs.
func (m *MQTT) Name() string {
	return "mqtt"
}

// Notify publishes the notification to <prefix>/events at QoS 0.
func (m *MQTT) Notify(_ context.Context, n Notification) error {
	payload, err := FormatPayload(n)
	if err != nil {
		return &DeliveryError{Endpoint: n.Endpoint, Err: fmt.Errorf("format payload: %w", err)}
	}
	if err := m.publish(m.topic(TopicEvents), 0, false, payload); err != nil {
		return &DeliveryError{Endpoint: n.Endpoint, URL: m.topic(TopicEvents), Err: err}
	}
	return nil
}

// PublishSystem publishes a lifecycle event to <prefix>/system at QoS 1.
func (m *MQTT) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return m.publish(m.topic(TopicSystem), 1, event.Retained, payload)
}

// IsConnected reports whether the broker connection is up. paho's own
// IsConnected is also true while an auto-reconnect is pending, so the open
// connection is checked instead.
func (m *MQTT) IsConnected() bool {
	return m.client != nil && m.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (m *MQTT) Buffered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.box.size()
}

func (m *MQTT) publish(topic string, qos byte, retained bool, payload []byte) error {
	m.mu.Lock()
	if !m.IsConnected() {
		m.box.add(pendingMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	token := m.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// onConnect replays buffered messages in order.
func (m *MQTT) onConnect(c paho.Client) {
	m.mu.Lock()
	pending, dropped := m.box.take()
	m.mu.Unlock()

	if dropped > 0 {
		log.Warn().Int("dropped", dropped).Msg("mqtt outbox overflowed while disconnected")
	}
	if len(pending) == 0 {
		return
	}
	log.Info().Int("messages", len(pending)).Msg("mqtt connected, replaying outbox")
	for _, msg := range pending {
		token := c.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", msg.topic).Msg("mqtt replay failed")
		}
	}
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	if m.client != nil {
		m.client.Disconnect(1000)
	}
	return nil
}
