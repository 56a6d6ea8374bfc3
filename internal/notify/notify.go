// Package notify delivers occupancy signals to downstream endpoints.
// Notifiers are synchronous and report the outcome; the Dispatcher turns
// them into fire-and-forget deliveries for the driver.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/occupancy-notifier/internal/logic"
)

// Endpoint path suffixes used by the two driver modes.
const (
	EndpointSessionStart = "sessionStart"
	EndpointSessionReset = "sessionReset"
)

// Notification is one outbound occupancy signal.
type Notification struct {
	ID        string
	Timestamp time.Time
	Signal    logic.Signal
	// Endpoint is the path suffix appended to the configured base URL.
	Endpoint string
	// Body is encoded as the JSON request body; nil encodes as {}.
	Body map[string]any
}

// NewNotification creates a notification with a fresh ID.
func NewNotification(sig logic.Signal, endpoint string, body map[string]any, now time.Time) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Timestamp: now,
		Signal:    sig,
		Endpoint:  endpoint,
		Body:      body,
	}
}

// Notifier delivers a notification and reports the outcome.
type Notifier interface {
	// Notify blocks until the delivery succeeded or failed.
	Notify(ctx context.Context, n Notification) error

	// Close releases connections.
	Close() error
}

// Named is implemented by notifiers that want a readable name in logs.
type Named interface {
	Name() string
}

// EncodeBody returns the JSON body sent for n.
func EncodeBody(n Notification) ([]byte, error) {
	if n.Body == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(n.Body)
}

// DeliveryError describes a failed delivery.
type DeliveryError struct {
	Endpoint   string
	URL        string
	StatusCode int    // 0 when no response was received
	Detail     string // response body excerpt, if any
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("deliver %s: status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("deliver %s: %v", e.Endpoint, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// SystemEvent represents a daemon lifecycle event (startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SystemPublisher publishes lifecycle events. Only the MQTT mirror does.
type SystemPublisher interface {
	PublishSystem(event SystemEvent) error
}

// Payload is the MQTT mirror representation of a notification.
type Payload struct {
	Occupancy OccupancyPayload `json:"occupancy"`
}

// OccupancyPayload contains the occupancy event details.
type OccupancyPayload struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Event     string         `json:"event"`
	Endpoint  string         `json:"endpoint"`
	Body      map[string]any `json:"body,omitempty"`
}

// FormatPayload creates the JSON payload for a mirrored notification.
func FormatPayload(n Notification) ([]byte, error) {
	return json.Marshal(Payload{
		Occupancy: OccupancyPayload{
			ID:        n.ID,
			Timestamp: n.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(n.Signal),
			Endpoint:  n.Endpoint,
			Body:      n.Body,
		},
	})
}

// SystemPayload is used for simple events (LWT, RECONNECTED) that don't
// carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
