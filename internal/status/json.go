package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Occupancy     string       `json:"occupancy"`
	Count         *int         `json:"count,omitempty"`
	LastReading   string       `json:"last_reading,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Source        SourceJSON   `json:"source"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Delivery      DeliveryJSON `json:"delivery"`
	Config        ConfigJSON   `json:"config"`
}

// SourceJSON reports the count source.
type SourceJSON struct {
	Kind      string `json:"kind"`
	Connected bool   `json:"connected"`
}

// MQTTStatus reports MQTT mirror connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker,omitempty"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Started   int `json:"started"`
	Ended     int `json:"ended"`
	Malformed int `json:"malformed"`
}

// DeliveryJSON is the JSON representation of delivery outcomes.
type DeliveryJSON struct {
	OK        int    `json:"ok"`
	Failed    int    `json:"failed"`
	LastError string `json:"last_error,omitempty"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Mode        string `json:"mode"`
	PollMs      int64  `json:"poll_ms,omitempty"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	WebhookURL  string `json:"webhook_url"`
	Join        string `json:"join"`
	HTTPAddr    string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Occupancy:     snap.State.String(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Source:        SourceJSON{Kind: snap.Config.Source, Connected: snap.SourceConnected},
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Started:   snap.Counts.Started,
			Ended:     snap.Counts.Ended,
			Malformed: snap.Counts.Malformed,
		},
		Delivery: DeliveryJSON{
			OK:        snap.Delivery.OK,
			Failed:    snap.Delivery.Failed,
			LastError: snap.Delivery.LastError,
		},
		Config: ConfigJSON{
			Mode:        snap.Config.Mode,
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			WebhookURL:  snap.Config.WebhookURL,
			Join:        snap.Config.Join,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
	if snap.HaveCount {
		count := snap.LastCount
		inner.Count = &count
	}
	if !snap.LastReading.IsZero() {
		inner.LastReading = snap.LastReading.UTC().Format(time.RFC3339)
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
