// Package status provides a thread-safe status tracker for the occupancy daemon.
// It is read by the HTTP handlers and the heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/occupancy-notifier/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	Mode        string
	Source      string
	PollMs      int64
	HeartbeatMs int64
	WebhookURL  string
	Join        string
	Broker      string
	HTTPAddr    string
}

// Delivery summarises notification outcomes.
type Delivery struct {
	OK        int
	Failed    int
	LastError string
	LastAt    time.Time
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	State           logic.State
	LastCount       int
	HaveCount       bool
	LastReading     time.Time
	Counts          logic.EventCounts
	Delivery        Delivery
	StartTime       time.Time
	Now             time.Time
	SourceConnected bool
	MQTTConnected   bool
	Config          Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update records the detector outcome of one reading.
// count is ignored when the reading was malformed (valid=false).
func (t *Tracker) Update(state logic.State, count int, valid bool, at time.Time, counts logic.EventCounts) {
	t.mu.Lock()
	t.snap.State = state
	if valid {
		t.snap.LastCount = count
		t.snap.HaveCount = true
	}
	t.snap.LastReading = at
	t.snap.Counts = counts
	t.mu.Unlock()
}

// RecordDelivery counts a delivery outcome. err is nil on success.
func (t *Tracker) RecordDelivery(target string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Delivery.LastAt = t.now()
	if err != nil {
		t.snap.Delivery.Failed++
		t.snap.Delivery.LastError = target + ": " + err.Error()
		return
	}
	t.snap.Delivery.OK++
}

// SetSourceConnected sets the count source connection status.
func (t *Tracker) SetSourceConnected(connected bool) {
	t.mu.Lock()
	t.snap.SourceConnected = connected
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT mirror connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
