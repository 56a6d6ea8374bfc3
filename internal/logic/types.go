// Package logic contains the pure occupancy edge detection.
// This package has NO external dependencies (no network, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"errors"
	"fmt"
	"time"
)

// Signal is emitted on an occupancy edge.
type Signal string

const (
	SignalNone             Signal = ""
	SignalOccupancyStarted Signal = "OCCUPANCY_STARTED"
	SignalOccupancyEnded   Signal = "OCCUPANCY_ENDED"
)

// State is the occupancy state threaded through the driver.
// It is a value: the detector never mutates a State in place.
type State struct {
	// Occupied is true iff the last valid reading was > 0.
	Occupied bool
	// Baselined is false only until the first valid reading when the
	// first reading is treated as authoritative.
	Baselined bool
}

// NewState returns the initial state. With baselineFirst the first valid
// reading sets the state without emitting a signal; otherwise the room
// starts empty and the first reading > 0 emits SignalOccupancyStarted.
func NewState(baselineFirst bool) State {
	return State{Baselined: !baselineFirst}
}

// String renders the state for logs and status output.
func (s State) String() string {
	switch {
	case !s.Baselined:
		return "UNKNOWN"
	case s.Occupied:
		return "OCCUPIED"
	default:
		return "EMPTY"
	}
}

// ErrMalformedReading is wrapped by every reading parse failure.
var ErrMalformedReading = errors.New("malformed reading")

// MalformedReadingError reports a reading that is not a non-negative integer.
type MalformedReadingError struct {
	Raw    string
	Reason string
}

func (e *MalformedReadingError) Error() string {
	return fmt.Sprintf("malformed reading %q: %s", e.Raw, e.Reason)
}

// Unwrap lets errors.Is match ErrMalformedReading.
func (e *MalformedReadingError) Unwrap() error {
	return ErrMalformedReading
}

// EventCounts tracks the number of signals and rejected readings since startup.
type EventCounts struct {
	Started   int
	Ended     int
	Malformed int
}

// Record counts an emitted signal. SignalNone is ignored.
func (c *EventCounts) Record(sig Signal) {
	switch sig {
	case SignalOccupancyStarted:
		c.Started++
	case SignalOccupancyEnded:
		c.Ended++
	}
}

// RecordMalformed counts a rejected reading.
func (c *EventCounts) RecordMalformed() {
	c.Malformed++
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
