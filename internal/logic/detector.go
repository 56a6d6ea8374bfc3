package logic

import (
	"strconv"
	"strings"
	"time"
)

// ParseReading converts a raw sensor value into a person count.
// Non-numeric and negative values are rejected with a *MalformedReadingError.
func ParseReading(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, &MalformedReadingError{Raw: raw, Reason: "empty"}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &MalformedReadingError{Raw: raw, Reason: "not an integer"}
	}
	if n < 0 {
		return 0, &MalformedReadingError{Raw: raw, Reason: "negative count"}
	}
	return n, nil
}

// Evaluate applies one reading to the prior state and returns the new state
// and the signal for the edge, if any. Only the 0 <-> >0 boundary matters.
func Evaluate(reading int, prior State) (State, Signal) {
	if !prior.Baselined {
		return State{Occupied: reading > 0, Baselined: true}, SignalNone
	}

	switch {
	case !prior.Occupied && reading > 0:
		return State{Occupied: true, Baselined: true}, SignalOccupancyStarted
	case prior.Occupied && reading == 0:
		return State{Occupied: false, Baselined: true}, SignalOccupancyEnded
	}
	return prior, SignalNone
}

// Detector combines parsing and evaluation, and keeps the counters and
// heartbeat schedule. It does not own the occupancy State.
type Detector struct {
	startTime     time.Time
	eventCounts   EventCounts
	lastHeartbeat time.Time
}

// NewDetector creates a detector. The startTime is used for calculating
// uptime in heartbeat events.
func NewDetector(startTime time.Time) *Detector {
	return &Detector{
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Process parses raw and evaluates it against prior. On a malformed reading
// the prior state is returned unchanged together with the parse error.
func (d *Detector) Process(raw string, prior State) (State, Signal, error) {
	n, err := ParseReading(raw)
	if err != nil {
		d.RecordMalformed()
		return prior, SignalNone, err
	}

	next, sig := d.Apply(n, prior)
	return next, sig, nil
}

// Apply evaluates an already parsed reading and counts the signal.
func (d *Detector) Apply(reading int, prior State) (State, Signal) {
	next, sig := Evaluate(reading, prior)
	d.eventCounts.Record(sig)
	return next, sig
}

// RecordMalformed counts a reading that failed to parse.
func (d *Detector) RecordMalformed() {
	d.eventCounts.RecordMalformed()
}

// EventCountsSnapshot returns a copy of the counters.
func (d *Detector) EventCountsSnapshot() EventCounts {
	return d.eventCounts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed,
// or if interval is <= 0 (disabled).
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.eventCounts,
	}
}
