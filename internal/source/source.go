// Package source provides people-count readings from the room device.
// Readings are handed over raw; parsing is left to the detector so that
// malformed values are reported in one place.
package source

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by sources that cannot run on this platform.
var ErrNotSupported = errors.New("source: not supported on this platform")

// Poller is queried on every poll tick.
type Poller interface {
	// Read returns the current raw people count.
	Read(ctx context.Context) (string, error)

	// Close releases resources.
	Close() error
}

// Watcher pushes readings as the device reports them.
type Watcher interface {
	// Watch delivers raw readings on out until ctx is done.
	// It returns nil on cancellation.
	Watch(ctx context.Context, out chan<- string) error

	// Close releases resources.
	Close() error
}

// PeopleCountPath is the xAPI status path of the current people count.
var PeopleCountPath = []string{"Status", "RoomAnalytics", "PeopleCount", "Current"}

// send delivers a reading unless ctx ends first.
func send(ctx context.Context, out chan<- string, raw string) bool {
	select {
	case out <- raw:
		return true
	case <-ctx.Done():
		return false
	}
}
