package source

import (
	"context"
	"errors"
	"sync"
)

// FakePoller is a test double that returns scripted readings.
type FakePoller struct {
	mu sync.Mutex

	// Readings contains scripted raw values. Each Read consumes the next;
	// once exhausted the last value repeats.
	Readings []string

	index int

	// ReadError, if set, will be returned by Read.
	ReadError error

	closed bool
}

// NewFakePoller creates a FakePoller with the given readings.
func NewFakePoller(readings ...string) *FakePoller {
	return &FakePoller{Readings: readings}
}

// Read returns the next scripted reading.
func (f *FakePoller) Read(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReadError != nil {
		return "", f.ReadError
	}
	if len(f.Readings) == 0 {
		return "", errors.New("no readings configured")
	}

	r := f.Readings[f.index]
	if f.index < len(f.Readings)-1 {
		f.index++
	}
	return r, nil
}

// Close marks the poller as closed.
func (f *FakePoller) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakePoller) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakeWatcher pushes its scripted readings once and then waits for cancellation.
type FakeWatcher struct {
	Readings []string
}

// Watch sends every reading, then blocks until ctx is done.
func (f *FakeWatcher) Watch(ctx context.Context, out chan<- string) error {
	for _, r := range f.Readings {
		if !send(ctx, out, r) {
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

// Close is a no-op.
func (f *FakeWatcher) Close() error {
	return nil
}
