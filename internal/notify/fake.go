package notify

import (
	"context"
	"sync"
)

// FakeNotifier records notifications for test assertions.
// Safe for concurrent use, since the Dispatcher calls it from goroutines.
type FakeNotifier struct {
	mu sync.Mutex

	notifications []Notification
	systemEvents  []SystemEvent

	// NotifyError, if set, will be returned by Notify (after recording).
	NotifyError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	closed bool
}

// NewFakeNotifier creates a FakeNotifier for testing.
func NewFakeNotifier() *FakeNotifier {
	return &FakeNotifier{}
}

// Name identifies the fake in logs.
func (f *FakeNotifier) Name() string {
	return "fake"
}

// Notify records the notification.
func (f *FakeNotifier) Notify(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, n)
	return f.NotifyError
}

// PublishSystem records the system event.
func (f *FakeNotifier) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	f.systemEvents = append(f.systemEvents, event)
	return nil
}

// Close marks the notifier as closed.
func (f *FakeNotifier) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Notifications returns a copy of everything passed to Notify.
func (f *FakeNotifier) Notifications() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.notifications...)
}

// SystemEvents returns a copy of everything passed to PublishSystem.
func (f *FakeNotifier) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// Closed reports whether Close was called.
func (f *FakeNotifier) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears recorded notifications and events.
func (f *FakeNotifier) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = nil
	f.systemEvents = nil
	f.closed = false
	f.NotifyError = nil
	f.PublishSystemError = nil
}
