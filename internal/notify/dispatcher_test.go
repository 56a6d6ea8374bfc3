package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/occupancy-notifier/internal/logic"
)

// blockingNotifier holds every delivery until release is closed.
type blockingNotifier struct {
	release chan struct{}
	started chan struct{}
}

func (b *blockingNotifier) Notify(context.Context, Notification) error {
	b.started <- struct{}{}
	<-b.release
	return nil
}

func (b *blockingNotifier) Close() error { return nil }

func TestDispatchDeliversToAllTargets(t *testing.T) {
	a := NewFakeNotifier()
	b := NewFakeNotifier()
	d := NewDispatcher(a, b)

	n := NewNotification(logic.SignalOccupancyStarted, EndpointSessionStart, nil, time.Now())
	d.Dispatch(n)
	d.Wait()

	for i, f := range []*FakeNotifier{a, b} {
		got := f.Notifications()
		if len(got) != 1 {
			t.Fatalf("target %d: expected 1 notification, got %d", i, len(got))
		}
		if got[0].ID != n.ID {
			t.Errorf("target %d: wrong notification %s", i, got[0].ID)
		}
	}
}

func TestDispatchDoesNotBlock(t *testing.T) {
	bn := &blockingNotifier{release: make(chan struct{}), started: make(chan struct{}, 2)}
	d := NewDispatcher(bn)

	done := make(chan struct{})
	go func() {
		d.Dispatch(NewNotification(logic.SignalOccupancyStarted, EndpointSessionStart, nil, time.Now()))
		d.Dispatch(NewNotification(logic.SignalOccupancyEnded, EndpointSessionReset, nil, time.Now()))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on an in-flight delivery")
	}

	// Both deliveries are in flight at the same time: nothing serialises them.
	for i := 0; i < 2; i++ {
		select {
		case <-bn.started:
		case <-time.After(time.Second):
			t.Fatalf("delivery %d never started", i)
		}
	}
	close(bn.release)
	d.Wait()
}

func TestDispatchSwallowsFailures(t *testing.T) {
	f := NewFakeNotifier()
	f.NotifyError = &DeliveryError{Endpoint: EndpointSessionStart, StatusCode: 502, Err: errors.New("bad gateway")}
	d := NewDispatcher(f)

	var mu sync.Mutex
	var results []error
	d.OnResult(func(target string, n Notification, err error) {
		mu.Lock()
		defer mu.Unlock()
		if target != "fake" {
			t.Errorf("target: got %q, want fake", target)
		}
		results = append(results, err)
	})

	d.Dispatch(NewNotification(logic.SignalOccupancyStarted, EndpointSessionStart, nil, time.Now()))
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	var de *DeliveryError
	if !errors.As(results[0], &de) || de.StatusCode != 502 {
		t.Errorf("expected delivery error with status 502, got %v", results[0])
	}
	// Exactly one attempt: no retries.
	if len(f.Notifications()) != 1 {
		t.Errorf("expected 1 attempt, got %d", len(f.Notifications()))
	}
}

func TestDispatcherClose(t *testing.T) {
	f := NewFakeNotifier()
	d := NewDispatcher(f)
	d.Dispatch(NewNotification(logic.SignalOccupancyEnded, EndpointSessionReset, nil, time.Now()))

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !f.Closed() {
		t.Error("target should be closed")
	}
	if len(f.Notifications()) != 1 {
		t.Error("Close should wait for in-flight deliveries")
	}
}
