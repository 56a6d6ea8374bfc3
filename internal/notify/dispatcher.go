package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// ResultFunc observes the outcome of one delivery. err is nil on success.
type ResultFunc func(target string, n Notification, err error)

// Dispatcher fans notifications out to its targets without blocking the
// caller. Each delivery runs on its own goroutine; the outcome is only
// logged and reported to the observer, never returned. There are no retries
// and overlapping deliveries are not serialised.
type Dispatcher struct {
	targets  []Notifier
	onResult ResultFunc
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given targets.
func NewDispatcher(targets ...Notifier) *Dispatcher {
	return &Dispatcher{targets: targets}
}

// OnResult sets the delivery observer. Must be called before Dispatch.
func (d *Dispatcher) OnResult(fn ResultFunc) {
	d.onResult = fn
}

// Dispatch starts delivering n to every target and returns immediately.
func (d *Dispatcher) Dispatch(n Notification) {
	for _, target := range d.targets {
		d.wg.Add(1)
		go func(target Notifier) {
			defer d.wg.Done()
			d.deliver(target, n)
		}(target)
	}
}

func (d *Dispatcher) deliver(target Notifier, n Notification) {
	name := targetName(target)

	log.Info().
		Str("target", name).
		Str("endpoint", n.Endpoint).
		Str("signal", string(n.Signal)).
		Str("id", n.ID).
		Msg("sending signal")

	// Deliveries are not cancellable: once issued they run to completion.
	err := target.Notify(context.Background(), n)
	if err != nil {
		logFailure(name, n, err)
	} else {
		log.Info().
			Str("target", name).
			Str("endpoint", n.Endpoint).
			Str("id", n.ID).
			Msg("signal delivered")
	}

	if d.onResult != nil {
		d.onResult(name, n, err)
	}
}

func logFailure(name string, n Notification, err error) {
	ev := log.Error().
		Str("target", name).
		Str("endpoint", n.Endpoint).
		Str("signal", string(n.Signal)).
		Str("id", n.ID)

	var de *DeliveryError
	if errors.As(err, &de) {
		if de.URL != "" {
			ev = ev.Str("url", de.URL)
		}
		if de.StatusCode != 0 {
			ev = ev.Int("status", de.StatusCode)
		}
		if de.Detail != "" {
			ev = ev.Str("detail", de.Detail)
		}
	}
	ev.Err(err).Msg("signal delivery failed")
}

// Wait blocks until all in-flight deliveries finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close waits for in-flight deliveries and closes every target.
func (d *Dispatcher) Close() error {
	d.Wait()
	var errs []error
	for _, target := range d.targets {
		if err := target.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func targetName(n Notifier) string {
	if named, ok := n.(Named); ok {
		return named.Name()
	}
	return "notifier"
}
