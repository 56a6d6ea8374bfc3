// Package driver connects a count source to the occupancy detector and
// hands emitted signals to the dispatcher.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sweeney/occupancy-notifier/internal/logic"
	"github.com/sweeney/occupancy-notifier/internal/notify"
	"github.com/sweeney/occupancy-notifier/internal/source"
	"github.com/sweeney/occupancy-notifier/internal/status"
)

// Mode selects the endpoint and body layout of outgoing notifications.
type Mode string

const (
	// ModePush posts to sessionStart/sessionReset with an empty body.
	ModePush Mode = "push"
	// ModePoll posts to /sessionStart with {"count": n} and to /sessionReset.
	ModePoll Mode = "poll"
)

// DefaultPollInterval is the poll mode tick.
const DefaultPollInterval = time.Second

// Dispatcher delivers notifications without blocking the caller.
type Dispatcher interface {
	Dispatch(n notify.Notification)
}

// ConnectionStatus reports whether a connection is up.
type ConnectionStatus interface {
	IsConnected() bool
}

// Config configures a Driver. Only Mode is required.
type Config struct {
	Mode Mode

	// BaselineFirstReading makes the first valid reading set the state
	// without emitting a signal.
	BaselineFirstReading bool

	// Heartbeat is the lifecycle heartbeat interval; 0 disables it.
	Heartbeat time.Duration

	// Tracker, if set, receives every outcome for the status page.
	Tracker *status.Tracker

	// System, if set, receives HEARTBEAT events.
	System notify.SystemPublisher

	// MQTTStatus, if set, is copied into the tracker.
	MQTTStatus ConnectionStatus
}

// Driver owns the occupancy State. Its run loops are the only writers.
type Driver struct {
	cfg        Config
	state      logic.State
	detector   *logic.Detector
	dispatcher Dispatcher
	now        func() time.Time
}

// New creates a Driver. now is used for the start time and poll ticks.
func New(cfg Config, dispatcher Dispatcher, now func() time.Time) (*Driver, error) {
	switch cfg.Mode {
	case ModePush, ModePoll:
	default:
		return nil, fmt.Errorf("unknown driver mode %q", cfg.Mode)
	}
	if now == nil {
		now = time.Now
	}
	d := &Driver{
		cfg:        cfg,
		state:      logic.NewState(cfg.BaselineFirstReading),
		detector:   logic.NewDetector(now()),
		dispatcher: dispatcher,
		now:        now,
	}
	if cfg.Tracker != nil {
		cfg.Tracker.Update(d.state, 0, false, time.Time{}, logic.EventCounts{})
	}
	return d, nil
}

// State returns the current occupancy state.
func (d *Driver) State() logic.State {
	return d.state
}

// Counts returns the signal and malformed reading counters.
func (d *Driver) Counts() logic.EventCounts {
	return d.detector.EventCountsSnapshot()
}

// HandleReading runs one raw reading through the detector and dispatches
// the resulting signal, if any. A malformed reading leaves the state alone.
func (d *Driver) HandleReading(raw string, now time.Time) logic.Signal {
	log.Info().Str("raw", raw).Str("state", d.state.String()).Msg("reading")

	prior := d.state
	next, sig, err := d.detector.Process(raw, prior)
	if err != nil {
		log.Warn().Err(err).Str("raw", raw).Msg("ignoring malformed reading")
		d.updateTracker(0, false, now)
		return logic.SignalNone
	}
	d.state = next

	// raw parsed cleanly inside Process; the count feeds the body and status.
	n, _ := logic.ParseReading(raw)

	if !prior.Baselined && d.state.Baselined {
		log.Info().Int("count", n).Str("state", d.state.String()).Msg("baseline established")
	}

	if sig != logic.SignalNone {
		note := d.notification(sig, n, now)
		log.Info().
			Str("signal", string(sig)).
			Int("count", n).
			Str("endpoint", note.Endpoint).
			Msg("occupancy changed")
		d.dispatcher.Dispatch(note)
	}

	d.updateTracker(n, true, now)
	return sig
}

// notification builds the outgoing request for the driver's mode.
func (d *Driver) notification(sig logic.Signal, count int, now time.Time) notify.Notification {
	endpoint := notify.EndpointSessionReset
	if sig == logic.SignalOccupancyStarted {
		endpoint = notify.EndpointSessionStart
	}

	if d.cfg.Mode == ModePush {
		return notify.NewNotification(sig, endpoint, nil, now)
	}

	var body map[string]any
	if sig == logic.SignalOccupancyStarted {
		body = map[string]any{"count": count}
	}
	return notify.NewNotification(sig, "/"+endpoint, body, now)
}

func (d *Driver) updateTracker(count int, valid bool, now time.Time) {
	if d.cfg.Tracker == nil {
		return
	}
	d.cfg.Tracker.Update(d.state, count, valid, now, d.detector.EventCountsSnapshot())
	if d.cfg.MQTTStatus != nil {
		d.cfg.Tracker.SetMQTTConnected(d.cfg.MQTTStatus.IsConnected())
	}
}

// checkHeartbeat publishes a HEARTBEAT event when the interval elapsed.
func (d *Driver) checkHeartbeat(now time.Time) {
	hb := d.detector.CheckHeartbeat(now, d.cfg.Heartbeat)
	if hb == nil {
		return
	}

	log.Info().
		Dur("uptime", hb.Uptime).
		Int("started", hb.Counts.Started).
		Int("ended", hb.Counts.Ended).
		Int("malformed", hb.Counts.Malformed).
		Msg("heartbeat")

	if d.cfg.System == nil {
		return
	}
	event := notify.SystemEvent{
		Timestamp: hb.Timestamp,
		Event:     "HEARTBEAT",
	}
	if d.cfg.Tracker != nil {
		if d.cfg.MQTTStatus != nil {
			d.cfg.Tracker.SetMQTTConnected(d.cfg.MQTTStatus.IsConnected())
		}
		event.RawPayload = status.FormatStatusEvent(d.cfg.Tracker.Snapshot(), "HEARTBEAT", "")
	}
	if err := d.cfg.System.PublishSystem(event); err != nil {
		log.Error().Err(err).Msg("heartbeat publish failed")
	}
}

// RunPoll reads the poller on every tick until ctx is done. A failed read
// is logged and the tick skipped.
func (d *Driver) RunPoll(ctx context.Context, p source.Poller, tick <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			t := d.now()
			raw, err := p.Read(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Warn().Err(err).Msg("people count read failed")
				d.setSourceConnected(false)
				d.checkHeartbeat(t)
				continue
			}
			d.setSourceConnected(true)
			d.HandleReading(raw, t)
			d.checkHeartbeat(t)
		}
	}
}

// RunPush handles readings as they arrive until ctx is done or readings
// is closed. heartbeat drives the lifecycle heartbeat and may be nil.
func (d *Driver) RunPush(ctx context.Context, readings <-chan string, heartbeat <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-readings:
			if !ok {
				return nil
			}
			d.HandleReading(raw, d.now())
		case t := <-heartbeat:
			d.checkHeartbeat(t)
		}
	}
}

// RunWatcher runs w and feeds its readings to RunPush. It returns w's
// error if the watcher stops on its own.
func (d *Driver) RunWatcher(ctx context.Context, w source.Watcher, heartbeat <-chan time.Time) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readings := make(chan string)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- w.Watch(ctx, readings)
	}()

	pushDone := make(chan error, 1)
	go func() {
		pushDone <- d.RunPush(ctx, readings, heartbeat)
	}()

	select {
	case err := <-watchErr:
		cancel()
		<-pushDone
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("watch: %w", err)
		}
		return nil
	case err := <-pushDone:
		cancel()
		<-watchErr
		return err
	}
}

func (d *Driver) setSourceConnected(connected bool) {
	if d.cfg.Tracker != nil {
		d.cfg.Tracker.SetSourceConnected(connected)
	}
}
