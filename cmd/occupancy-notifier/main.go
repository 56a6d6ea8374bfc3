// Command occupancy-notifier watches a room device's people count and
// notifies a webhook when the room becomes occupied or empty.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/sweeney/occupancy-notifier/internal/config"
	"github.com/sweeney/occupancy-notifier/internal/driver"
	"github.com/sweeney/occupancy-notifier/internal/logging"
	"github.com/sweeney/occupancy-notifier/internal/notify"
	"github.com/sweeney/occupancy-notifier/internal/source"
	"github.com/sweeney/occupancy-notifier/internal/status"
	"github.com/sweeney/occupancy-notifier/internal/web"
)

func main() {
	fs := pflag.NewFlagSet("occupancy-notifier", pflag.ExitOnError)
	configPath := fs.StringP("config", "c", "", "config file (default: search ., ./config, /etc/occupancy-notifier)")
	printConfig := fs.Bool("print-config", false, "print the effective configuration and exit")
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	logging.Setup("info", false, true)

	loader, err := config.NewLoader(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("init config")
	}
	cfg, err := loader.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Setup(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)

	if *printConfig {
		out, err := loader.YAML()
		if err != nil {
			log.Fatal().Err(err).Msg("render config")
		}
		os.Stdout.Write(out)
		return
	}

	loader.Watch(func(next config.Config) {
		lvl := logging.SetLevel(next.Log.Level)
		log.Info().Str("level", lvl.String()).Msg("log level applied; other changes need a restart")
	})

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}

func run(cfg config.Config) error {
	join, err := notify.ParseJoinMode(cfg.Webhook.Join)
	if err != nil {
		return err
	}
	webhook := notify.NewWebhook(cfg.Webhook.BaseURL, join, cfg.Webhook.Timeout)
	targets := []notify.Notifier{webhook}

	var mirror *notify.MQTT
	if cfg.MQTT.Broker != "" {
		mirror, err = notify.NewMQTT(notify.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		})
		if err != nil {
			return fmt.Errorf("init mqtt mirror: %w", err)
		}
		targets = append(targets, mirror)
	}

	tracker := status.NewTracker(time.Now(), statusConfig(cfg))

	dispatcher := notify.NewDispatcher(targets...)
	dispatcher.OnResult(func(target string, _ notify.Notification, err error) {
		tracker.RecordDelivery(target, err)
	})
	defer func() {
		if err := dispatcher.Close(); err != nil {
			log.Warn().Err(err).Msg("close notifiers")
		}
	}()

	dcfg := driver.Config{
		Mode:                 driver.Mode(cfg.Mode),
		BaselineFirstReading: cfg.Detector.BaselineFirstReading,
		Heartbeat:            cfg.Heartbeat,
		Tracker:              tracker,
	}
	var system notify.SystemPublisher
	if mirror != nil {
		system = mirror
		dcfg.System = mirror
		dcfg.MQTTStatus = mirror
		tracker.SetMQTTConnected(mirror.IsConnected())
	}

	publishLifecycle(system, tracker, "STARTUP", "")

	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info().Str("addr", cfg.HTTP).Msg("http status server listening")
	}

	d, err := driver.New(dcfg, dispatcher, time.Now)
	if err != nil {
		return err
	}

	log.Info().
		Str("mode", cfg.Mode).
		Str("source", cfg.Source.Kind).
		Str("webhook", cfg.Webhook.BaseURL).
		Str("join", cfg.Webhook.Join).
		Dur("poll", cfg.Poll.Interval).
		Dur("heartbeat", cfg.Heartbeat).
		Msg("started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- runDriver(ctx, cfg, d, tracker)
	}()

	var runErr error
	reason := ""
	select {
	case s := <-sigCh:
		reason = signalName(s)
		log.Info().Str("signal", reason).Msg("shutting down")
		cancel()
		runErr = <-done
	case runErr = <-done:
		reason = "ERROR"
	}

	if mirror != nil {
		tracker.SetMQTTConnected(mirror.IsConnected())
	}
	publishLifecycle(system, tracker, "SHUTDOWN", reason)
	return runErr
}

// runDriver opens the configured source and runs the driver loop for the mode.
func runDriver(ctx context.Context, cfg config.Config, d *driver.Driver, tracker *status.Tracker) error {
	if cfg.Mode == config.ModePoll {
		poller, err := newPoller(cfg)
		if err != nil {
			return err
		}
		defer poller.Close()

		ticker := time.NewTicker(cfg.Poll.Interval)
		defer ticker.Stop()
		return d.RunPoll(ctx, poller, ticker.C)
	}

	watcher, err := newWatcher(cfg, tracker.SetSourceConnected)
	if err != nil {
		return err
	}
	defer watcher.Close()

	var heartbeat <-chan time.Time
	if cfg.Heartbeat > 0 {
		ticker := time.NewTicker(cfg.Heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}
	return d.RunWatcher(ctx, watcher, heartbeat)
}

func device(cfg config.Config) source.Device {
	return source.Device{
		Host:     cfg.Source.Host,
		Username: cfg.Source.Username,
		Password: cfg.Source.Password,
	}
}

func newPoller(cfg config.Config) (source.Poller, error) {
	switch cfg.Source.Kind {
	case config.SourceXAPI:
		p, err := source.NewXAPIPoller(device(cfg), cfg.Source.Timeout)
		if err != nil {
			return nil, fmt.Errorf("init xapi poller: %w", err)
		}
		return p, nil
	case config.SourceGPIO:
		p, err := source.NewGPIOPoller(cfg.Source.GPIOChip, cfg.Source.GPIOLine, cfg.Source.GPIOActiveLow)
		if err != nil {
			return nil, fmt.Errorf("init gpio poller: %w", err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("source %q cannot be polled", cfg.Source.Kind)
}

func newWatcher(cfg config.Config, onConnect func(bool)) (source.Watcher, error) {
	switch cfg.Source.Kind {
	case config.SourceXAPI:
		w := source.NewXAPIWatcher(device(cfg), source.DefaultBackoff)
		w.OnConnect = onConnect
		return w, nil
	case config.SourceMQTT:
		w := source.NewMQTTWatcher(source.MQTTWatcherConfig{
			Broker:   cfg.Source.Host,
			ClientID: cfg.MQTT.ClientID + "-source",
			Username: cfg.Source.Username,
			Password: cfg.Source.Password,
			Topic:    cfg.Source.MQTTTopic,
		})
		w.OnConnect = onConnect
		return w, nil
	}
	return nil, fmt.Errorf("source %q cannot push readings", cfg.Source.Kind)
}

func statusConfig(cfg config.Config) status.Config {
	sc := status.Config{
		Mode:        cfg.Mode,
		Source:      cfg.Source.Kind,
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		WebhookURL:  cfg.Webhook.BaseURL,
		Join:        cfg.Webhook.Join,
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP,
	}
	if cfg.Mode == config.ModePoll {
		sc.PollMs = cfg.Poll.Interval.Milliseconds()
	}
	return sc
}

// publishLifecycle sends a retained STARTUP or SHUTDOWN event carrying the
// status snapshot. It is a no-op without an MQTT mirror.
func publishLifecycle(system notify.SystemPublisher, tracker *status.Tracker, event, reason string) {
	if system == nil {
		return
	}
	snap := tracker.Snapshot()
	err := system.PublishSystem(notify.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to publish lifecycle event")
		return
	}
	log.Info().Str("event", event).Msg("published lifecycle event")
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
