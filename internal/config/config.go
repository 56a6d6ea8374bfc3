// Package config loads daemon settings from a config file, OCCUPANCY_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/occupancy-notifier/internal/notify"
)

// Name is the config file base name searched for in SearchPaths.
const Name = "occupancy-notifier"

// EnvPrefix prefixes environment overrides, e.g. OCCUPANCY_WEBHOOK_BASE_URL.
const EnvPrefix = "OCCUPANCY"

// SearchPaths lists the directories searched for the config file.
var SearchPaths = []string{".", "./config", "/etc/occupancy-notifier"}

// Driver modes.
const (
	ModePoll = "poll"
	ModePush = "push"
)

// Count source kinds.
const (
	SourceXAPI = "xapi"
	SourceMQTT = "mqtt"
	SourceGPIO = "gpio"
)

// Config is the effective daemon configuration.
type Config struct {
	Mode      string         `mapstructure:"mode"`
	Poll      PollConfig     `mapstructure:"poll"`
	Source    SourceConfig   `mapstructure:"source"`
	Webhook   WebhookConfig  `mapstructure:"webhook"`
	Detector  DetectorConfig `mapstructure:"detector"`
	MQTT      MQTTConfig     `mapstructure:"mqtt"`
	Heartbeat time.Duration  `mapstructure:"heartbeat"`
	HTTP      string         `mapstructure:"http"`
	Log       LogConfig      `mapstructure:"log"`
}

// PollConfig controls poll mode.
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// SourceConfig selects and addresses the people count source.
type SourceConfig struct {
	Kind string `mapstructure:"kind"`
	// Host is the room device for xapi and the broker URL for mqtt.
	Host          string        `mapstructure:"host"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MQTTTopic     string        `mapstructure:"mqtt_topic"`
	GPIOChip      string        `mapstructure:"gpio_chip"`
	GPIOLine      int           `mapstructure:"gpio_line"`
	GPIOActiveLow bool          `mapstructure:"gpio_active_low"`
}

// WebhookConfig addresses the notification endpoint.
type WebhookConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// Join is "slash" or "concat"; empty picks the mode's default.
	Join    string        `mapstructure:"join"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DetectorConfig tunes the occupancy detector.
type DetectorConfig struct {
	BaselineFirstReading bool `mapstructure:"baseline_first_reading"`
}

// MQTTConfig configures the optional MQTT mirror. An empty Broker disables it.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	JSON   bool   `mapstructure:"json"`
	Colors bool   `mapstructure:"colors"`
}

var defaults = map[string]any{
	"mode":                            ModePoll,
	"poll.interval":                   time.Second,
	"source.kind":                     SourceXAPI,
	"source.host":                     "",
	"source.username":                 "",
	"source.password":                 "",
	"source.timeout":                  5 * time.Second,
	"source.mqtt_topic":               "",
	"source.gpio_chip":                "gpiochip0",
	"source.gpio_line":                17,
	"source.gpio_active_low":          false,
	"webhook.base_url":                "",
	"webhook.join":                    "",
	"webhook.timeout":                 10 * time.Second,
	"detector.baseline_first_reading": false,
	"mqtt.broker":                     "",
	"mqtt.client_id":                  "occupancy-notifier",
	"mqtt.username":                   "",
	"mqtt.password":                   "",
	"mqtt.topic_prefix":               "occupancy",
	"heartbeat":                       15 * time.Minute,
	"http":                            ":8080",
	"log.level":                       "info",
	"log.json":                        false,
	"log.colors":                      true,
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"mode":      "mode",
	"poll":      "poll.interval",
	"source":    "source.kind",
	"host":      "source.host",
	"username":  "source.username",
	"password":  "source.password",
	"topic":     "source.mqtt_topic",
	"webhook":   "webhook.base_url",
	"join":      "webhook.join",
	"baseline":  "detector.baseline_first_reading",
	"broker":    "mqtt.broker",
	"heartbeat": "heartbeat",
	"http":      "http",
	"log-level": "log.level",
	"log-json":  "log.json",
}

// RegisterFlags defines the config flags on fs. Defaults shown in --help
// mirror the built-in defaults; unset flags never override the file or env.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("mode", ModePoll, "driver mode: poll or push")
	fs.Duration("poll", time.Second, "poll interval")
	fs.String("source", SourceXAPI, "count source: xapi, mqtt or gpio")
	fs.String("host", "", "room device address (xapi) or broker URL (mqtt source)")
	fs.String("username", "", "room device username")
	fs.String("password", "", "room device password")
	fs.String("topic", "", "people count topic (mqtt source)")
	fs.String("webhook", "", "webhook base URL")
	fs.String("join", "", `URL join: "slash" or "concat" (default per mode)`)
	fs.Bool("baseline", false, "treat the first reading as baseline without signalling")
	fs.String("broker", "", "MQTT mirror broker (empty disables)")
	fs.Duration("heartbeat", 15*time.Minute, "heartbeat interval (0 to disable)")
	fs.String("http", ":8080", "HTTP status address (empty to disable)")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.Bool("log-json", false, "log as JSON")
}

// Loader reads and watches the configuration.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a Loader. Flags registered with RegisterFlags on fs are
// bound when present; fs may be nil.
func NewLoader(fs *pflag.FlagSet) (*Loader, error) {
	v := viper.New()
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v.SetDefault(k, defaults[k])
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}
	return &Loader{v: v}, nil
}

// Load reads the config file and returns the validated configuration.
// With an empty path the search paths are tried and a missing file is not
// an error.
func (l *Loader) Load(path string) (Config, error) {
	if path != "" {
		l.v.SetConfigFile(path)
	} else {
		l.v.SetConfigName(Name)
		for _, p := range SearchPaths {
			l.v.AddConfigPath(p)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		log.Debug().Msg("no config file found, using defaults, env and flags")
	} else {
		log.Info().Str("file", l.v.ConfigFileUsed()).Msg("loaded config file")
	}

	return l.current()
}

func (l *Loader) current() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Watch re-reads the config file on change and passes the new configuration
// to onChange. Invalid edits are logged and ignored.
func (l *Loader) Watch(onChange func(Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Str("op", e.Op.String()).Msg("config file changed")
		cfg, err := l.current()
		if err != nil {
			log.Error().Err(err).Msg("ignoring invalid config change")
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// YAML renders the effective settings. Secrets are masked.
func (l *Loader) YAML() ([]byte, error) {
	return yaml.Marshal(printable(l.v.AllSettings(), ""))
}

// printable converts durations to strings and masks passwords.
func printable(settings map[string]any, prefix string) map[string]any {
	out := make(map[string]any, len(settings))
	for k, val := range settings {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch x := val.(type) {
		case map[string]any:
			out[k] = printable(x, key)
		case time.Duration:
			out[k] = x.String()
		default:
			if strings.HasSuffix(key, "password") && fmt.Sprint(x) != "" {
				out[k] = "********"
				continue
			}
			out[k] = x
		}
	}
	return out
}

// applyDefaults fills values that depend on other settings.
func (c *Config) applyDefaults() {
	if c.Webhook.Join == "" {
		if c.Mode == ModePush {
			c.Webhook.Join = string(notify.JoinSlash)
		} else {
			c.Webhook.Join = string(notify.JoinConcat)
		}
	}
	if join, err := notify.ParseJoinMode(c.Webhook.Join); err == nil {
		c.Webhook.Join = string(join)
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Mode {
	case ModePoll, ModePush:
	default:
		return fmt.Errorf("mode: unknown mode %q (want poll or push)", c.Mode)
	}

	if c.Mode == ModePoll && c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval: must be positive, got %v", c.Poll.Interval)
	}

	switch c.Source.Kind {
	case SourceXAPI:
		if c.Source.Host == "" {
			return errors.New("source.host: required for the xapi source")
		}
	case SourceMQTT:
		if c.Mode == ModePoll {
			return errors.New("source.kind: the mqtt source only supports push mode")
		}
		if c.Source.Host == "" || c.Source.MQTTTopic == "" {
			return errors.New("source: the mqtt source needs host (broker URL) and mqtt_topic")
		}
	case SourceGPIO:
		if c.Mode == ModePush {
			return errors.New("source.kind: the gpio source only supports poll mode")
		}
	default:
		return fmt.Errorf("source.kind: unknown source %q (want xapi, mqtt or gpio)", c.Source.Kind)
	}

	if err := validateBaseURL(c.Webhook.BaseURL); err != nil {
		return fmt.Errorf("webhook.base_url: %w", err)
	}
	if _, err := notify.ParseJoinMode(c.Webhook.Join); err != nil {
		return fmt.Errorf("webhook.join: %w", err)
	}
	if c.Webhook.Timeout <= 0 {
		return fmt.Errorf("webhook.timeout: must be positive, got %v", c.Webhook.Timeout)
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("heartbeat: must not be negative, got %v", c.Heartbeat)
	}
	return nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an absolute http(s) URL", raw)
	}
	return nil
}
