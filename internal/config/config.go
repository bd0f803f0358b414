// Package config loads node configuration from an optional YAML file and TALLY_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "TALLY"

type Config struct {
	Log      LogConfig
	Bridge   BridgeConfig
	Light    LightConfig
	HTTP     HTTPConfig
	Link     LinkConfig
	Switcher SwitcherConfig
	Events   EventsConfig
}

type LogConfig struct {
	Level  string
	Pretty bool
}

type BridgeConfig struct {
	ID               uint8
	Name             string
	Cameras          int
	MaxDevices       int  `mapstructure:"max_devices"`
	StandbyAsPreview bool `mapstructure:"standby_as_preview"`

	CheckInterval     time.Duration `mapstructure:"-"`
	HeartbeatInterval time.Duration `mapstructure:"-"`
	Tick              time.Duration `mapstructure:"-"`
}

type LightConfig struct {
	CameraID       uint8  `mapstructure:"camera_id"`
	Identity       string
	BridgeName     string `mapstructure:"bridge_name"`
	MaxRetries     int    `mapstructure:"max_retries"`
	CooldownFactor int    `mapstructure:"cooldown_factor"`

	ScanWindow        time.Duration `mapstructure:"-"`
	ConnectTimeout    time.Duration `mapstructure:"-"`
	RetryInterval     time.Duration `mapstructure:"-"`
	RegistrationRetry time.Duration `mapstructure:"-"`
	HeartbeatTimeout  time.Duration `mapstructure:"-"`
	MessageTimeout    time.Duration `mapstructure:"-"`
	ErrorFlash        time.Duration `mapstructure:"-"`
	Tick              time.Duration `mapstructure:"-"`
}

type HTTPConfig struct {
	Addr string
}

// AddrOr returns the configured listen address, or def when none is set.
func (c HTTPConfig) AddrOr(def string) string {
	if c.Addr == "" {
		return def
	}
	return c.Addr
}

type LinkConfig struct {
	Kind      string
	URL       string
	AdvertURL string `mapstructure:"advert_url"`
}

type SwitcherConfig struct {
	Kind  string
	Redis RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Key      string

	StaleAfter time.Duration `mapstructure:"-"`
}

type EventsConfig struct {
	Brokers string
	Topic   string
}

// Enabled reports whether an event broker is configured.
func (c EventsConfig) Enabled() bool { return strings.TrimSpace(c.Brokers) != "" }

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("bridge.id", 1)
	v.SetDefault("bridge.name", "ATEM_Bridge_BLE")
	v.SetDefault("bridge.cameras", 20)
	v.SetDefault("bridge.max_devices", 4)
	v.SetDefault("bridge.standby_as_preview", true)
	v.SetDefault("bridge.check_interval", "100ms")
	v.SetDefault("bridge.heartbeat_interval", "5s")
	v.SetDefault("bridge.tick", "20ms")

	v.SetDefault("light.camera_id", 1)
	v.SetDefault("light.identity", "Tally_CAM_1")
	v.SetDefault("light.bridge_name", "ATEM_Bridge_BLE")
	v.SetDefault("light.scan_window", "5s")
	v.SetDefault("light.connect_timeout", "10s")
	v.SetDefault("light.retry_interval", "15s")
	v.SetDefault("light.max_retries", 5)
	v.SetDefault("light.cooldown_factor", 3)
	v.SetDefault("light.registration_retry", "5s")
	v.SetDefault("light.heartbeat_timeout", "15s")
	v.SetDefault("light.message_timeout", "60s")
	v.SetDefault("light.error_flash", "500ms")
	v.SetDefault("light.tick", "20ms")

	v.SetDefault("http.addr", "")

	v.SetDefault("link.kind", "ws")
	v.SetDefault("link.url", "ws://localhost:8080/link")
	v.SetDefault("link.advert_url", "http://localhost:8080/advert")

	v.SetDefault("switcher.kind", "manual")
	v.SetDefault("switcher.redis.addr", "localhost:6379")
	v.SetDefault("switcher.redis.password", "")
	v.SetDefault("switcher.redis.db", 0)
	v.SetDefault("switcher.redis.channel", "tally:flags")
	v.SetDefault("switcher.redis.key", "tally:snapshot")
	v.SetDefault("switcher.redis.stale_after", "10s")

	v.SetDefault("events.brokers", "")
	v.SetDefault("events.topic", "tally.events")
}

// New returns a viper instance with defaults and environment binding but no file.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Read loads path into v. With an empty path, tally.yaml is searched in the working
// directory and ./config, and its absence is not an error.
func Read(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tally")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load reads path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := New()
	if err := Read(v, path); err != nil {
		return nil, err
	}
	return Decode(v)
}

// Decode unmarshals v, including command-line overrides bound to it.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Bridge.CheckInterval = parseDuration(v, "bridge.check_interval", 100*time.Millisecond)
	cfg.Bridge.HeartbeatInterval = parseDuration(v, "bridge.heartbeat_interval", 5*time.Second)
	cfg.Bridge.Tick = parseDuration(v, "bridge.tick", 20*time.Millisecond)

	cfg.Light.ScanWindow = parseDuration(v, "light.scan_window", 5*time.Second)
	cfg.Light.ConnectTimeout = parseDuration(v, "light.connect_timeout", 10*time.Second)
	cfg.Light.RetryInterval = parseDuration(v, "light.retry_interval", 15*time.Second)
	cfg.Light.RegistrationRetry = parseDuration(v, "light.registration_retry", 5*time.Second)
	cfg.Light.HeartbeatTimeout = parseDuration(v, "light.heartbeat_timeout", 15*time.Second)
	cfg.Light.MessageTimeout = parseDuration(v, "light.message_timeout", 60*time.Second)
	cfg.Light.ErrorFlash = parseDuration(v, "light.error_flash", 500*time.Millisecond)
	cfg.Light.Tick = parseDuration(v, "light.tick", 20*time.Millisecond)

	cfg.Switcher.Redis.StaleAfter = parseDuration(v, "switcher.redis.stale_after", 10*time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
