// Package config provides YAML + environment configuration for desk-viewer.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Session SessionConfig `mapstructure:"session"`
	Channel ChannelConfig `mapstructure:"channel"`
	Viewer  ViewerConfig  `mapstructure:"viewer"`
	Host    HostConfig    `mapstructure:"host"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs  []string       `mapstructure:"outputs"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// SessionConfig carries the pre-shared session key material. Exactly one of
// Key (hex) or Passphrase must be set.
type SessionConfig struct {
	Key        string `mapstructure:"key"`
	Passphrase string `mapstructure:"passphrase"`
	Salt       string `mapstructure:"salt"`
}

// ChannelConfig tunes the secure channel.
type ChannelConfig struct {
	BufferSize  int           `mapstructure:"buffer_size"`
	Window      time.Duration `mapstructure:"window"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// ViewerConfig holds viewer side options.
type ViewerConfig struct {
	Addr        string        `mapstructure:"addr"`
	Discover    bool          `mapstructure:"discover"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	IdleSleep   time.Duration `mapstructure:"idle_sleep"`
	Snapshot    string        `mapstructure:"snapshot"`
	// MaxImageBytes caps the decoded RGBA size of frames and tiles.
	MaxImageBytes int `mapstructure:"max_image_bytes"`
}

// HostConfig holds screen host options.
type HostConfig struct {
	Listen       string        `mapstructure:"listen"`
	Instance     string        `mapstructure:"instance"`
	Advertise    bool          `mapstructure:"advertise"`
	Width        int           `mapstructure:"width"`
	Height       int           `mapstructure:"height"`
	TileSize     int           `mapstructure:"tile_size"`
	TileInterval time.Duration `mapstructure:"tile_interval"`
}

// MetricsConfig controls periodic rate logging and the Prometheus endpoint.
type MetricsConfig struct {
	Listen   string        `mapstructure:"listen"`
	Interval time.Duration `mapstructure:"interval"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Session: SessionConfig{Salt: "desk-viewer"},
		Channel: ChannelConfig{
			BufferSize:  8 * 1024 * 1024,
			Window:      5 * time.Second,
			PollTimeout: time.Millisecond,
		},
		Viewer: ViewerConfig{
			Addr:          "127.0.0.1:5900",
			DialTimeout:   5 * time.Second,
			IdleSleep:     5 * time.Millisecond,
			MaxImageBytes: 64 * 1024 * 1024,
		},
		Host: HostConfig{
			Listen:       "0.0.0.0:5900",
			Instance:     "",
			Advertise:    true,
			Width:        640,
			Height:       480,
			TileSize:     64,
			TileInterval: 100 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Interval: 30 * time.Second,
		},
	}
}

// Load reads configuration from path (if non-empty) and applies environment
// overrides. Environment variables use the prefix DESKVIEW and `.` is
// replaced with `_`, e.g. DESKVIEW_LOG_LEVEL=debug.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DESKVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("session.key", cfg.Session.Key)
	v.SetDefault("session.passphrase", cfg.Session.Passphrase)
	v.SetDefault("session.salt", cfg.Session.Salt)
	v.SetDefault("channel.buffer_size", cfg.Channel.BufferSize)
	v.SetDefault("channel.window", cfg.Channel.Window)
	v.SetDefault("channel.poll_timeout", cfg.Channel.PollTimeout)
	v.SetDefault("viewer.addr", cfg.Viewer.Addr)
	v.SetDefault("viewer.discover", cfg.Viewer.Discover)
	v.SetDefault("viewer.dial_timeout", cfg.Viewer.DialTimeout)
	v.SetDefault("viewer.idle_sleep", cfg.Viewer.IdleSleep)
	v.SetDefault("viewer.snapshot", cfg.Viewer.Snapshot)
	v.SetDefault("viewer.max_image_bytes", cfg.Viewer.MaxImageBytes)
	v.SetDefault("host.listen", cfg.Host.Listen)
	v.SetDefault("host.instance", cfg.Host.Instance)
	v.SetDefault("host.advertise", cfg.Host.Advertise)
	v.SetDefault("host.width", cfg.Host.Width)
	v.SetDefault("host.height", cfg.Host.Height)
	v.SetDefault("host.tile_size", cfg.Host.TileSize)
	v.SetDefault("host.tile_interval", cfg.Host.TileInterval)
	v.SetDefault("metrics.listen", cfg.Metrics.Listen)
	v.SetDefault("metrics.interval", cfg.Metrics.Interval)

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. Session key presence is checked by the
// commands that need one.
func (c *Config) Validate() error {
	if c.Channel.BufferSize < 16 {
		return errors.New("channel.buffer_size must be at least one cipher block")
	}
	if c.Channel.Window <= 0 {
		return errors.New("channel.window must be positive")
	}
	if c.Channel.PollTimeout <= 0 {
		return errors.New("channel.poll_timeout must be positive")
	}
	if c.Host.Width <= 0 || c.Host.Height <= 0 {
		return fmt.Errorf("host size %dx%d is invalid", c.Host.Width, c.Host.Height)
	}
	if c.Viewer.MaxImageBytes < 0 {
		return errors.New("viewer.max_image_bytes must not be negative")
	}
	if c.Host.TileSize <= 0 {
		return errors.New("host.tile_size must be positive")
	}
	if c.Session.Key != "" && c.Session.Passphrase != "" {
		return errors.New("session.key and session.passphrase are mutually exclusive")
	}
	return nil
}
