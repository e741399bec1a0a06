// Package config handles configuration for the canvas client
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"LiveCanvas/internal/gesture"
	"LiveCanvas/internal/net"
	"LiveCanvas/internal/state"
)

// Config represents the complete client configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Canvas    CanvasConfig    `mapstructure:"canvas"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	UI        UIConfig        `mapstructure:"ui"`
}

// ServerConfig locates the canvas server
type ServerConfig struct {
	URL             string        `mapstructure:"url"`
	Discover        bool          `mapstructure:"discover"`
	DiscoverTimeout time.Duration `mapstructure:"discover_timeout"`
}

// CanvasConfig selects the canvas and its surface size
type CanvasConfig struct {
	ID     string  `mapstructure:"id"`
	Width  float64 `mapstructure:"width"`
	Height float64 `mapstructure:"height"`
}

// AuthConfig carries the opaque session credential
type AuthConfig struct {
	Token  string `mapstructure:"token"`
	UserID string `mapstructure:"user_id"`
}

// SyncConfig contains the editing cadence settings
type SyncConfig struct {
	FrameInterval  time.Duration `mapstructure:"frame_interval"`
	DragThrottle   time.Duration `mapstructure:"drag_throttle"`
	ResizeThrottle time.Duration `mapstructure:"resize_throttle"`
	RotateThrottle time.Duration `mapstructure:"rotate_throttle"`
	CursorThrottle time.Duration `mapstructure:"cursor_throttle"`
	GestureGrace   time.Duration `mapstructure:"gesture_grace"`
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
	DebounceWindow time.Duration `mapstructure:"debounce_window"`
	HistoryLimit   int           `mapstructure:"history_limit"`
}

// ReconnectConfig contains the reconnect policy
type ReconnectConfig struct {
	Policy        string        `mapstructure:"policy"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	FixedInterval time.Duration `mapstructure:"fixed_interval"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig contains the metrics endpoint address; empty disables it
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// UIConfig contains desktop view settings
type UIConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	NoticeDuration time.Duration `mapstructure:"notice_duration"`
}

// Load reads configuration from defaults, an optional YAML file and
// LIVECANVAS_ environment variables. An explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LIVECANVAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("livecanvas")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.livecanvas")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.url", "")
	v.SetDefault("server.discover", true)
	v.SetDefault("server.discover_timeout", "3s")

	v.SetDefault("canvas.id", "")
	v.SetDefault("canvas.width", state.DefaultBounds.Width)
	v.SetDefault("canvas.height", state.DefaultBounds.Height)

	v.SetDefault("auth.token", "")
	v.SetDefault("auth.user_id", "")

	v.SetDefault("sync.frame_interval", "16ms")
	v.SetDefault("sync.drag_throttle", "33ms")
	v.SetDefault("sync.resize_throttle", "50ms")
	v.SetDefault("sync.rotate_throttle", "50ms")
	v.SetDefault("sync.cursor_throttle", "25ms")
	v.SetDefault("sync.gesture_grace", "500ms")
	v.SetDefault("sync.lock_ttl", "10s")
	v.SetDefault("sync.debounce_window", "400ms")
	v.SetDefault("sync.history_limit", 100)

	v.SetDefault("reconnect.policy", net.PolicyExponential)
	v.SetDefault("reconnect.base_delay", "1s")
	v.SetDefault("reconnect.max_delay", "30s")
	v.SetDefault("reconnect.fixed_interval", "3s")
	v.SetDefault("reconnect.max_attempts", 0)
	v.SetDefault("reconnect.settle_delay", "100ms")
	v.SetDefault("reconnect.write_timeout", "5s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("ui.enabled", true)
	v.SetDefault("ui.notice_duration", "3s")
}

// Validate checks the configuration for values the engine cannot run with.
// A missing canvas id is reported here; a missing server url only when
// discovery is off.
func (c *Config) Validate() error {
	var errs []error
	if c.Canvas.ID == "" {
		errs = append(errs, errors.New("canvas.id is required"))
	}
	if c.Server.URL == "" && !c.Server.Discover {
		errs = append(errs, errors.New("server.url is required when server.discover is off"))
	}
	if c.Canvas.Width <= 0 || c.Canvas.Height <= 0 {
		errs = append(errs, fmt.Errorf("canvas size must be positive, got %gx%g", c.Canvas.Width, c.Canvas.Height))
	}

	positive := map[string]time.Duration{
		"sync.frame_interval":      c.Sync.FrameInterval,
		"sync.lock_ttl":            c.Sync.LockTTL,
		"sync.debounce_window":     c.Sync.DebounceWindow,
		"reconnect.base_delay":     c.Reconnect.BaseDelay,
		"reconnect.max_delay":      c.Reconnect.MaxDelay,
		"reconnect.fixed_interval": c.Reconnect.FixedInterval,
	}
	for key, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}
	nonNegative := map[string]time.Duration{
		"sync.drag_throttle":      c.Sync.DragThrottle,
		"sync.resize_throttle":    c.Sync.ResizeThrottle,
		"sync.rotate_throttle":    c.Sync.RotateThrottle,
		"sync.cursor_throttle":    c.Sync.CursorThrottle,
		"sync.gesture_grace":      c.Sync.GestureGrace,
		"reconnect.settle_delay":  c.Reconnect.SettleDelay,
		"reconnect.write_timeout": c.Reconnect.WriteTimeout,
	}
	for key, d := range nonNegative {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", key))
		}
	}

	if c.Sync.HistoryLimit <= 0 {
		errs = append(errs, errors.New("sync.history_limit must be positive"))
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect.max_attempts must not be negative"))
	}
	switch c.Reconnect.Policy {
	case net.PolicyExponential, net.PolicyFixed:
	default:
		errs = append(errs, fmt.Errorf("reconnect.policy must be %q or %q, got %q", net.PolicyExponential, net.PolicyFixed, c.Reconnect.Policy))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Bounds is the drawing surface size.
func (c *Config) Bounds() state.Bounds {
	return state.Bounds{Width: c.Canvas.Width, Height: c.Canvas.Height}
}

// GestureConfig maps the sync section onto the interaction batcher settings.
func (c *Config) GestureConfig() gesture.Config {
	return gesture.Config{
		FrameInterval:  c.Sync.FrameInterval,
		DragThrottle:   c.Sync.DragThrottle,
		ResizeThrottle: c.Sync.ResizeThrottle,
		RotateThrottle: c.Sync.RotateThrottle,
		CursorThrottle: c.Sync.CursorThrottle,
		Bounds:         c.Bounds(),
	}
}

// ConnectionConfig maps the reconnect section onto the connection manager settings.
func (c *Config) ConnectionConfig() net.Config {
	return net.Config{
		Policy:        c.Reconnect.Policy,
		BaseDelay:     c.Reconnect.BaseDelay,
		MaxDelay:      c.Reconnect.MaxDelay,
		FixedInterval: c.Reconnect.FixedInterval,
		MaxAttempts:   c.Reconnect.MaxAttempts,
		SettleDelay:   c.Reconnect.SettleDelay,
		WriteTimeout:  c.Reconnect.WriteTimeout,
	}
}

// NewLogger builds the root logger described by the log section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
