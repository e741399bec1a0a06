package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LiveCanvas/internal/net"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
}

func TestConfigDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("LIVECANVAS_CANVAS_ID", "canvas-1")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "canvas-1", cfg.Canvas.ID)
	assert.True(t, cfg.Server.Discover)
	assert.Equal(t, 3*time.Second, cfg.Server.DiscoverTimeout)
	assert.Equal(t, 50000.0, cfg.Canvas.Width)

	// Sync defaults
	assert.Equal(t, 16*time.Millisecond, cfg.Sync.FrameInterval)
	assert.Equal(t, 33*time.Millisecond, cfg.Sync.DragThrottle)
	assert.Equal(t, 50*time.Millisecond, cfg.Sync.ResizeThrottle)
	assert.Equal(t, 25*time.Millisecond, cfg.Sync.CursorThrottle)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.GestureGrace)
	assert.Equal(t, 10*time.Second, cfg.Sync.LockTTL)
	assert.Equal(t, 400*time.Millisecond, cfg.Sync.DebounceWindow)
	assert.Equal(t, 100, cfg.Sync.HistoryLimit)

	// Reconnect defaults
	assert.Equal(t, net.DefaultConfig(), cfg.ConnectionConfig())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.UI.Enabled)
}

func TestConfigFileAndEnvironmentOverrides(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  url: ws://10.0.0.5:8080
  discover: false
canvas:
  id: from-file
  width: 2000
  height: 1000
sync:
  drag_throttle: 40ms
reconnect:
  policy: fixed
  max_attempts: 5
log:
  format: json
`), 0o600))

	t.Setenv("LIVECANVAS_CANVAS_ID", "from-env")
	t.Setenv("LIVECANVAS_SYNC_LOCK_TTL", "20s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ws://10.0.0.5:8080", cfg.Server.URL)
	assert.False(t, cfg.Server.Discover)
	assert.Equal(t, "from-env", cfg.Canvas.ID, "environment wins over the file")
	assert.Equal(t, 20*time.Second, cfg.Sync.LockTTL)
	assert.Equal(t, 40*time.Millisecond, cfg.GestureConfig().DragThrottle)
	assert.Equal(t, 2000.0, cfg.GestureConfig().Bounds.Width)
	assert.Equal(t, net.PolicyFixed, cfg.ConnectionConfig().Policy)
	assert.Equal(t, 5, cfg.ConnectionConfig().MaxAttempts)
}

func TestLoadRejectsMissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	isolate(t)
	t.Setenv("LIVECANVAS_CANVAS_ID", "c")
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing canvas", func(c *Config) { c.Canvas.ID = "" }, "canvas.id"},
		{"no server", func(c *Config) { c.Server.Discover = false }, "server.url"},
		{"bad policy", func(c *Config) { c.Reconnect.Policy = "linear" }, "reconnect.policy"},
		{"zero ttl", func(c *Config) { c.Sync.LockTTL = 0 }, "sync.lock_ttl"},
		{"negative throttle", func(c *Config) { c.Sync.DragThrottle = -time.Millisecond }, "sync.drag_throttle"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"no history", func(c *Config) { c.Sync.HistoryLimit = 0 }, "sync.history_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	assert.NoError(t, base.Validate())
}

func TestNewLoggerHonoursLevelAndFormat(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "warn", Format: "json"}}
	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "shape", "r1")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"shape":"r1"`)
}
