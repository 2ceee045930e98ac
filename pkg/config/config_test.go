package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8*1024*1024, cfg.Channel.BufferSize)
	assert.Equal(t, 5*time.Second, cfg.Channel.Window)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deskview.yaml")
	data := []byte(`
log:
  level: debug
channel:
  window: 2s
host:
  listen: 127.0.0.1:7000
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	t.Setenv("DESKVIEW_VIEWER_ADDR", "10.0.0.2:7000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 2*time.Second, cfg.Channel.Window)
	assert.Equal(t, "127.0.0.1:7000", cfg.Host.Listen)
	assert.Equal(t, "10.0.0.2:7000", cfg.Viewer.Addr)
	// untouched values keep their defaults
	assert.Equal(t, time.Millisecond, cfg.Channel.PollTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Run("KeyAndPassphrase", func(t *testing.T) {
		cfg := Default()
		cfg.Session.Key = "00"
		cfg.Session.Passphrase = "secret"
		assert.Error(t, cfg.Validate())
	})
	t.Run("ZeroWindow", func(t *testing.T) {
		cfg := Default()
		cfg.Channel.Window = 0
		assert.Error(t, cfg.Validate())
	})
	t.Run("TinyBuffer", func(t *testing.T) {
		cfg := Default()
		cfg.Channel.BufferSize = 8
		assert.Error(t, cfg.Validate())
	})
	t.Run("NegativeImageLimit", func(t *testing.T) {
		cfg := Default()
		cfg.Viewer.MaxImageBytes = -1
		assert.Error(t, cfg.Validate())
	})
}
