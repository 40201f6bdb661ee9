package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("ROOMLINK_WS_URL", "ws://localhost:9000/ws")
	t.Setenv("ROOMLINK_API_URL", "http://localhost:9000/api")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.ReconnectMax)
	assert.Equal(t, 2*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.SettleDelay)
	assert.Equal(t, "127.0.0.1:7717", cfg.BridgeAddr)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("ROOMLINK_RECONNECT_MAX", "5")
	t.Setenv("ROOMLINK_SETTLE_DELAY", "250ms")
	t.Setenv("ROOMLINK_HANDSHAKE_TIMEOUT", "garbage")
	t.Setenv("BRIDGE_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.ReconnectMax)
	assert.Equal(t, 250*time.Millisecond, cfg.SettleDelay)
	assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout)
	assert.Empty(t, cfg.BridgeAddr)
}

func TestLoadRequiresURLs(t *testing.T) {
	t.Setenv("ROOMLINK_WS_URL", "")
	t.Setenv("ROOMLINK_API_URL", "http://x")
	_, err := Load()
	require.EqualError(t, err, "ROOMLINK_WS_URL is required")
}

func TestLoadDotenvKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("ROOMLINK_USERNAME=fromfile\nROOMLINK_AVATAR=a.png\n"), 0o600))
	t.Setenv("ROOMLINK_USERNAME", "fromenv")
	t.Setenv("ROOMLINK_AVATAR", "")
	os.Unsetenv("ROOMLINK_AVATAR")

	require.NoError(t, LoadDotenv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "fromenv", os.Getenv("ROOMLINK_USERNAME"))
	assert.Equal(t, "a.png", os.Getenv("ROOMLINK_AVATAR"))
	os.Unsetenv("ROOMLINK_AVATAR")
}

func TestLoadDryRun(t *testing.T) {
	setRequired(t)
	t.Setenv("ROOMLINK_DRYRUN", "true")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.DryRun)

	t.Setenv("ROOMLINK_DRYRUN", "maybe")
	cfg, err = Load()
	require.NoError(t, err)
	assert.False(t, cfg.DryRun)
}
