package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadHostConfigAppliesDefaults(t *testing.T) {
	path := writeTemp(t, "socket_path: /run/vserial.sock\n")
	cfg, err := LoadHostConfig(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.MaxRetries)
	require.Equal(t, 2.0, cfg.BackoffFactor)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadHostConfigRequiresSocketPath(t *testing.T) {
	path := writeTemp(t, "max_retries: 5\n")
	_, err := LoadHostConfig(path)
	require.Error(t, err)
}

func TestLoadGuestConfigAppliesDefaults(t *testing.T) {
	path := writeTemp(t, "device_path: /dev/virtio-ports/vserial-rpc.0\n")
	cfg, err := LoadGuestConfig(path)
	require.NoError(t, err)
	require.EqualValues(t, 10*1024*1024, cfg.MaxRequestSize)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadGuestConfigParsesRateLimitAndLists(t *testing.T) {
	path := writeTemp(t, `
device_path: /dev/virtio-ports/vserial-rpc.0
allowed_commands: ["ls", "cat"]
allowed_paths: ["/tmp/"]
rate_limit:
  per_second: 10
  per_minute: 100
  max_concurrent: 1
`)
	cfg, err := LoadGuestConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.AllowedCommands, 2)
	require.Equal(t, 10.0, cfg.RateLimit.PerSecond)
}

func TestLoadGuestConfigRequiresDevicePath(t *testing.T) {
	path := writeTemp(t, "enable_auth: true\n")
	_, err := LoadGuestConfig(path)
	require.Error(t, err)
}

func TestNewLoggerFallsBackOnUnknownLevel(t *testing.T) {
	log, err := NewLogger("not-a-level", "")
	require.NoError(t, err)
	require.Equal(t, "info", log.Level.String())
}
