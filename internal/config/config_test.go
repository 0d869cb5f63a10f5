package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// chdirTemp runs the test from an empty directory so ./config.yaml is absent.
func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:3001", cfg.Server.Addr())
	assert.Equal(t, 5*time.Second, cfg.Server.ReadHeaderTimeout)
	assert.Equal(t, int64(100<<20), cfg.Server.MaxMessageBytes)
	assert.Equal(t, int64(50<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, 10*time.Second, cfg.Relay.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.Relay.RetryBackoff)
	assert.Equal(t, 256, cfg.Relay.EventBuffer)
	assert.Equal(t, 64, cfg.Relay.SendBuffer)
	assert.Equal(t, "./settings.yaml", cfg.Storage.SettingsPath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := writeYAML(t, `
server:
  host: "0.0.0.0"
  port: 4001
relay:
  heartbeat_interval: "30s"
  retry_backoff: "1s"
storage:
  settings_path: "/var/lib/relay/settings.yaml"
log:
  level: "debug"
  format: "json"
`)
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("RELAY_RETRY_BACKOFF", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:4001", cfg.Server.Addr())
	assert.Equal(t, 30*time.Second, cfg.Relay.HeartbeatInterval)
	assert.Equal(t, 2*time.Second, cfg.Relay.RetryBackoff, "env wins over yaml")
	assert.Equal(t, 256, cfg.Relay.EventBuffer, "unset fields take defaults")
	assert.Equal(t, "/var/lib/relay/settings.yaml", cfg.Storage.SettingsPath)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadExplicitPathMissing(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server: ServerConfig{Host: "localhost", Port: 3001, ShutdownTimeout: time.Second},
			Relay: RelayConfig{
				HeartbeatInterval: 10 * time.Second,
				RetryBackoff:      5 * time.Second,
				EventBuffer:       1,
				SendBuffer:        1,
				WriteTimeout:      time.Second,
			},
			Storage: StorageConfig{SettingsPath: "settings.yaml"},
			Log:     LogConfig{Level: "info", Format: "text"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero backoff allowed", mutate: func(c *Config) { c.Relay.RetryBackoff = 0 }},
		{name: "port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "shutdown", mutate: func(c *Config) { c.Server.ShutdownTimeout = 0 }, wantErr: "shutdown_timeout"},
		{name: "heartbeat", mutate: func(c *Config) { c.Relay.HeartbeatInterval = 0 }, wantErr: "heartbeat_interval"},
		{name: "negative backoff", mutate: func(c *Config) { c.Relay.RetryBackoff = -time.Second }, wantErr: "retry_backoff"},
		{name: "send buffer", mutate: func(c *Config) { c.Relay.SendBuffer = 0 }, wantErr: "send_buffer"},
		{name: "settings path", mutate: func(c *Config) { c.Storage.SettingsPath = " " }, wantErr: "settings_path"},
		{name: "log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
