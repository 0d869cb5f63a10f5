package config

import (
	"fmt"
	"strings"
)

// Validate rejects settings the relay cannot run with. Load calls it.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535 (got %d)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0 (got %v)", c.Server.ShutdownTimeout)
	}
	if c.Server.MaxMessageBytes < 0 || c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server size limits must be >= 0")
	}
	if err := c.Relay.validate(); err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	if strings.TrimSpace(c.Storage.SettingsPath) == "" {
		return fmt.Errorf("storage.settings_path is required")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text (got %q)", c.Log.Format)
	}
	return nil
}

func (r *RelayConfig) validate() error {
	if r.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be > 0 (got %v)", r.HeartbeatInterval)
	}
	if r.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff must be >= 0 (got %v)", r.RetryBackoff)
	}
	if r.EventBuffer <= 0 {
		return fmt.Errorf("event_buffer must be > 0 (got %d)", r.EventBuffer)
	}
	if r.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be > 0 (got %d)", r.SendBuffer)
	}
	if r.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be > 0 (got %v)", r.WriteTimeout)
	}
	return nil
}
