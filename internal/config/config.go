// Package config loads relay settings from a YAML file and the environment.
package config

import (
	"fmt"
	"time"
)

// Config is the root relay configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Relay   RelayConfig   `yaml:"relay"`
	Storage StorageConfig `yaml:"storage"`
	CORS    CORSConfig    `yaml:"cors"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds the HTTP and WebSocket listener settings.
type ServerConfig struct {
	Host              string        `yaml:"host"                env:"SERVER_HOST"                env-default:"localhost"`
	Port              int           `yaml:"port"                env:"SERVER_PORT"                env-default:"3001"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"SERVER_READ_HEADER_TIMEOUT" env-default:"5s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"    env:"SERVER_SHUTDOWN_TIMEOUT"    env-default:"5s"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"      env:"SERVER_MAX_BODY_BYTES"      env-default:"52428800"`
	MaxMessageBytes   int64         `yaml:"max_message_bytes"   env:"SERVER_MAX_MESSAGE_BYTES"   env-default:"104857600"`
}

// Addr returns host:port for http.Server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RelayConfig holds coordinator timings and per-connection buffers.
type RelayConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"RELAY_HEARTBEAT_INTERVAL" env-default:"10s"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"      env:"RELAY_RETRY_BACKOFF"      env-default:"5s"`
	EventBuffer       int           `yaml:"event_buffer"       env:"RELAY_EVENT_BUFFER"       env-default:"256"`
	SendBuffer        int           `yaml:"send_buffer"        env:"RELAY_SEND_BUFFER"        env-default:"64"`
	WriteTimeout      time.Duration `yaml:"write_timeout"      env:"RELAY_WRITE_TIMEOUT"      env-default:"10s"`
}

// StorageConfig locates the settings file.
type StorageConfig struct {
	SettingsPath string `yaml:"settings_path" env:"STORAGE_SETTINGS_PATH" env-default:"./settings.yaml"`
}

// CORSConfig holds cross-origin settings for the HTTP API.
type CORSConfig struct {
	AllowedOrigins string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-default:"*"`
	AllowedMethods string `yaml:"allowed_methods" env:"CORS_ALLOWED_METHODS" env-default:"GET,POST,OPTIONS"`
	AllowedHeaders string `yaml:"allowed_headers" env:"CORS_ALLOWED_HEADERS" env-default:"Content-Type"`
	MaxAge         int    `yaml:"max_age"         env:"CORS_MAX_AGE"         env-default:"86400"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}
