// Package config loads runtime settings for the gorooms server.
//
// Settings are layered: built-in defaults, then an optional YAML file
// (CONFIG_PATH or ./config.yaml), then environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Tyrowin/gorooms/internal/logging"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Room      RoomConfig      `koanf:"room"`
	Clock     ClockConfig     `koanf:"clock"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig covers the HTTP listener and WebSocket upgrade.
type ServerConfig struct {
	Port            string        `koanf:"port"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	MaxMessageSize  int64         `koanf:"max_message_size"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// RateLimitConfig defines per-connection inbound message limiting.
type RateLimitConfig struct {
	Burst          int           `koanf:"burst"`
	RefillInterval time.Duration `koanf:"refill_interval"`
}

// RoomConfig tunes delivery and liveness for every room.
type RoomConfig struct {
	SendTimeout      time.Duration `koanf:"send_timeout"`
	LivenessInterval time.Duration `koanf:"liveness_interval"`
	SendQueueSize    int           `koanf:"send_queue_size"`
}

// ClockConfig drives the demo clock room.
type ClockConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// LoggingConfig selects level and output format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            ":8080",
			AllowedOrigins:  []string{"http://localhost:8080"},
			MaxMessageSize:  512,
			ShutdownTimeout: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		Room: RoomConfig{
			SendTimeout:      5 * time.Second,
			LivenessInterval: 54 * time.Second,
			SendQueueSize:    256,
		},
		Clock: ClockConfig{
			Interval: time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Server.Port) == "" {
		errs = append(errs, errors.New("server.port must not be empty"))
	}
	if c.Server.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_message_size must be positive, got %d", c.Server.MaxMessageSize))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must be positive, got %s", c.Server.ShutdownTimeout))
	}
	if c.RateLimit.Burst <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.burst must be positive, got %d", c.RateLimit.Burst))
	}
	if c.RateLimit.RefillInterval <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.refill_interval must be positive, got %s", c.RateLimit.RefillInterval))
	}
	if c.Room.SendTimeout <= 0 {
		errs = append(errs, fmt.Errorf("room.send_timeout must be positive, got %s", c.Room.SendTimeout))
	}
	if c.Room.LivenessInterval < 0 {
		errs = append(errs, fmt.Errorf("room.liveness_interval must not be negative, got %s", c.Room.LivenessInterval))
	}
	if c.Room.SendQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("room.send_queue_size must be positive, got %d", c.Room.SendQueueSize))
	}
	if c.Clock.Interval <= 0 {
		errs = append(errs, fmt.Errorf("clock.interval must be positive, got %s", c.Clock.Interval))
	}
	if !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level %q is not a known level", c.Logging.Level))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// LoggingSettings converts the logging section for logging.Init.
func (c *Config) LoggingSettings() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Logging.Level
	cfg.Format = c.Logging.Format
	return cfg
}
