package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
}

var envMappings = map[string]string{
	"server_port":                "server.port",
	"allowed_origins":            "server.allowed_origins",
	"max_message_size":           "server.max_message_size",
	"shutdown_timeout":           "server.shutdown_timeout",
	"rate_limit_burst":           "rate_limit.burst",
	"rate_limit_refill_interval": "rate_limit.refill_interval",
	"room_send_timeout":          "room.send_timeout",
	"room_liveness_interval":     "room.liveness_interval",
	"room_send_queue_size":       "room.send_queue_size",
	"clock_interval":             "clock.interval",
	"log_level":                  "logging.level",
	"log_format":                 "logging.format",
}

var sliceConfigPaths = []string{
	"server.allowed_origins",
}

var durationConfigPaths = []string{
	"server.shutdown_timeout",
	"rate_limit.refill_interval",
	"room.send_timeout",
	"room.liveness_interval",
	"clock.interval",
}

// Load builds the configuration from defaults, the optional config file and
// the environment, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}
	if err := processDurationFields(k); err != nil {
		return nil, fmt.Errorf("failed to process duration fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	normalizePort(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		return ""
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf paths. Unmapped
// variables return "" and are skipped.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}

// processSliceFields splits comma-separated environment values.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(raw, ",")
		values := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				values = append(values, p)
			}
		}
		if err := k.Set(path, values); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// processDurationFields accepts a bare number as seconds, so
// RATE_LIMIT_REFILL_INTERVAL=2 keeps meaning two seconds.
func processDurationFields(k *koanf.Koanf) error {
	for _, path := range durationConfigPaths {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.Trim(raw, "0123456789") != "" {
			continue
		}
		if err := k.Set(path, raw+"s"); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// normalizePort accepts "8080" as well as ":8080".
func normalizePort(cfg *Config) {
	port := strings.TrimSpace(cfg.Server.Port)
	if port != "" && !strings.Contains(port, ":") {
		port = ":" + port
	}
	cfg.Server.Port = port
}
