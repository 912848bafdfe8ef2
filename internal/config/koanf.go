// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
var DefaultConfigPaths = []string{
	"mediaflux.yaml",
	"mediaflux.yml",
	"/etc/mediaflux/config.yaml",
	"/etc/mediaflux/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "MEDIAFLUX_CONFIG"

// envPrefix namespaces environment overrides: MEDIAFLUX_LOGGING_LEVEL maps
// to logging.level.
const envPrefix = "MEDIAFLUX_"

func defaultConfig() *Config {
	return &Config{
		Scratch: ScratchConfig{
			Dir: "scratch",
		},
		Ledger: LedgerConfig{
			Backend: "badger",
			Dir:     "ledger",
		},
		Pipeline: PipelineConfig{
			Workers: 8,
		},
		Ops: OpsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration with layered precedence: built-in defaults, then
// an optional YAML file, then MEDIAFLUX_* environment variables. The result
// is validated; an invalid topology fails the load.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit file path; empty skips the file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(key string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "_", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// DecodeBag unmarshals a component's free-form config bag into a typed
// struct using the same koanf tags as the root document.
func DecodeBag(bag map[string]any, out any) error {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(bag, "."), nil); err != nil {
		return fmt.Errorf("config: load bag: %w", err)
	}
	if err := k.Unmarshal("", out); err != nil {
		return fmt.Errorf("config: decode bag: %w", err)
	}
	return nil
}
