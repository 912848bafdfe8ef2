// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

// Package config loads and validates the daemon configuration, including the
// static pipeline topology of named watchers, middlewares, and uploaders.
package config

import (
	"fmt"
	"time"

	validator "github.com/go-playground/validator/v10"
)

// Config is the root configuration document.
type Config struct {
	Scratch  ScratchConfig  `koanf:"scratch"`
	Ledger   LedgerConfig   `koanf:"ledger"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Ops      OpsConfig      `koanf:"ops"`
	Logging  LoggingConfig  `koanf:"logging"`

	Watchers    []ComponentConfig  `koanf:"watchers"`
	Middlewares []MiddlewareConfig `koanf:"middlewares"`
	Uploaders   []ComponentConfig  `koanf:"uploaders"`
}

// ScratchConfig configures temporary file storage.
type ScratchConfig struct {
	Dir string `koanf:"dir" validate:"required"`
}

// LedgerConfig configures the dedup ledger.
type LedgerConfig struct {
	// Backend selects the store: badger (durable) or memory (ephemeral).
	Backend string `koanf:"backend" validate:"oneof=badger memory"`
	Dir     string `koanf:"dir"`
}

// PipelineConfig tunes the dispatcher.
type PipelineConfig struct {
	// Workers caps concurrent publish work across all watchers.
	Workers int `koanf:"workers" validate:"gte=0"`
}

// OpsConfig configures the optional metrics/health listener.
type OpsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig mirrors logging.Config for the koanf layer.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// ComponentConfig declares one named component of the topology. Type selects
// a registered implementation; Config is the implementation-specific bag.
// Preprocessors are middleware definitions run before this component's own
// work. A middleware name is a logical identity: definitions under the same
// name, wherever they appear, resolve to one shared instance.
type ComponentConfig struct {
	Type          string            `koanf:"type" validate:"required"`
	Name          string            `koanf:"name" validate:"required"`
	Config        map[string]any    `koanf:"config"`
	Preprocessors []MiddlewareConfig `koanf:"preprocessors"`
}

// MiddlewareConfig declares one middleware definition.
type MiddlewareConfig struct {
	Type   string         `koanf:"type" validate:"required"`
	Name   string         `koanf:"name" validate:"required"`
	Config map[string]any `koanf:"config"`
}

// Validate checks structural constraints and topology consistency. Any error
// here is fatal at startup: the process must not run an invalid topology.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if c.Ledger.Backend == "badger" && c.Ledger.Dir == "" {
		return fmt.Errorf("config: ledger.dir is required for the badger backend")
	}

	// A middleware name must map to a single type everywhere it appears,
	// since definitions with the same name share one instance.
	middlewareTypes := make(map[string]string)
	recordMiddleware := func(m MiddlewareConfig) error {
		if existing, ok := middlewareTypes[m.Name]; ok && existing != m.Type {
			return fmt.Errorf("config: middleware %q declared with conflicting types %q and %q", m.Name, existing, m.Type)
		}
		middlewareTypes[m.Name] = m.Type
		return nil
	}

	globalSeen := make(map[string]bool, len(c.Middlewares))
	for _, m := range c.Middlewares {
		if globalSeen[m.Name] {
			return fmt.Errorf("config: duplicate middleware name %q in global chain", m.Name)
		}
		globalSeen[m.Name] = true
		if err := recordMiddleware(m); err != nil {
			return err
		}
	}

	checkComponents := func(kind string, components []ComponentConfig) error {
		seen := make(map[string]bool, len(components))
		for _, comp := range components {
			if seen[comp.Name] {
				return fmt.Errorf("config: duplicate %s name %q", kind, comp.Name)
			}
			seen[comp.Name] = true
			for _, pre := range comp.Preprocessors {
				if err := recordMiddleware(pre); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := checkComponents("watcher", c.Watchers); err != nil {
		return err
	}
	if err := checkComponents("uploader", c.Uploaders); err != nil {
		return err
	}
	return nil
}
