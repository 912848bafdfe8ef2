// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mediaflux.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Ledger.Backend != "badger" {
		t.Errorf("Ledger.Backend = %q", cfg.Ledger.Backend)
	}
	if cfg.Pipeline.Workers != 8 {
		t.Errorf("Pipeline.Workers = %d", cfg.Pipeline.Workers)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestLoadFileLayersYAMLOverDefaults(t *testing.T) {
	path := writeConfig(t, `
scratch:
  dir: /tmp/mf-scratch
ledger:
  backend: memory
ops:
  enabled: true
  addr: 127.0.0.1:9999
  timeout: 5s
watchers:
  - type: local
    name: inbox
    config:
      dir: /srv/inbox
      interval: 30s
    preprocessors:
      - type: metadata
        name: tagger
        config:
          tags: [repost]
middlewares:
  - type: collector
    name: batch
    config:
      count: 4
uploaders:
  - type: local
    name: archive
    config:
      dir: /srv/archive
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Scratch.Dir != "/tmp/mf-scratch" {
		t.Errorf("Scratch.Dir = %q", cfg.Scratch.Dir)
	}
	if cfg.Ledger.Backend != "memory" {
		t.Errorf("Ledger.Backend = %q", cfg.Ledger.Backend)
	}
	if !cfg.Ops.Enabled || cfg.Ops.Timeout != 5*time.Second {
		t.Errorf("Ops = %+v", cfg.Ops)
	}
	if len(cfg.Watchers) != 1 || cfg.Watchers[0].Type != "local" {
		t.Fatalf("Watchers = %+v", cfg.Watchers)
	}
	if len(cfg.Watchers[0].Preprocessors) != 1 || cfg.Watchers[0].Preprocessors[0].Name != "tagger" {
		t.Errorf("Preprocessors = %+v", cfg.Watchers[0].Preprocessors)
	}
	if len(cfg.Middlewares) != 1 || cfg.Middlewares[0].Name != "batch" {
		t.Errorf("Middlewares = %+v", cfg.Middlewares)
	}
	if got := cfg.Watchers[0].Config["dir"]; got != "/srv/inbox" {
		t.Errorf("watcher config bag dir = %v", got)
	}
}

func TestLoadFileEnvOverrides(t *testing.T) {
	t.Setenv("MEDIAFLUX_LOGGING_LEVEL", "debug")
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadTopologies(t *testing.T) {
	base := func() *Config {
		c := defaultConfig()
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			"badger without dir",
			func(c *Config) { c.Ledger.Dir = "" },
		},
		{
			"unknown ledger backend",
			func(c *Config) { c.Ledger.Backend = "postgres" },
		},
		{
			"empty scratch dir",
			func(c *Config) { c.Scratch.Dir = "" },
		},
		{
			"duplicate watcher names",
			func(c *Config) {
				c.Watchers = []ComponentConfig{
					{Type: "local", Name: "dup"},
					{Type: "rss", Name: "dup"},
				}
			},
		},
		{
			"duplicate global middleware names",
			func(c *Config) {
				c.Middlewares = []MiddlewareConfig{
					{Type: "collector", Name: "m"},
					{Type: "collector", Name: "m"},
				}
			},
		},
		{
			"shared middleware name with conflicting types",
			func(c *Config) {
				c.Middlewares = []MiddlewareConfig{{Type: "collector", Name: "shared"}}
				c.Uploaders = []ComponentConfig{{
					Type: "local",
					Name: "u",
					Preprocessors: []MiddlewareConfig{
						{Type: "limiter", Name: "shared"},
					},
				}}
			},
		},
		{
			"middleware without name",
			func(c *Config) {
				c.Middlewares = []MiddlewareConfig{{Type: "collector"}}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateAllowsSharedMiddlewareWithSameType(t *testing.T) {
	cfg := defaultConfig()
	cfg.Middlewares = []MiddlewareConfig{{Type: "limiter", Name: "shared"}}
	cfg.Uploaders = []ComponentConfig{{
		Type: "local",
		Name: "u",
		Preprocessors: []MiddlewareConfig{
			{Type: "limiter", Name: "shared"},
		},
	}}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestDecodeBag(t *testing.T) {
	type target struct {
		Dir      string        `koanf:"dir"`
		Interval time.Duration `koanf:"interval"`
		Copy     bool          `koanf:"copy"`
	}

	var got target
	err := DecodeBag(map[string]any{
		"dir":      "/srv/in",
		"interval": "45s",
		"copy":     true,
	}, &got)
	if err != nil {
		t.Fatalf("DecodeBag: %v", err)
	}
	if got.Dir != "/srv/in" || got.Interval != 45*time.Second || !got.Copy {
		t.Errorf("decoded = %+v", got)
	}
}
