// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

package middleware

import (
	"fmt"
	"math/rand/v2"

	"github.com/tomtom215/mediaflux/internal/config"
	"github.com/tomtom215/mediaflux/internal/logging"
	"github.com/tomtom215/mediaflux/internal/media"
	"github.com/tomtom215/mediaflux/internal/metrics"
)

// DropperConfig configures a Dropper stage.
type DropperConfig struct {
	// Chance is the probability, 0-1, that an item is dropped.
	Chance float64 `koanf:"chance"`
}

// Dropper discards a random fraction of incoming items, closing their files.
// Useful for thinning a firehose source before it reaches rate-limited
// publish targets.
type Dropper struct {
	Base
	chance float64
}

// NewDropper is the registry factory for "dropper".
func NewDropper(name string, cfg map[string]any) (Middleware, error) {
	c := DropperConfig{Chance: 0.2}
	if err := config.DecodeBag(cfg, &c); err != nil {
		return nil, fmt.Errorf("dropper %s: %w", name, err)
	}
	if c.Chance < 0 || c.Chance > 1 {
		return nil, fmt.Errorf("dropper %s: chance must be within [0, 1]", name)
	}
	return &Dropper{Base: NewBase(name), chance: c.Chance}, nil
}

// ProcessOne drops the item with the configured probability. Orphaned files
// always pass through.
func (d *Dropper) ProcessOne(item media.Item) (media.Item, bool) {
	if item.Orphan() {
		return item, true
	}
	if rand.Float64() < d.chance {
		logging.Debug().
			Str("middleware", d.Name()).
			Stringer("media", item.Meta).
			Str("path", item.File.Path()).
			Msg("dropping media")
		metrics.ItemsDropped.WithLabelValues(d.Name()).Inc()
		return item, false
	}
	return item, true
}

// ProcessMany applies ProcessOne across the batch.
func (d *Dropper) ProcessMany(items []media.Item) []media.Item {
	return Apply(d, items)
}
