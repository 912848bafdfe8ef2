// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

package watcher

import (
	"context"
	"fmt"

	"github.com/tomtom215/mediaflux/internal/config"
	"github.com/tomtom215/mediaflux/internal/media"
	"github.com/tomtom215/mediaflux/internal/middleware"
)

// PusherConfig configures the heartbeat watcher.
type PusherConfig struct {
	PollerConfig `koanf:",squash"`
}

// Pusher discovers nothing on its own. On each cycle it dispatches an empty
// batch, which in process-if-empty mode acts as a heartbeat that flushes
// downstream collectors and wakes limiters. In-process producers can also
// hand it batches directly through Push.
type Pusher struct {
	Poller
}

// NewPusher builds the heartbeat watcher from a config bag.
func NewPusher(name string, preprocessors []middleware.Middleware, cfg map[string]any) (Watcher, error) {
	var c PusherConfig
	if err := config.DecodeBag(cfg, &c); err != nil {
		return nil, fmt.Errorf("watcher %s: %w", name, err)
	}
	// A pusher that never dispatches empty batches would do nothing at all.
	c.ProcessIfEmpty = true

	p := &Pusher{}
	p.Poller = NewPoller(NewBase(name, preprocessors, false), p, c.PollerConfig)
	return p, nil
}

// CheckForUploads implements Source with a perpetually empty result.
func (p *Pusher) CheckForUploads(ctx context.Context) ([]media.Item, error) {
	return nil, ctx.Err()
}

// Push feeds a batch from an in-process producer through the watcher's
// preprocessing chain and into the pipeline.
func (p *Pusher) Push(items []media.Item) {
	p.DispatchBatch(items)
}
