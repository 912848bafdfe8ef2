// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

// Package watcher implements media sources: components that discover new
// media, download it into scratch storage, and hand batches to the
// dispatcher. Polling sources share the Poller cycle discipline; all sources
// share the ledger dedup discipline.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/mediaflux/internal/ledger"
	"github.com/tomtom215/mediaflux/internal/logging"
	"github.com/tomtom215/mediaflux/internal/media"
	"github.com/tomtom215/mediaflux/internal/metrics"
	"github.com/tomtom215/mediaflux/internal/middleware"
	"github.com/tomtom215/mediaflux/internal/pipeline"
)

// ErrAlreadyPrepared is returned by a second Prepare on the same watcher.
var ErrAlreadyPrepared = errors.New("watcher: already prepared")

// Watcher is a media source. Serve runs the source until the context is
// canceled; it is the suture service entry point.
type Watcher interface {
	Name() string
	Prepare(env *pipeline.Env) error
	Serve(ctx context.Context) error
	Close() error
}

// Source produces one batch of newly discovered media. Implementations skip
// items the ledger already marks handled; a returned error fails the cycle
// but never the watcher.
type Source interface {
	CheckForUploads(ctx context.Context) ([]media.Item, error)
}

// Base carries the state common to all watchers.
type Base struct {
	name          string
	preprocessors []middleware.Middleware

	mu       sync.Mutex
	env      *pipeline.Env
	ns       *ledger.Namespace
	prepared bool
	backlog  bool
}

// NewBase builds the common watcher state. backlog marks a one-shot request
// to process pre-existing content on the first cycle.
func NewBase(name string, preprocessors []middleware.Middleware, backlog bool) Base {
	return Base{name: name, preprocessors: preprocessors, backlog: backlog}
}

// Name returns the watcher name, which is also its ledger namespace.
func (b *Base) Name() string { return b.name }

// Prepare wires the shared environment and binds the ledger namespace.
func (b *Base) Prepare(env *pipeline.Env) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.prepared {
		return fmt.Errorf("%w: %s", ErrAlreadyPrepared, b.name)
	}
	b.env = env
	b.ns = ledger.NewNamespace(env.Ledger, b.name)
	b.prepared = true
	return nil
}

// Env returns the prepared environment, or nil before Prepare.
func (b *Base) Env() *pipeline.Env {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.env
}

// Handled reports whether id is already marked in this watcher's namespace.
// Ledger read errors fail open: the item is treated as new so a broken store
// degrades to duplicate work, not dropped media.
func (b *Base) Handled(id string) bool {
	b.mu.Lock()
	ns := b.ns
	b.mu.Unlock()
	if ns == nil {
		return false
	}
	handled, err := ns.IsHandled(id)
	if err != nil {
		logging.Err(err).Str("watcher", b.name).Str("id", id).Msg("ledger read failed")
		return false
	}
	return handled
}

// MarkHandled records id as processed in this watcher's namespace.
func (b *Base) MarkHandled(id string) {
	b.mu.Lock()
	ns := b.ns
	b.mu.Unlock()
	if ns == nil {
		return
	}
	if err := ns.MarkHandled(id, true); err != nil {
		logging.Err(err).Str("watcher", b.name).Str("id", id).Msg("ledger write failed")
	}
}

// Backlog reports the one-shot backlog flag. Sources consult it on their
// first scan to decide whether pre-existing content counts as new.
func (b *Base) Backlog() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backlog
}

func (b *Base) clearBacklog() {
	b.mu.Lock()
	b.backlog = false
	b.mu.Unlock()
}

// Close is a no-op default.
func (b *Base) Close() error { return nil }

// PollerConfig is the cycle configuration shared by all polling watchers.
type PollerConfig struct {
	// Interval is the target spacing between cycle starts. Defaults to 60s.
	Interval time.Duration `koanf:"interval"`

	// ProcessIfEmpty dispatches empty batches too, driving downstream
	// collector flushes even when no new media appeared.
	ProcessIfEmpty bool `koanf:"process_if_empty"`

	// Copy treats pre-existing content as new on the first cycle.
	Copy bool `koanf:"copy"`
}

func (c *PollerConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
}

// Poller runs a Source on a fixed cycle. Cycles are strictly sequential: the
// next sleep is computed as interval minus the elapsed cycle time, floored at
// zero, so a slow cycle never causes overlap and a fast one keeps the cadence.
type Poller struct {
	Base
	source         Source
	interval       time.Duration
	processIfEmpty bool
}

// NewPoller builds the polling harness around a source. The source is usually
// the embedding watcher itself.
func NewPoller(base Base, source Source, cfg PollerConfig) Poller {
	cfg.applyDefaults()
	return Poller{
		Base:           base,
		source:         source,
		interval:       cfg.Interval,
		processIfEmpty: cfg.ProcessIfEmpty,
	}
}

// Serve polls until the context is canceled. It always returns the context's
// error so the supervisor treats cancellation as a normal stop.
func (p *Poller) Serve(ctx context.Context) error {
	logging.Info().
		Str("watcher", p.Name()).
		Dur("interval", p.interval).
		Msg("watcher started")

	for {
		elapsed := p.cycle(ctx)

		sleep := p.interval - elapsed
		if sleep < 0 {
			sleep = 0
		}
		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			logging.Info().Str("watcher", p.Name()).Msg("watcher stopped")
			return ctx.Err()
		}
	}
}

// cycle runs one poll and returns its wall time. A failed poll logs and
// contributes zero items; it never stops the loop.
func (p *Poller) cycle(ctx context.Context) time.Duration {
	start := time.Now()
	metrics.WatcherCycles.WithLabelValues(p.Name()).Inc()

	items, err := p.source.CheckForUploads(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logging.Err(err).Str("watcher", p.Name()).Msg("poll cycle failed")
			metrics.WatcherCycleErrors.WithLabelValues(p.Name()).Inc()
		}
		return time.Since(start)
	}
	p.clearBacklog()

	p.DispatchBatch(items)
	return time.Since(start)
}

// DispatchBatch applies the watcher's preprocessing chain, hands the batch to
// the dispatcher, and marks the source IDs handled. Empty batches are
// dispatched only in process-if-empty mode, where they act as a heartbeat for
// downstream collectors and limiters.
func (p *Poller) DispatchBatch(items []media.Item) {
	if len(items) == 0 && !p.processIfEmpty {
		return
	}

	ids := make([]string, 0, len(items))
	for _, it := range items {
		if !it.Orphan() {
			ids = append(ids, it.Meta.ID)
		}
	}
	metrics.WatcherItemsFound.WithLabelValues(p.Name()).Add(float64(len(ids)))

	for _, m := range p.preprocessors {
		items = m.ProcessMany(items)
	}

	env := p.Env()
	if env == nil {
		logging.Error().Str("watcher", p.Name()).Msg("dispatch before prepare, dropping batch")
		media.CloseAll(items)
		return
	}
	env.Dispatch(items)

	// Marked after dispatch is wired, not after it completes: the batch's
	// files now belong to the dispatcher, so the source must not rediscover
	// these IDs even if publishing is still in flight.
	for _, id := range ids {
		p.MarkHandled(id)
	}

	if len(ids) > 0 {
		logging.Debug().
			Str("watcher", p.Name()).
			Int("items", len(ids)).
			Msg("dispatched batch")
	}
}

// Factory builds a watcher from its name, preprocessing chain, and config
// bag.
type Factory func(name string, preprocessors []middleware.Middleware, cfg map[string]any) (Watcher, error)

// Registry maps type tags to watcher factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under a type tag, replacing any existing one.
func (r *Registry) Register(typeTag string, f Factory) {
	r.factories[typeTag] = f
}

// New builds a watcher of the given type.
func (r *Registry) New(typeTag, name string, preprocessors []middleware.Middleware, cfg map[string]any) (Watcher, error) {
	f, ok := r.factories[typeTag]
	if !ok {
		return nil, fmt.Errorf("watcher: unknown type %q", typeTag)
	}
	return f(name, preprocessors, cfg)
}

// DefaultRegistry returns a registry with every built-in watcher registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("local", NewLocal)
	r.Register("rss", NewRSS)
	r.Register("push", NewPusher)
	return r
}
