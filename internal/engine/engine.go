// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

// Package engine assembles the configured topology and owns the process
// lifecycle: build, prepare, run under supervision, and ordered shutdown.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/mediaflux/internal/config"
	"github.com/tomtom215/mediaflux/internal/ledger"
	"github.com/tomtom215/mediaflux/internal/logging"
	"github.com/tomtom215/mediaflux/internal/middleware"
	"github.com/tomtom215/mediaflux/internal/ops"
	"github.com/tomtom215/mediaflux/internal/pipeline"
	"github.com/tomtom215/mediaflux/internal/scratch"
	"github.com/tomtom215/mediaflux/internal/supervisor"
	"github.com/tomtom215/mediaflux/internal/uploader"
	"github.com/tomtom215/mediaflux/internal/watcher"
)

// Registries bundles the component factories the engine resolves config
// against. Zero-value fields fall back to the built-in defaults.
type Registries struct {
	Watchers    *watcher.Registry
	Middlewares *middleware.Registry
	Uploaders   *uploader.Registry
}

func (r Registries) withDefaults() Registries {
	if r.Watchers == nil {
		r.Watchers = watcher.DefaultRegistry()
	}
	if r.Middlewares == nil {
		r.Middlewares = middleware.DefaultRegistry()
	}
	if r.Uploaders == nil {
		r.Uploaders = uploader.DefaultRegistry()
	}
	return r
}

// Engine is the assembled pipeline. Build with New, then Prepare, then Run.
type Engine struct {
	cfg *config.Config

	scratch    *scratch.Manager
	ledger     ledger.Ledger
	dispatcher *pipeline.Dispatcher
	env        *pipeline.Env

	// middlewares holds every unique stage instance in first-appearance
	// order. A logical name appearing in several chains resolves to one
	// shared instance, so prepare and close touch each exactly once.
	middlewares []middleware.Middleware
	globalChain []middleware.Middleware
	watchers    []watcher.Watcher
	pool        *uploader.Pool
}

// New builds the topology from a validated config. ctx is the daemon's
// shutdown context: every blocking wait inside the pipeline observes it.
func New(ctx context.Context, cfg *config.Config, regs Registries) (*Engine, error) {
	regs = regs.withDefaults()

	mgr, err := scratch.NewManager(cfg.Scratch.Dir)
	if err != nil {
		return nil, fmt.Errorf("engine: scratch manager: %w", err)
	}

	var led ledger.Ledger
	switch cfg.Ledger.Backend {
	case "badger":
		led, err = ledger.OpenBadger(cfg.Ledger.Dir)
		if err != nil {
			_ = mgr.Close()
			return nil, fmt.Errorf("engine: ledger: %w", err)
		}
	default:
		led = ledger.NewMemoryLedger()
	}

	e := &Engine{cfg: cfg, scratch: mgr, ledger: led}

	cache := make(map[string]middleware.Middleware)
	resolve := func(mcs []config.MiddlewareConfig) ([]middleware.Middleware, error) {
		out := make([]middleware.Middleware, 0, len(mcs))
		for _, mc := range mcs {
			inst, ok := cache[mc.Name]
			if !ok {
				inst, err = regs.Middlewares.New(mc.Type, mc.Name, mc.Config)
				if err != nil {
					return nil, err
				}
				cache[mc.Name] = inst
				e.middlewares = append(e.middlewares, inst)
			}
			out = append(out, inst)
		}
		return out, nil
	}

	e.globalChain, err = resolve(cfg.Middlewares)
	if err != nil {
		e.closeStores()
		return nil, fmt.Errorf("engine: middleware chain: %w", err)
	}

	for _, wc := range cfg.Watchers {
		pre, err := resolve(wc.Preprocessors)
		if err != nil {
			e.closeStores()
			return nil, fmt.Errorf("engine: watcher %s: %w", wc.Name, err)
		}
		w, err := regs.Watchers.New(wc.Type, wc.Name, pre, wc.Config)
		if err != nil {
			e.closeStores()
			return nil, fmt.Errorf("engine: watcher %s: %w", wc.Name, err)
		}
		e.watchers = append(e.watchers, w)
	}

	var uploaders []uploader.Uploader
	for _, uc := range cfg.Uploaders {
		pre, err := resolve(uc.Preprocessors)
		if err != nil {
			e.closeStores()
			return nil, fmt.Errorf("engine: uploader %s: %w", uc.Name, err)
		}
		u, err := regs.Uploaders.New(uc.Type, uc.Name, pre, uc.Config)
		if err != nil {
			e.closeStores()
			return nil, fmt.Errorf("engine: uploader %s: %w", uc.Name, err)
		}
		uploaders = append(uploaders, u)
	}
	e.pool = uploader.NewPool(uploaders)

	stages := make([]pipeline.Stage, len(e.globalChain))
	for i, m := range e.globalChain {
		stages[i] = m
	}
	e.dispatcher = pipeline.NewDispatcher(ctx, stages, e.pool.Publishers(), cfg.Pipeline.Workers)

	e.env = &pipeline.Env{
		Ctx:      ctx,
		Scratch:  mgr,
		Ledger:   led,
		Dispatch: e.dispatcher.Dispatch,
	}
	return e, nil
}

// Env exposes the shared environment, mainly for tests and embedders.
func (e *Engine) Env() *pipeline.Env { return e.env }

// Watchers returns the built watchers in config order.
func (e *Engine) Watchers() []watcher.Watcher { return e.watchers }

// Prepare readies every component in parallel and fails fast on the first
// error. Each unique middleware instance is prepared exactly once, no matter
// how many chains reference it.
func (e *Engine) Prepare() error {
	var g errgroup.Group
	for _, m := range e.middlewares {
		g.Go(func() error { return m.Prepare(e.env) })
	}
	for _, w := range e.watchers {
		g.Go(func() error { return w.Prepare(e.env) })
	}
	for _, u := range e.pool.Uploaders() {
		g.Go(func() error { return u.Prepare(e.env) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("engine: prepare: %w", err)
	}
	logging.Info().
		Int("watchers", len(e.watchers)).
		Int("middlewares", len(e.middlewares)).
		Int("uploaders", len(e.pool.Uploaders())).
		Msg("pipeline prepared")
	return nil
}

// Run serves the watchers and the ops listener under a supervision tree
// until ctx is canceled, then shuts the pipeline down in order.
func (e *Engine) Run(ctx context.Context) error {
	tree := supervisor.NewTree(
		slog.New(logging.NewSlogHandler()),
		supervisor.DefaultTreeConfig(),
	)

	for _, w := range e.watchers {
		tree.AddSource(w)
	}
	if e.cfg.Ops.Enabled {
		tree.AddOps(ops.NewServer(e.cfg.Ops.Addr, e.cfg.Ops.Timeout, nil))
	}

	err := tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Err(err).Msg("supervision tree exited")
	}
	return e.Close()
}

// Close tears the pipeline down: watchers first so no new batches arrive,
// then middleware so queued work flushes through the still-live uploaders,
// then uploaders, ledger, and finally scratch storage, which sweeps any
// stray files.
func (e *Engine) Close() error {
	var errs []error
	for _, w := range e.watchers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("watcher %s: %w", w.Name(), err))
		}
	}
	for _, m := range e.middlewares {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("middleware %s: %w", m.Name(), err))
		}
	}
	for _, u := range e.pool.Uploaders() {
		if err := u.Close(); err != nil {
			errs = append(errs, fmt.Errorf("uploader %s: %w", u.Name(), err))
		}
	}
	errs = append(errs, e.closeStores())
	logging.Info().Msg("pipeline closed")
	return errors.Join(errs...)
}

func (e *Engine) closeStores() error {
	var errs []error
	if err := e.ledger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("ledger: %w", err))
	}
	if err := e.scratch.Close(); err != nil {
		errs = append(errs, fmt.Errorf("scratch: %w", err))
	}
	return errors.Join(errs...)
}
