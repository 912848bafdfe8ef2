// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

// Package uploader implements publish targets and the pool discipline that
// runs them: per-target preprocessing middleware before each publish call,
// and at most one publish in flight across all targets unless a target opts
// into concurrency.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tomtom215/mediaflux/internal/logging"
	"github.com/tomtom215/mediaflux/internal/media"
	"github.com/tomtom215/mediaflux/internal/metrics"
	"github.com/tomtom215/mediaflux/internal/middleware"
	"github.com/tomtom215/mediaflux/internal/pipeline"
)

var (
	// ErrAlreadyPrepared is returned by a second Prepare on the same uploader.
	ErrAlreadyPrepared = errors.New("uploader: already prepared")
)

// Uploader publishes media to one external destination. Upload receives only
// metadata-bearing items and need not preserve a 1:1 input/output mapping;
// an album-style target may consume N inputs into one post and report the
// shared result against each file.
type Uploader interface {
	Name() string
	Prepare(env *pipeline.Env) error
	Upload(ctx context.Context, items []media.Item) ([]media.Item, error)
	Close() error

	// Preprocessors are this target's own middleware chain.
	Preprocessors() []middleware.Middleware

	// Concurrent reports whether this target opts out of the pool's global
	// publish lock.
	Concurrent() bool
}

// Base carries the state common to all uploaders.
type Base struct {
	name          string
	preprocessors []middleware.Middleware
	concurrent    bool

	mu       sync.Mutex
	env      *pipeline.Env
	prepared bool
}

// NewBase builds the common uploader state.
func NewBase(name string, preprocessors []middleware.Middleware, concurrent bool) Base {
	return Base{name: name, preprocessors: preprocessors, concurrent: concurrent}
}

// Name returns the uploader name.
func (b *Base) Name() string { return b.name }

// Preprocessors returns the target's middleware chain.
func (b *Base) Preprocessors() []middleware.Middleware { return b.preprocessors }

// Concurrent reports the concurrency opt-out.
func (b *Base) Concurrent() bool { return b.concurrent }

// Prepare wires the shared environment. A second call is an error.
func (b *Base) Prepare(env *pipeline.Env) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.prepared {
		return fmt.Errorf("%w: %s", ErrAlreadyPrepared, b.name)
	}
	b.env = env
	b.prepared = true
	return nil
}

// Env returns the prepared environment, or nil before Prepare.
func (b *Base) Env() *pipeline.Env {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.env
}

// Close is a no-op default.
func (b *Base) Close() error { return nil }

// Pool wraps uploaders with the shared publish lock and exposes each as a
// pipeline.Publisher. The lock is an explicit handle owned by the pool, not
// package-global state, so tests and multi-pool setups stay isolated.
type Pool struct {
	publishLock sync.Mutex
	uploaders   []Uploader
}

// NewPool builds a pool over the registered uploaders.
func NewPool(uploaders []Uploader) *Pool {
	return &Pool{uploaders: uploaders}
}

// Uploaders returns the pool members in registration order.
func (p *Pool) Uploaders() []Uploader { return p.uploaders }

// Publishers returns pipeline-facing handles in registration order.
func (p *Pool) Publishers() []pipeline.Publisher {
	out := make([]pipeline.Publisher, len(p.uploaders))
	for i, u := range p.uploaders {
		out[i] = &pooled{pool: p, uploader: u}
	}
	return out
}

// pooled adapts one uploader to the dispatcher's Publisher contract.
type pooled struct {
	pool     *Pool
	uploader Uploader
}

func (w *pooled) Name() string { return w.uploader.Name() }

// UploadAndPreprocess runs the target's preprocessing chain, publishes the
// metadata-bearing subset, and passes orphaned files through untouched. A
// publish failure is absorbed: it logs and yields zero results for the batch
// without disturbing other uploaders or the dispatcher.
func (w *pooled) UploadAndPreprocess(ctx context.Context, items []media.Item) []media.Item {
	batch := items
	for _, m := range w.uploader.Preprocessors() {
		batch = m.ProcessMany(batch)
	}

	valid, orphans := media.Split(batch)

	var uploaded []media.Item
	if len(valid) > 0 {
		var err error
		uploaded, err = w.publish(ctx, valid)
		if err != nil {
			logging.Err(err).
				Str("uploader", w.Name()).
				Int("items", len(valid)).
				Msg("upload failed, batch contributes no results")
			metrics.UploadBatches.WithLabelValues(w.Name(), "error").Inc()
			return nil
		}
		metrics.UploadBatches.WithLabelValues(w.Name(), "ok").Inc()
		metrics.UploadItems.WithLabelValues(w.Name()).Add(float64(len(uploaded)))
	}

	return append(uploaded, orphans...)
}

// publish calls Upload under the pool's global lock unless the target opted
// into concurrency, converting panics into errors.
func (w *pooled) publish(ctx context.Context, items []media.Item) (out []media.Item, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("uploader %s panicked: %v", w.Name(), r)
		}
	}()

	if w.uploader.Concurrent() {
		return w.uploader.Upload(ctx, items)
	}
	w.pool.publishLock.Lock()
	defer w.pool.publishLock.Unlock()
	return w.uploader.Upload(ctx, items)
}

// Factory builds an uploader from its name, preprocessing chain, and config
// bag.
type Factory func(name string, preprocessors []middleware.Middleware, cfg map[string]any) (Uploader, error)

// Registry maps type tags to uploader factories.
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

// New builds an uploader of the given type.
func (r *Registry) New(typeTag, name string, preprocessors []middleware.Middleware, cfg map[string]any) (Uploader, error) {
	f, ok := r.factories[typeTag]
	if !ok {
		return nil, fmt.Errorf("uploader: unknown type %q", typeTag)
	}
	return f(name, preprocessors, cfg)
}

// DefaultRegistry returns a registry with every built-in uploader registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("local", NewLocalStorage)
	r.Register("webhook", NewWebhook)
	return r
}
