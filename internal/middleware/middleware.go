// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

// Package middleware implements pipeline stages that transform, filter,
// batch, or throttle media items.
//
// A stage that returns an item forwards the closing obligation downstream; a
// stage that drops an item must close its file. Items with nil metadata are
// orphaned files and pass through every stage untouched unless the stage
// explicitly owns them. Stages referenced by the same logical name are shared
// across attachment points, so every stage must be safe under concurrent
// invocation.
package middleware

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tomtom215/mediaflux/internal/media"
	"github.com/tomtom215/mediaflux/internal/pipeline"
)

var (
	// ErrAlreadyPrepared is returned by a second Prepare on the same stage.
	ErrAlreadyPrepared = errors.New("middleware: already prepared")

	// ErrNotPrepared is returned when a stage is used before Prepare.
	ErrNotPrepared = errors.New("middleware: not prepared")
)

// Middleware is a pipeline stage. ProcessMany may be called concurrently
// from multiple watchers when the instance is shared.
type Middleware interface {
	Name() string
	Prepare(env *pipeline.Env) error
	ProcessOne(item media.Item) (media.Item, bool)
	ProcessMany(items []media.Item) []media.Item
	Close() error
}

// Base carries the prepared environment and name common to all stages.
type Base struct {
	name string

	mu       sync.Mutex
	env      *pipeline.Env
	prepared bool
}

// NewBase names a stage.
func NewBase(name string) Base {
	return Base{name: name}
}

// Name returns the stage name.
func (b *Base) Name() string {
	return b.name
}

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
func (b *Base) Close() error {
	return nil
}

// Apply is the default ProcessMany: map ProcessOne over the batch and drop
// rejected items, closing their files if the stage did not already.
func Apply(m Middleware, items []media.Item) []media.Item {
	out := make([]media.Item, 0, len(items))
	for _, it := range items {
		processed, keep := m.ProcessOne(it)
		if !keep {
			if processed.File != nil && !processed.File.Closed() {
				_ = processed.File.Close()
			}
			continue
		}
		out = append(out, processed)
	}
	return out
}

// Factory builds a stage from its logical name and config bag.
type Factory func(name string, cfg map[string]any) (Middleware, error)

// Registry maps type tags to stage factories.
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

// New builds a stage of the given type.
func (r *Registry) New(typeTag, name string, cfg map[string]any) (Middleware, error) {
	f, ok := r.factories[typeTag]
	if !ok {
		return nil, fmt.Errorf("middleware: unknown type %q", typeTag)
	}
	return f(name, cfg)
}

// DefaultRegistry returns a registry with every built-in stage registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("collector", NewCollector)
	r.Register("limiter", NewLimiter)
	r.Register("dropper", NewDropper)
	r.Register("metadata", NewModifier)
	return r
}
