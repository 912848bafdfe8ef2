// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

// Package pipeline holds the orchestration core: the shared environment
// handed to every component at prepare time, the stage and publisher
// contracts, and the dispatcher that fans batches out to publishers with
// exactly-once scratch file cleanup.
package pipeline

import (
	"context"

	"github.com/tomtom215/mediaflux/internal/ledger"
	"github.com/tomtom215/mediaflux/internal/media"
	"github.com/tomtom215/mediaflux/internal/scratch"
)

// DispatchFunc hands a batch to the dispatcher and returns its completion
// future. The dispatcher owns cleanup of every file in the batch once the
// future resolves.
type DispatchFunc func(items []media.Item) *Result

// Env is the shared environment wired into every watcher, middleware, and
// uploader during the prepare phase. It replaces ad hoc readiness wiring
// with a single typed handle.
type Env struct {
	// Ctx is canceled when shutdown is signaled. Every blocking wait in the
	// pipeline observes it and returns promptly.
	Ctx context.Context

	// Scratch allocates temporary media files.
	Scratch *scratch.Manager

	// Ledger is the durable dedup store, namespaced per watcher.
	Ledger ledger.Ledger

	// Dispatch runs the global chain and uploader fan-out for a batch.
	// Collector stages use it for out-of-band flushes; watchers use it for
	// every poll result.
	Dispatch DispatchFunc
}

// Stage is a middleware stage as seen by the dispatcher: an ordered
// transformation over batches of items. Implementations live in
// internal/middleware.
type Stage interface {
	Name() string
	ProcessMany(items []media.Item) []media.Item
}

// Publisher is an uploader as seen by the dispatcher: per-target
// preprocessing plus the publish call, with failures absorbed to an empty
// result. Implementations live in internal/uploader.
type Publisher interface {
	Name() string
	UploadAndPreprocess(ctx context.Context, items []media.Item) []media.Item
}
