// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/mediaflux/internal/logging"
	"github.com/tomtom215/mediaflux/internal/media"
	"github.com/tomtom215/mediaflux/internal/metrics"
)

// DefaultWorkers caps concurrent publish work when no explicit pool size is
// configured.
const DefaultWorkers = 8

// Dispatcher is the shared fan-out/fan-in routine invoked by every watcher.
// A batch runs through the global chain in configured order, fans out to
// every publisher, and has its scratch files closed exactly once when the
// fan-out resolves: the merged result's files on success, the original
// input's files on failure.
type Dispatcher struct {
	chain      []Stage
	publishers []Publisher

	// sem bounds chain execution and fan-out so concurrent publish work is
	// capped regardless of how many watchers dispatch at once.
	sem chan struct{}

	ctx context.Context
}

// NewDispatcher builds a dispatcher over the global chain and publisher set.
// workers <= 0 selects DefaultWorkers.
func NewDispatcher(ctx context.Context, chain []Stage, publishers []Publisher, workers int) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Dispatcher{
		chain:      chain,
		publishers: publishers,
		sem:        make(chan struct{}, workers),
		ctx:        ctx,
	}
}

// Dispatch hands a batch to the pipeline and returns its completion future.
// The caller gives up ownership of every file in items; the dispatcher
// guarantees each is closed exactly once when the future resolves.
func (d *Dispatcher) Dispatch(items []media.Item) *Result {
	res := NewResult()
	input := append([]media.Item(nil), items...)

	metrics.DispatchBatches.Inc()

	go func() {
		start := time.Now()
		merged, published, err := d.run(input)
		metrics.DispatchDuration.Observe(time.Since(start).Seconds())

		// Exactly one cleanup path runs. On failure no downstream stage took
		// ownership, so the original input is closed; on success ownership
		// ended with the merged result. Publishers that absorbed a failure
		// contribute nothing to merged, so whatever they alone were publishing
		// is swept from the post-chain batch rather than lingering until
		// shutdown.
		if err != nil {
			logging.Err(err).Int("items", len(input)).Msg("dispatch failed, closing input batch")
			media.CloseAll(input)
			res.complete(nil, err)
			return
		}
		media.CloseAll(merged)
		media.CloseAll(published)
		res.complete(merged, nil)
	}()

	return res
}

// run executes the chain and fan-out. It returns the merged publisher outputs
// plus the post-chain batch the publishers saw, so the caller can sweep items
// that ended up in no output. Items the chain held back (a collector queue)
// are in neither slice and stay owned by their stage.
func (d *Dispatcher) run(input []media.Item) (merged, published []media.Item, err error) {
	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-d.ctx.Done():
		return nil, nil, fmt.Errorf("pipeline: dispatch aborted: %w", d.ctx.Err())
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: stage panic: %v", r)
		}
	}()

	// Global chain, strictly in configured order.
	batch := input
	for _, stage := range d.chain {
		batch = stage.ProcessMany(batch)
	}

	logging.Debug().
		Int("in", len(input)).
		Int("after_chain", len(batch)).
		Int("publishers", len(d.publishers)).
		Msg("fanning out batch")

	// Fan out to every publisher concurrently. Each publisher produces an
	// independent output for the same input files; duplication across
	// publishers is intentional. Outputs merge in registration order.
	outputs := make([][]media.Item, len(d.publishers))
	g, ctx := errgroup.WithContext(d.ctx)
	g.SetLimit(cap(d.sem))

	var mu sync.Mutex
	for i, pub := range d.publishers {
		g.Go(func() error {
			result := pub.UploadAndPreprocess(ctx, batch)
			mu.Lock()
			outputs[i] = result
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("pipeline: fan-out: %w", err)
	}

	merged = make([]media.Item, 0, len(batch))
	for _, out := range outputs {
		merged = append(merged, out...)
	}

	// With no publishers configured the chain output still needs an owner.
	if len(d.publishers) == 0 {
		merged = batch
	}

	return merged, batch, nil
}
