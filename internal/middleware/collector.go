// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

package middleware

import (
	"fmt"
	"sync"

	"github.com/tomtom215/mediaflux/internal/config"
	"github.com/tomtom215/mediaflux/internal/logging"
	"github.com/tomtom215/mediaflux/internal/media"
	"github.com/tomtom215/mediaflux/internal/metrics"
)

// CollectorConfig configures a Collector stage.
type CollectorConfig struct {
	// Count is the batch size released per call. A source post carrying more
	// than Count attachments is split across multiple dispatches.
	Count int `koanf:"count"`
}

// Collector holds metadata-bearing items back until enough have accumulated,
// then releases them in Count-sized batches. Items that exceed what one call
// may return are flushed out of band through the dispatch callback so a
// single oversized source post never bleeds into an unrelated later post.
type Collector struct {
	Base
	count int

	// mu serializes all queue mutation and drain decisions; dispatch of
	// flushed sub-batches happens outside it.
	mu    sync.Mutex
	queue []media.Item

	// inflight joins out-of-band flush dispatches at Close.
	inflight sync.WaitGroup
}

// NewCollector is the registry factory for "collector".
func NewCollector(name string, cfg map[string]any) (Middleware, error) {
	var c CollectorConfig
	if err := config.DecodeBag(cfg, &c); err != nil {
		return nil, fmt.Errorf("collector %s: %w", name, err)
	}
	if c.Count <= 0 {
		c.Count = 1
	}
	return &Collector{Base: NewBase(name), count: c.Count}, nil
}

// ProcessOne passes items through; collection decisions are batch-level.
func (c *Collector) ProcessOne(item media.Item) (media.Item, bool) {
	return item, true
}

// ProcessMany enqueues every metadata-bearing item, then returns up to Count
// of the oldest queued items alongside the untouched orphans. If the caller
// delivered a batch of at least Count items and the queue still holds more,
// the remainder is flushed immediately via the dispatch callback, each
// sub-batch tracked independently for join at Close.
func (c *Collector) ProcessMany(items []media.Item) []media.Item {
	c.mu.Lock()

	out := make([]media.Item, 0, len(items))
	for _, it := range items {
		if it.Orphan() {
			// Never enqueued; closed by whoever owns it downstream.
			out = append(out, it)
			continue
		}
		logging.Debug().Str("middleware", c.Name()).Stringer("media", it.Meta).Msg("collecting media")
		c.queue = append(c.queue, it)
	}

	for len(out) < c.count && len(c.queue) > 0 {
		out = append(out, c.queue[0])
		c.queue = c.queue[1:]
	}

	var chunks [][]media.Item
	if len(c.queue) > 0 && len(items) >= c.count {
		chunks = c.drainLocked()
	}

	metrics.CollectorQueueDepth.WithLabelValues(c.Name()).Set(float64(len(c.queue)))
	c.mu.Unlock()

	c.dispatchChunks(chunks)
	return out
}

// drainLocked empties the queue into Count-sized (or smaller final) chunks.
// Callers hold c.mu.
func (c *Collector) drainLocked() [][]media.Item {
	var chunks [][]media.Item
	for len(c.queue) > 0 {
		n := min(c.count, len(c.queue))
		chunk := make([]media.Item, n)
		copy(chunk, c.queue[:n])
		c.queue = c.queue[n:]
		chunks = append(chunks, chunk)
	}
	return chunks
}

// dispatchChunks fires each chunk at the dispatch callback and tracks its
// completion for join purposes.
func (c *Collector) dispatchChunks(chunks [][]media.Item) {
	if len(chunks) == 0 {
		return
	}
	env := c.Env()
	if env == nil || env.Dispatch == nil {
		// Without a callback the items would leak; close them loudly.
		logging.Error().Str("middleware", c.Name()).Msg("collector has no dispatch callback, dropping flush")
		for _, chunk := range chunks {
			media.CloseAll(chunk)
		}
		return
	}

	for _, chunk := range chunks {
		logging.Info().
			Str("middleware", c.Name()).
			Int("items", len(chunk)).
			Msg("flushing collected media out of band")

		c.inflight.Add(1)
		res := env.Dispatch(chunk)
		go func() {
			defer c.inflight.Done()
			<-res.Done()
			if err := res.Err(); err != nil {
				logging.Err(err).Str("middleware", c.Name()).Msg("out-of-band flush failed")
			}
		}()
	}
}

// Flush drains the entire queue through the dispatch callback.
func (c *Collector) Flush() {
	c.mu.Lock()
	chunks := c.drainLocked()
	metrics.CollectorQueueDepth.WithLabelValues(c.Name()).Set(0)
	c.mu.Unlock()
	c.dispatchChunks(chunks)
}

// Close flushes the queue and waits for every dispatched sub-batch to
// acknowledge completion, so no queued file is abandoned at shutdown.
func (c *Collector) Close() error {
	c.Flush()
	c.inflight.Wait()
	return nil
}

// Len reports the current queue depth.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
