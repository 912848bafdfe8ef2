// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

package middleware

import (
	"fmt"
	"sync"
	"testing"

	"github.com/tomtom215/mediaflux/internal/media"
)

func newCollector(t *testing.T, count int) *Collector {
	t.Helper()
	m, err := NewCollector("c", map[string]any{"count": count})
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	return m.(*Collector)
}

func TestCollectorDrainsUpToCountPerCall(t *testing.T) {
	env := newTestEnv(t)
	c := newCollector(t, 3)
	if err := c.Prepare(env); err != nil {
		t.Fatal(err)
	}

	// Two single-item batches: nothing is enough to release a full batch,
	// but the collector still returns the oldest queued items up to count,
	// so each call drains what it has.
	out := c.ProcessMany([]media.Item{newTestItem(t, env, &media.Metadata{ID: "1"})})
	if len(out) != 1 {
		t.Fatalf("got %d items, want 1", len(out))
	}
	if c.Len() != 0 {
		t.Errorf("queue depth = %d, want 0", c.Len())
	}
	media.CloseAll(out)
}

func TestCollectorReleasesAtMostCount(t *testing.T) {
	env := newTestEnv(t)
	c := newCollector(t, 2)
	if err := c.Prepare(env); err != nil {
		t.Fatal(err)
	}

	batch := make([]media.Item, 0, 2)
	for i := range 2 {
		batch = append(batch, newTestItem(t, env, &media.Metadata{ID: fmt.Sprint(i)}))
	}
	out := c.ProcessMany(batch)
	if len(out) != 2 {
		t.Fatalf("got %d items, want 2", len(out))
	}
	media.CloseAll(out)
}

func TestCollectorSplitsOversizedBatch(t *testing.T) {
	env := newTestEnv(t)
	c := newCollector(t, 2)
	if err := c.Prepare(env); err != nil {
		t.Fatal(err)
	}

	// Five items against count=2: two come back inline, the remaining three
	// flush out of band as a batch of two plus a final partial batch of one.
	batch := make([]media.Item, 0, 5)
	for i := range 5 {
		batch = append(batch, newTestItem(t, env, &media.Metadata{ID: fmt.Sprint(i)}))
	}
	out := c.ProcessMany(batch)
	if len(out) != 2 {
		t.Fatalf("got %d items inline, want 2", len(out))
	}
	if out[0].Meta.ID != "0" || out[1].Meta.ID != "1" {
		t.Errorf("inline items out of order: %s, %s", out[0].Meta.ID, out[1].Meta.ID)
	}

	// Close joins the in-flight flushes; afterwards every flushed file has
	// been closed by the dispatcher.
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, it := range batch[2:] {
		if !it.File.Closed() {
			t.Errorf("flushed item %s not closed", it.Meta.ID)
		}
	}
	media.CloseAll(out)
}

func TestCollectorOrphansBypassQueue(t *testing.T) {
	env := newTestEnv(t)
	c := newCollector(t, 5)
	if err := c.Prepare(env); err != nil {
		t.Fatal(err)
	}

	orphan := newTestItem(t, env, nil)
	real := newTestItem(t, env, &media.Metadata{ID: "1"})
	out := c.ProcessMany([]media.Item{orphan, real})

	var orphans int
	for _, it := range out {
		if it.Orphan() {
			orphans++
		}
	}
	if orphans != 1 {
		t.Errorf("orphan did not pass through, out=%d orphans=%d", len(out), orphans)
	}
	media.CloseAll(out)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !real.File.Closed() {
		t.Error("queued item not closed by the time Close returned")
	}
}

func TestCollectorCloseFlushesQueue(t *testing.T) {
	env := newTestEnv(t)
	c := newCollector(t, 10)
	if err := c.Prepare(env); err != nil {
		t.Fatal(err)
	}

	a := newTestItem(t, env, &media.Metadata{ID: "a"})
	out := c.ProcessMany([]media.Item{a})
	media.CloseAll(out)

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("queue depth = %d after Close, want 0", c.Len())
	}
}

func TestCollectorConcurrentProcessMany(t *testing.T) {
	env := newTestEnv(t)
	c := newCollector(t, 4)
	if err := c.Prepare(env); err != nil {
		t.Fatal(err)
	}

	// Allocate up front; t.Fatal is not safe inside the worker goroutines.
	batches := make([][]media.Item, 4)
	for g := range 4 {
		for i := range 8 {
			it := newTestItem(t, env, &media.Metadata{ID: fmt.Sprintf("g%d-%d", g, i)})
			batches[g] = append(batches[g], it)
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var collected []media.Item
	for g := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, it := range batches[g] {
				out := c.ProcessMany([]media.Item{it})
				mu.Lock()
				collected = append(collected, out...)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	media.CloseAll(collected)
	if got := env.Scratch.Live(); got != 0 {
		t.Errorf("Live() = %d after close, want 0", got)
	}
}
