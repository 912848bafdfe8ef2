// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tomtom215/mediaflux/internal/media"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLocalWatcherRequiresDir(t *testing.T) {
	if _, err := NewLocal("l", nil, nil); err == nil {
		t.Error("missing dir should fail")
	}
}

func TestLocalWatcherIgnoresPreExistingFiles(t *testing.T) {
	env, _ := newWatcherEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, "old.txt", "existing")

	w, err := NewLocal("l", nil, map[string]any{"dir": dir, "interval": "1m"})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Prepare(env); err != nil {
		t.Fatal(err)
	}
	l := w.(*Local)

	items, err := l.CheckForUploads(context.Background())
	if err != nil {
		t.Fatalf("CheckForUploads: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("pre-existing file reported as new: %d items", len(items))
	}
}

func TestLocalWatcherPicksUpNewFiles(t *testing.T) {
	env, _ := newWatcherEnv(t)
	dir := t.TempDir()

	w, err := NewLocal("l", nil, map[string]any{"dir": dir, "interval": "1m"})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Prepare(env); err != nil {
		t.Fatal(err)
	}
	l := w.(*Local)

	src := writeFile(t, dir, filepath.Join("sub", "clip.txt"), "new media")

	items, err := l.CheckForUploads(context.Background())
	if err != nil {
		t.Fatalf("CheckForUploads: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}

	it := items[0]
	if it.Meta.ID != filepath.Join("sub", "clip.txt") {
		t.Errorf("ID = %q", it.Meta.ID)
	}
	if it.Meta.Title != "clip" {
		t.Errorf("Title = %q", it.Meta.Title)
	}

	// The scratch copy carries the content; the source stays in place.
	h, err := it.File.Open()
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 9)
	if _, err := h.Read(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "new media" {
		t.Errorf("scratch content = %q", buf)
	}
	if _, err := os.Stat(src); err != nil {
		t.Error("source file was removed")
	}
	media.CloseAll(items)

	// Once marked handled the next scan skips it.
	l.MarkHandled(it.Meta.ID)
	again, err := l.CheckForUploads(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("handled file rediscovered: %d items", len(again))
	}
}

func TestLocalWatcherCopyFlagProcessesBacklog(t *testing.T) {
	env, rec := newWatcherEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, "old.txt", "backlog")

	w, err := NewLocal("l", nil, map[string]any{"dir": dir, "interval": "1m", "copy": true})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Prepare(env); err != nil {
		t.Fatal(err)
	}
	l := w.(*Local)

	l.cycle(context.Background())
	if rec.count() != 1 {
		t.Fatalf("backlog cycle dispatched %d batches, want 1", rec.count())
	}
	if len(rec.batches[0]) != 1 {
		t.Errorf("backlog batch has %d items", len(rec.batches[0]))
	}

	// The flag is one-shot: after the first successful cycle the same file
	// is not rediscovered.
	l.cycle(context.Background())
	if rec.count() != 1 {
		t.Errorf("backlog file dispatched twice")
	}
}

func TestLocalWatcherNonRecursive(t *testing.T) {
	env, _ := newWatcherEnv(t)
	dir := t.TempDir()

	w, err := NewLocal("l", nil, map[string]any{
		"dir":       dir,
		"interval":  "1m",
		"recursive": false,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Prepare(env); err != nil {
		t.Fatal(err)
	}
	l := w.(*Local)

	writeFile(t, dir, "top.txt", "seen")
	writeFile(t, dir, filepath.Join("nested", "deep.txt"), "unseen")

	items, err := l.CheckForUploads(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].Meta.ID != "top.txt" {
		t.Errorf("ID = %q", items[0].Meta.ID)
	}
	media.CloseAll(items)
}
