// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

package watcher

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tomtom215/mediaflux/internal/config"
	"github.com/tomtom215/mediaflux/internal/logging"
	"github.com/tomtom215/mediaflux/internal/media"
	"github.com/tomtom215/mediaflux/internal/metrics"
	"github.com/tomtom215/mediaflux/internal/middleware"
	"github.com/tomtom215/mediaflux/internal/pipeline"
	"github.com/tomtom215/mediaflux/internal/scratch"
)

// LocalConfig configures a directory-scanning watcher.
type LocalConfig struct {
	PollerConfig `koanf:",squash"`

	// Dir is the directory to scan for media files.
	Dir string `koanf:"dir"`

	// Recursive descends into subdirectories. Defaults to true.
	Recursive *bool `koanf:"recursive"`
}

// Local watches a directory and feeds new files into the pipeline. Files are
// copied into scratch storage and left in place; their path relative to the
// watched directory is the dedup identity. Without the copy flag, content
// present at prepare time is marked handled so only later arrivals count.
type Local struct {
	Poller
	dir       string
	recursive bool
}

// NewLocal builds the directory watcher from a config bag.
func NewLocal(name string, preprocessors []middleware.Middleware, cfg map[string]any) (Watcher, error) {
	var c LocalConfig
	if err := config.DecodeBag(cfg, &c); err != nil {
		return nil, fmt.Errorf("watcher %s: %w", name, err)
	}
	if c.Dir == "" {
		return nil, fmt.Errorf("watcher %s: dir is required", name)
	}
	recursive := c.Recursive == nil || *c.Recursive

	l := &Local{dir: c.Dir, recursive: recursive}
	l.Poller = NewPoller(NewBase(name, preprocessors, c.Copy), l, c.PollerConfig)
	return l, nil
}

// Prepare wires the environment and, unless backlog processing was requested,
// marks everything already present as handled.
func (l *Local) Prepare(env *pipeline.Env) error {
	if err := l.Base.Prepare(env); err != nil {
		return err
	}
	if _, err := os.Stat(l.dir); err != nil {
		return fmt.Errorf("watcher %s: stat dir: %w", l.Name(), err)
	}
	if l.Backlog() {
		return nil
	}
	return l.walk(func(path, rel string) error {
		l.MarkHandled(rel)
		return nil
	})
}

// CheckForUploads scans the directory and returns scratch copies of files not
// yet seen.
func (l *Local) CheckForUploads(ctx context.Context) ([]media.Item, error) {
	var items []media.Item
	err := l.walk(func(path, rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.Handled(rel) {
			metrics.WatcherItemsSkipped.WithLabelValues(l.Name()).Inc()
			return nil
		}
		it, err := l.load(path, rel)
		if err != nil {
			// One unreadable file should not starve the rest of the scan.
			logging.Err(err).Str("watcher", l.Name()).Str("path", path).Msg("skipping unreadable file")
			return nil
		}
		items = append(items, it)
		return nil
	})
	if err != nil {
		media.CloseAll(items)
		return nil, err
	}
	return items, nil
}

// load copies a source file into scratch storage and builds its metadata.
func (l *Local) load(path, rel string) (media.Item, error) {
	src, err := os.Open(path)
	if err != nil {
		return media.Item{}, err
	}
	defer src.Close()

	env := l.Env()
	sf, err := env.Scratch.Allocate(scratch.Options{Ext: filepath.Ext(path)})
	if err != nil {
		return media.Item{}, err
	}
	dst, err := sf.Open()
	if err != nil {
		_ = sf.Close()
		return media.Item{}, err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = sf.Close()
		return media.Item{}, fmt.Errorf("copy %s: %w", path, err)
	}

	name := filepath.Base(path)
	return media.Item{
		File: sf,
		Meta: &media.Metadata{
			ID:       rel,
			Platform: media.PlatformOther,
			Title:    strings.TrimSuffix(name, filepath.Ext(name)),
			Type:     media.TypeFromFile(path),
		},
	}, nil
}

// walk visits every regular file under the watched directory, skipping
// subdirectories in non-recursive mode.
func (l *Local) walk(visit func(path, rel string) error) error {
	return filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !l.recursive && path != l.dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(l.dir, path)
		if err != nil {
			return err
		}
		return visit(path, rel)
	})
}
