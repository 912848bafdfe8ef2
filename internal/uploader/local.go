// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

package uploader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tomtom215/mediaflux/internal/config"
	"github.com/tomtom215/mediaflux/internal/logging"
	"github.com/tomtom215/mediaflux/internal/media"
	"github.com/tomtom215/mediaflux/internal/middleware"
	"github.com/tomtom215/mediaflux/internal/pipeline"
)

// LocalStorageConfig configures a local directory publish target.
type LocalStorageConfig struct {
	// Dir is the destination directory. Created at Prepare if absent.
	Dir string `koanf:"dir"`

	// RunConcurrently opts this target out of the pool's publish lock.
	RunConcurrently bool `koanf:"run_concurrently"`
}

// LocalStorage publishes media by copying each file into a destination
// directory. Name collisions get a numeric suffix rather than overwriting.
type LocalStorage struct {
	Base
	dir string
}

// NewLocalStorage builds the local storage uploader from a config bag.
func NewLocalStorage(name string, preprocessors []middleware.Middleware, cfg map[string]any) (Uploader, error) {
	var c LocalStorageConfig
	if err := config.DecodeBag(cfg, &c); err != nil {
		return nil, fmt.Errorf("uploader %s: %w", name, err)
	}
	if c.Dir == "" {
		return nil, fmt.Errorf("uploader %s: dir is required", name)
	}
	return &LocalStorage{
		Base: NewBase(name, preprocessors, c.RunConcurrently),
		dir:  c.Dir,
	}, nil
}

// Prepare ensures the destination directory exists.
func (l *LocalStorage) Prepare(env *pipeline.Env) error {
	if err := l.Base.Prepare(env); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("uploader %s: create dir: %w", l.Name(), err)
	}
	return nil
}

// Upload copies each item's file into the destination directory and reports
// the destination path as the published media identifier.
func (l *LocalStorage) Upload(ctx context.Context, items []media.Item) ([]media.Item, error) {
	out := make([]media.Item, 0, len(items))
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dest, err := l.copyOne(it)
		if err != nil {
			return nil, err
		}
		logging.Debug().
			Str("uploader", l.Name()).
			Str("media", it.Meta.String()).
			Str("dest", dest).
			Msg("stored media locally")
		out = append(out, media.Item{
			File: it.File,
			Meta: &media.Metadata{
				ID:       dest,
				Platform: media.PlatformOther,
				Title:    it.Meta.Title,
				Type:     it.Meta.Type,
			},
		})
	}
	return out, nil
}

func (l *LocalStorage) copyOne(it media.Item) (string, error) {
	src, err := it.File.NewReader()
	if err != nil {
		return "", fmt.Errorf("uploader %s: open source: %w", l.Name(), err)
	}
	defer src.Close()

	dest := l.destPath(filepath.Base(it.File.Path()))
	dst, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("uploader %s: create %s: %w", l.Name(), dest, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("uploader %s: copy to %s: %w", l.Name(), dest, err)
	}
	return dest, nil
}

// destPath returns a non-colliding destination path for a file name by
// appending _1, _2, ... before the extension until the name is free.
func (l *LocalStorage) destPath(name string) string {
	dest := filepath.Join(l.dir, name)
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		return dest
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		dest = filepath.Join(l.dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			return dest
		}
	}
}
