// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

// Package scratch manages temporary media files with exactly-once
// close/delete semantics.
//
// Every file a watcher downloads passes through the pipeline as a *File
// allocated here. Logical ownership of a file travels with it from stage to
// stage; whichever stage ends the file's journey closes it. The Manager only
// tracks live files so shutdown can detect and force-clean leaks.
package scratch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tomtom215/mediaflux/internal/logging"
	"github.com/tomtom215/mediaflux/internal/metrics"
)

var (
	// ErrManagerClosed is returned by Allocate after the manager shut down.
	ErrManagerClosed = errors.New("scratch: manager is closed")

	// ErrBadOptions is returned when Allocate options are inconsistent.
	ErrBadOptions = errors.New("scratch: exactly one of Ext or Name must be set")
)

// allocRetries bounds random-name collision retries before giving up.
const allocRetries = 10

// Options controls a single allocation.
type Options struct {
	// Ext is the extension for a randomly named file. Must be empty or start
	// with a single period and not end with one. Mutually exclusive with Name.
	Ext string

	// Name pins the file to a specific path, relative names resolve against
	// the manager directory. The path may already exist on disk; a downloader
	// that writes before the pipeline allocates the handle relies on that.
	Name string

	// InitialBytes are written to the file the first time it is opened.
	InitialBytes []byte

	// Keep disables delete-on-close for this file.
	Keep bool
}

// Manager allocates and tracks scratch files under a single directory.
// All methods are safe for concurrent use.
type Manager struct {
	dir string

	mu     sync.Mutex
	files  map[*File]struct{}
	closed bool
}

// NewManager creates a manager rooted at dir, creating it if needed.
func NewManager(dir string) (*Manager, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("scratch: resolve dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("scratch: create dir: %w", err)
	}
	return &Manager{
		dir:   abs,
		files: make(map[*File]struct{}),
	}, nil
}

// Dir returns the absolute scratch directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Live returns the number of allocated files not yet closed.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

// Allocate returns a tracked scratch file per opts.
func (m *Manager) Allocate(opts Options) (*File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	// Ext == "" with no Name is the "random name, no extension" case.
	if opts.Name != "" && opts.Ext != "" {
		return nil, ErrBadOptions
	}

	var path string
	if opts.Name != "" {
		path = opts.Name
		if !filepath.IsAbs(path) {
			path = filepath.Join(m.dir, path)
		}
	} else {
		if err := validateExt(opts.Ext); err != nil {
			return nil, err
		}
		var err error
		path, err = m.randomPath(opts.Ext)
		if err != nil {
			return nil, err
		}
	}

	logging.Debug().Str("path", path).Msg("allocating scratch file")

	f := &File{
		manager: m,
		path:    path,
		initial: opts.InitialBytes,
		delete:  !opts.Keep,
	}
	m.files[f] = struct{}{}
	metrics.ScratchFilesLive.Set(float64(len(m.files)))
	return f, nil
}

// randomPath picks an unused random name; callers hold m.mu.
func (m *Manager) randomPath(ext string) (string, error) {
	for range allocRetries {
		name := strings.ReplaceAll(uuid.NewString(), "-", "") + ext
		path := filepath.Join(m.dir, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, nil
		}
	}
	return "", fmt.Errorf("scratch: no free name after %d attempts", allocRetries)
}

func validateExt(ext string) error {
	if ext == "" {
		return nil
	}
	if !strings.HasPrefix(ext, ".") || strings.HasSuffix(ext, ".") || strings.Count(ext, ".") != 1 {
		return fmt.Errorf("scratch: invalid extension %q", ext)
	}
	return nil
}

// Close shuts the manager down: every still-tracked file is closed, then any
// stray file left directly inside the directory is deleted with a warning,
// since its presence means some stage leaked ownership.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.closed = true
	tracked := make([]*File, 0, len(m.files))
	for f := range m.files {
		tracked = append(tracked, f)
	}
	m.mu.Unlock()

	for _, f := range tracked {
		logging.Warn().Str("path", f.Path()).Msg("scratch file still open at shutdown, closing")
		if err := f.Close(); err != nil {
			logging.Err(err).Str("path", f.Path()).Msg("failed to close tracked scratch file")
		}
	}

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("scratch: sweep dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		stray := filepath.Join(m.dir, entry.Name())
		logging.Warn().Str("path", stray).Msg("stray scratch file was not deleted automatically, removing")
		metrics.ScratchFilesLeaked.Inc()
		if err := os.Remove(stray); err != nil {
			logging.Err(err).Str("path", stray).Msg("failed to remove stray scratch file")
		}
	}
	return nil
}

// untrack removes f from the live set. Called by File.Close.
func (m *Manager) untrack(f *File) {
	m.mu.Lock()
	delete(m.files, f)
	metrics.ScratchFilesLive.Set(float64(len(m.files)))
	m.mu.Unlock()
}
