// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

package scratch

import (
	"fmt"
	"os"
	"sync"

	"github.com/tomtom215/mediaflux/internal/logging"
)

// File is an exclusively owned temporary file. The handle is opened lazily;
// Close releases the handle, stops tracking, and unlinks the path unless the
// file was marked kept. Close is safe to call more than once but only the
// first call does work; a second close logs a warning and never re-unlinks.
type File struct {
	manager *Manager
	path    string
	initial []byte

	mu     sync.Mutex
	f      *os.File
	delete bool
	closed bool
}

// Path returns the absolute path of the file.
func (f *File) Path() string {
	return f.path
}

// Exists reports whether the path currently exists on disk.
func (f *File) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Closed reports whether Close has already run.
func (f *File) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Keep disables delete-on-close, leaving the file on disk after Close.
func (f *File) Keep() {
	f.mu.Lock()
	f.delete = false
	f.mu.Unlock()
}

// Open returns the underlying handle, opening it on first use. Initial bytes
// supplied at allocation are written once, with the handle rewound to the
// start afterwards.
func (f *File) Open() (*os.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openLocked()
}

// NewReader returns an independent read-only handle positioned at the start.
// Publishers running concurrently each need their own offset; sharing the
// Open handle across goroutines would interleave reads. The caller owns the
// returned handle and must close it.
func (f *File) NewReader() (*os.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, fmt.Errorf("scratch: %s is closed", f.path)
	}
	// Initial bytes are written lazily through the shared handle; make sure
	// they are on disk before handing out a reader.
	if len(f.initial) > 0 {
		if _, err := f.openLocked(); err != nil {
			return nil, err
		}
	}
	r, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("scratch: open reader %s: %w", f.path, err)
	}
	return r, nil
}

func (f *File) openLocked() (*os.File, error) {
	if f.closed {
		return nil, fmt.Errorf("scratch: %s is closed", f.path)
	}
	if f.f != nil {
		return f.f, nil
	}

	handle, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("scratch: open %s: %w", f.path, err)
	}
	if len(f.initial) > 0 {
		if _, err := handle.Write(f.initial); err != nil {
			handle.Close()
			return nil, fmt.Errorf("scratch: write initial bytes to %s: %w", f.path, err)
		}
		if _, err := handle.Seek(0, 0); err != nil {
			handle.Close()
			return nil, fmt.Errorf("scratch: rewind %s: %w", f.path, err)
		}
		f.initial = nil
	}
	f.f = handle
	return f.f, nil
}

// Close ends the file's lifecycle: the handle is released, the manager stops
// tracking the file, and the path is unlinked when delete-on-close is set.
func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		logging.Warn().Str("path", f.path).Msg("scratch file closed twice")
		return nil
	}
	f.closed = true
	handle := f.f
	f.f = nil
	del := f.delete
	f.mu.Unlock()

	f.manager.untrack(f)

	var closeErr error
	if handle != nil {
		closeErr = handle.Close()
	}
	if del {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("scratch: unlink %s: %w", f.path, err)
		}
	}
	if closeErr != nil {
		return fmt.Errorf("scratch: close %s: %w", f.path, closeErr)
	}
	return nil
}

// String implements fmt.Stringer.
func (f *File) String() string {
	return f.path
}
