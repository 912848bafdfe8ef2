// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

package media

import "github.com/tomtom215/mediaflux/internal/scratch"

// Item is the unit that travels through the pipeline: a scratch file paired
// with its metadata. Meta may be nil, meaning an upstream stage filtered out
// the post but the file is still live; such orphaned items must be passed
// through untouched by any stage that does not own the closing
// responsibility.
type Item struct {
	File *scratch.File
	Meta *Metadata
}

// Orphan reports whether the item lost its metadata upstream.
func (it Item) Orphan() bool {
	return it.Meta == nil
}

// CloseAll closes every file in items, ignoring double-close.
func CloseAll(items []Item) {
	for _, it := range items {
		if it.File != nil && !it.File.Closed() {
			_ = it.File.Close()
		}
	}
}

// Split partitions items into metadata-bearing and orphaned, preserving
// order within each partition.
func Split(items []Item) (valid, orphans []Item) {
	for _, it := range items {
		if it.Orphan() {
			orphans = append(orphans, it)
		} else {
			valid = append(valid, it)
		}
	}
	return valid, orphans
}
