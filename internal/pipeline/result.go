// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

package pipeline

import (
	"context"
	"sync"

	"github.com/tomtom215/mediaflux/internal/media"
)

// Result is the completion future of one dispatched batch. It resolves
// exactly once, either with the merged uploader outputs or with an error,
// after scratch cleanup for the batch has already run.
type Result struct {
	done chan struct{}

	once  sync.Once
	items []media.Item
	err   error
}

// NewResult returns an unresolved result.
func NewResult() *Result {
	return &Result{done: make(chan struct{})}
}

// Done returns a channel closed when the result resolves.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the result resolves or ctx is canceled.
func (r *Result) Wait(ctx context.Context) ([]media.Item, error) {
	select {
	case <-r.done:
		return r.items, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Items returns the merged outputs. Only valid after Done.
func (r *Result) Items() []media.Item {
	return r.items
}

// Err returns the failure, if any. Only valid after Done.
func (r *Result) Err() error {
	return r.err
}

// complete resolves the result. Later calls are no-ops.
func (r *Result) complete(items []media.Item, err error) {
	r.once.Do(func() {
		r.items = items
		r.err = err
		close(r.done)
	})
}
