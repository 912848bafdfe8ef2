// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

// Package ledger records which source item IDs have already been processed.
//
// Watchers consult the ledger before re-downloading content and mark items
// handled once a batch has been handed to the dispatcher. Records are keyed
// by (watcher namespace, id) and updates are idempotent upserts.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Ledger is the durable exists-and-mark service backing dedup decisions.
type Ledger interface {
	// IsHandled reports whether id was marked handled in the namespace.
	// Unknown ids report false.
	IsHandled(namespace, id string) (bool, error)

	// MarkHandled records the handled flag for id. Marking an already marked
	// id is a no-op with the same outcome.
	MarkHandled(namespace, id string, handled bool) error

	// Close releases the backing store.
	Close() error
}

// Namespace binds a ledger to a single watcher's namespace.
type Namespace struct {
	ledger Ledger
	name   string
}

// NewNamespace returns a namespaced view of l.
func NewNamespace(l Ledger, name string) *Namespace {
	return &Namespace{ledger: l, name: name}
}

// IsHandled reports whether id was already processed.
func (n *Namespace) IsHandled(id string) (bool, error) {
	return n.ledger.IsHandled(n.name, id)
}

// MarkHandled records id as processed.
func (n *Namespace) MarkHandled(id string, handled bool) error {
	return n.ledger.MarkHandled(n.name, id, handled)
}

const handledKeyPrefix = "handled:"

func handledKey(namespace, id string) []byte {
	return []byte(handledKeyPrefix + namespace + ":" + id)
}

// BadgerLedger implements Ledger on BadgerDB for persistence across runs.
type BadgerLedger struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a badger-backed ledger at dir.
func OpenBadger(dir string) (*BadgerLedger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: open badger at %s: %w", dir, err)
	}
	return &BadgerLedger{db: db}, nil
}

// NewBadgerLedger wraps an already opened badger DB.
func NewBadgerLedger(db *badger.DB) *BadgerLedger {
	return &BadgerLedger{db: db}
}

// IsHandled implements Ledger.
func (l *BadgerLedger) IsHandled(namespace, id string) (bool, error) {
	var handled bool
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(handledKey(namespace, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			handled = len(val) == 1 && val[0] == 1
			return nil
		})
	})
	if err != nil {
		return false, fmt.Errorf("ledger: get %s/%s: %w", namespace, id, err)
	}
	return handled, nil
}

// MarkHandled implements Ledger.
func (l *BadgerLedger) MarkHandled(namespace, id string, handled bool) error {
	val := []byte{0}
	if handled {
		val[0] = 1
	}
	err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(handledKey(namespace, id), val)
	})
	if err != nil {
		return fmt.Errorf("ledger: set %s/%s: %w", namespace, id, err)
	}
	return nil
}

// Close implements Ledger.
func (l *BadgerLedger) Close() error {
	return l.db.Close()
}

// MemoryLedger is an in-process Ledger for tests and ephemeral runs.
type MemoryLedger struct {
	mu      sync.RWMutex
	handled map[string]bool
}

// NewMemoryLedger returns an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{handled: make(map[string]bool)}
}

// IsHandled implements Ledger.
func (l *MemoryLedger) IsHandled(namespace, id string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.handled[namespace+":"+id], nil
}

// MarkHandled implements Ledger.
func (l *MemoryLedger) MarkHandled(namespace, id string, handled bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handled[namespace+":"+id] = handled
	return nil
}

// Close implements Ledger.
func (l *MemoryLedger) Close() error {
	return nil
}
