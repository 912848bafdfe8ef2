// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

package ledger

import "testing"

func testLedger(t *testing.T, l Ledger) {
	t.Helper()

	handled, err := l.IsHandled("w1", "unknown")
	if err != nil {
		t.Fatalf("IsHandled: %v", err)
	}
	if handled {
		t.Error("unknown id reported handled")
	}

	if err := l.MarkHandled("w1", "abc123", true); err != nil {
		t.Fatalf("MarkHandled: %v", err)
	}
	handled, err = l.IsHandled("w1", "abc123")
	if err != nil {
		t.Fatalf("IsHandled: %v", err)
	}
	if !handled {
		t.Error("marked id not reported handled")
	}

	// Marking again is an idempotent upsert.
	if err := l.MarkHandled("w1", "abc123", true); err != nil {
		t.Fatalf("second MarkHandled: %v", err)
	}

	// Namespaces are isolated.
	handled, err = l.IsHandled("w2", "abc123")
	if err != nil {
		t.Fatalf("IsHandled: %v", err)
	}
	if handled {
		t.Error("id leaked across namespaces")
	}

	// Unmarking flips the record back.
	if err := l.MarkHandled("w1", "abc123", false); err != nil {
		t.Fatalf("MarkHandled(false): %v", err)
	}
	handled, err = l.IsHandled("w1", "abc123")
	if err != nil {
		t.Fatalf("IsHandled: %v", err)
	}
	if handled {
		t.Error("unmarked id still reported handled")
	}
}

func TestMemoryLedger(t *testing.T) {
	l := NewMemoryLedger()
	defer l.Close()
	testLedger(t, l)
}

func TestBadgerLedger(t *testing.T) {
	l, err := OpenBadger(t.TempDir())
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	defer l.Close()
	testLedger(t, l)
}

func TestBadgerLedgerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	l, err := OpenBadger(dir)
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	if err := l.MarkHandled("w1", "persistent", true); err != nil {
		t.Fatalf("MarkHandled: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l, err = OpenBadger(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()
	handled, err := l.IsHandled("w1", "persistent")
	if err != nil {
		t.Fatalf("IsHandled: %v", err)
	}
	if !handled {
		t.Error("record lost across reopen")
	}
}

func TestNamespace(t *testing.T) {
	l := NewMemoryLedger()
	defer l.Close()

	ns := NewNamespace(l, "watcher-a")
	if err := ns.MarkHandled("id1", true); err != nil {
		t.Fatalf("MarkHandled: %v", err)
	}
	handled, err := ns.IsHandled("id1")
	if err != nil {
		t.Fatalf("IsHandled: %v", err)
	}
	if !handled {
		t.Error("namespace lost its own record")
	}

	other := NewNamespace(l, "watcher-b")
	handled, err = other.IsHandled("id1")
	if err != nil {
		t.Fatalf("IsHandled: %v", err)
	}
	if handled {
		t.Error("record visible from another namespace")
	}
}
