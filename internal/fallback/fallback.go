// AuditRelay - Resilient Audit Event Shipping
// Copyright 2026 AuditRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/auditrelay/auditrelay

// Package fallback implements the local last-resort durability net for
// audit records that could not be shipped to the remote store.
//
// The store is size-capped with FIFO eviction and holds serialized records
// as raw JSON bytes, keeping it agnostic to the record schema. Entries are
// never re-shipped automatically; re-ingestion is an operational task
// outside this package.
package fallback

import (
	"context"
	"errors"
	"sync"
)

// DefaultCap is the default maximum number of retained entries.
const DefaultCap = 50

// ErrClosed is returned when the store has been closed.
var ErrClosed = errors.New("fallback store is closed")

// Store is a bounded local side-channel for serialized audit records.
// Appending beyond the cap evicts the oldest entries.
type Store interface {
	// Append adds one serialized record, evicting the oldest entries if
	// the cap is exceeded.
	Append(ctx context.Context, payload []byte) error

	// ReadAll returns every retained entry in insertion order.
	ReadAll(ctx context.Context) ([][]byte, error)

	// Clear removes all retained entries.
	Clear(ctx context.Context) error

	// Close releases the underlying medium.
	Close() error
}

// Noop is the degraded-mode store used when no local persistent medium is
// available. Every operation succeeds and retains nothing; losing fallback
// data under already-degraded conditions is acceptable by design of the
// write path.
type Noop struct{}

// Append implements Store.
func (Noop) Append(context.Context, []byte) error { return nil }

// ReadAll implements Store.
func (Noop) ReadAll(context.Context) ([][]byte, error) { return nil, nil }

// Clear implements Store.
func (Noop) Clear(context.Context) error { return nil }

// Close implements Store.
func (Noop) Close() error { return nil }

// Memory is an in-process Store for tests and single-run tools.
type Memory struct {
	mu      sync.Mutex
	entries [][]byte
	cap     int
}

// NewMemory creates an in-memory store with the given cap.
// A cap of zero or less means DefaultCap.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Memory{cap: capacity}
}

// Append implements Store.
func (m *Memory) Append(_ context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, len(payload))
	copy(buf, payload)
	m.entries = append(m.entries, buf)

	if excess := len(m.entries) - m.cap; excess > 0 {
		m.entries = m.entries[excess:]
		recordEvictions(excess)
	}
	recordAppend()
	return nil
}

// ReadAll implements Store.
func (m *Memory) ReadAll(_ context.Context) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]byte, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

// Clear implements Store.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	return nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
