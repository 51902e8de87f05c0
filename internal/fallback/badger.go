// AuditRelay - Resilient Audit Event Shipping
// Copyright 2026 AuditRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/auditrelay/auditrelay

package fallback

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/auditrelay/auditrelay/internal/logging"
)

// Key prefix for record entries. Keys embed a zero-padded sequence number
// so lexicographic key order equals insertion order.
const prefixRecord = "rec:"

const sequenceKey = "seq:fallback"

// Config holds Badger fallback store configuration.
type Config struct {
	// Path is the on-disk directory for the BadgerDB database.
	Path string

	// Cap is the maximum number of retained entries. Default: DefaultCap.
	Cap int

	// SyncWrites forces fsync on every write. Slower, but an entry that
	// Append returned for survives a crash.
	SyncWrites bool
}

// Badger is the durable Store implementation backed by BadgerDB.
type Badger struct {
	db  *badger.DB
	seq *badger.Sequence
	cap int

	mu     sync.RWMutex
	closed bool
}

// Open creates or opens a Badger-backed fallback store at cfg.Path.
func Open(cfg Config) (*Badger, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("fallback: path is required")
	}
	if cfg.Cap <= 0 {
		cfg.Cap = DefaultCap
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), 64)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open fallback sequence: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("cap", cfg.Cap).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Fallback store opened")

	return &Badger{db: db, seq: seq, cap: cfg.Cap}, nil
}

// OpenOrNoop opens a Badger store, degrading to the Noop store when the
// local medium is unavailable. Fallback storage is best-effort; an
// unusable disk must not fail process startup.
func OpenOrNoop(cfg Config) Store {
	store, err := Open(cfg)
	if err != nil {
		logging.Warn().Err(err).Str("path", cfg.Path).Msg("Fallback medium unavailable, degrading to no-op")
		return Noop{}
	}
	return store
}

// Append implements Store.
func (b *Badger) Append(ctx context.Context, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	b.mu.RUnlock()

	n, err := b.seq.Next()
	if err != nil {
		recordAppendFailure()
		return fmt.Errorf("next fallback sequence: %w", err)
	}

	key := []byte(fmt.Sprintf("%s%020d", prefixRecord, n))
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, payload)
	})
	if err != nil {
		recordAppendFailure()
		return fmt.Errorf("write fallback entry: %w", err)
	}
	recordAppend()

	return b.evict(ctx)
}

// evict removes the oldest entries until at most cap remain.
func (b *Badger) evict(ctx context.Context) error {
	return b.db.Update(func(txn *badger.Txn) error {
		keys, err := b.collectKeys(ctx, txn)
		if err != nil {
			return err
		}

		excess := len(keys) - b.cap
		for i := 0; i < excess; i++ {
			if err := txn.Delete(keys[i]); err != nil {
				return fmt.Errorf("evict fallback entry: %w", err)
			}
			recordEvictions(1)
		}
		return nil
	})
}

func (b *Badger) collectKeys(ctx context.Context, txn *badger.Txn) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	prefix := []byte(prefixRecord)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}

// ReadAll implements Store. Entries are returned in insertion order.
func (b *Badger) ReadAll(ctx context.Context) ([][]byte, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrClosed
	}
	b.mu.RUnlock()

	var entries [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixRecord)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read fallback entry: %w", err)
			}
			entries = append(entries, val)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate fallback entries: %w", err)
	}

	return entries, nil
}

// Clear implements Store.
func (b *Badger) Clear(ctx context.Context) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	b.mu.RUnlock()

	return b.db.Update(func(txn *badger.Txn) error {
		keys, err := b.collectKeys(ctx, txn)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("delete fallback entry: %w", err)
			}
		}
		return nil
	})
}

// Close implements Store.
func (b *Badger) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	// Release unused sequence numbers before closing the database.
	if err := b.seq.Release(); err != nil {
		logging.Warn().Err(err).Msg("Failed to release fallback sequence")
	}

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Msg("Fallback store closed")
	return nil
}
