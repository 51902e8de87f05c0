// AuditRelay - Resilient Audit Event Shipping
// Copyright 2026 AuditRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/auditrelay/auditrelay

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store using in-memory storage.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	maxLen  int
}

// NewMemoryStore creates an in-memory record store.
func NewMemoryStore(maxLen int) *MemoryStore {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &MemoryStore{
		records: make([]Record, 0, maxLen),
		maxLen:  maxLen,
	}
}

// InsertBatch implements Store. The batch lands atomically and every record
// gets a store-assigned ID.
func (s *MemoryStore) InsertBatch(ctx context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Enforce max length by removing oldest records
	if overflow := len(s.records) + len(records) - s.maxLen; overflow > 0 {
		if overflow > len(s.records) {
			overflow = len(s.records)
		}
		s.records = s.records[overflow:]
	}

	for _, rec := range records {
		rec.ID = uuid.NewString()
		s.records = append(s.records, rec)
	}
	return nil
}

// Query implements Store. Records are returned most recent first.
func (s *MemoryStore) Query(ctx context.Context, filter Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	var results []Record
	for i := len(s.records) - 1; i >= 0; i-- { // reverse for recent-first
		rec := s.records[i]
		if !matchesFilter(&rec, &filter) {
			continue
		}
		results = append(results, rec)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// matchesFilter returns true if the record matches all present criteria.
func matchesFilter(rec *Record, filter *Filter) bool {
	if filter.ActorID != "" && rec.ActorID != filter.ActorID {
		return false
	}
	if filter.Action != "" && rec.Action != filter.Action {
		return false
	}
	if filter.ResourceType != "" && rec.ResourceType != filter.ResourceType {
		return false
	}
	if filter.Severity != "" && rec.Severity != filter.Severity {
		return false
	}
	if filter.DateFrom != nil && rec.Timestamp.Before(*filter.DateFrom) {
		return false
	}
	if filter.DateTo != nil && rec.Timestamp.After(*filter.DateTo) {
		return false
	}
	return true
}

// DeleteOlderThan implements Store.
func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var deleted int64
	for _, rec := range s.records {
		if rec.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return deleted, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
