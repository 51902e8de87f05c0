// AuditRelay - Resilient Audit Event Shipping
// Copyright 2026 AuditRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/auditrelay/auditrelay

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/auditrelay/auditrelay/internal/fallback"
	"github.com/auditrelay/auditrelay/internal/logging"
)

// ShipperConfig holds the shipping pipeline bounds.
type ShipperConfig struct {
	// MaxQueue is the hard cap on the in-memory queue. A flush failure
	// with more queued records than this clears the whole queue.
	// Default: 100
	MaxQueue int

	// MaxRetries is the number of consecutive flush failures tolerated
	// before the queue is cleared. Default: 3
	MaxRetries int

	// RetryBackoff is the base retry delay; the scheduled delay is
	// RetryBackoff multiplied by the current retry count. Default: 5s
	RetryBackoff time.Duration

	// FlushTimeout bounds one batch insert against the remote store.
	// Default: 10s
	FlushTimeout time.Duration

	// Schedule defers a function by a delay. Injected for tests;
	// nil means time.AfterFunc.
	Schedule func(time.Duration, func())
}

// DefaultShipperConfig returns the production bounds.
func DefaultShipperConfig() ShipperConfig {
	return ShipperConfig{
		MaxQueue:     100,
		MaxRetries:   3,
		RetryBackoff: 5 * time.Second,
		FlushTimeout: 10 * time.Second,
	}
}

func (c *ShipperConfig) applyDefaults() {
	def := DefaultShipperConfig()
	if c.MaxQueue <= 0 {
		c.MaxQueue = def.MaxQueue
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = def.RetryBackoff
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = def.FlushTimeout
	}
	if c.Schedule == nil {
		c.Schedule = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
}

// Shipper owns the in-memory queue of pending records and delivers them to
// the remote store in whole-queue batches. Shipment is fire-and-forget for
// callers: Log* methods enqueue synchronously and never block on network
// I/O, and no failure ever propagates to the observed business operation.
type Shipper struct {
	store    Store
	fb       fallback.Store
	builder  *Builder
	cfg      ShipperConfig
	schedule func(time.Duration, func())

	mu         sync.Mutex
	queue      []Record
	copied     int // queue[:copied] is already mirrored to the fallback store
	flushing   bool
	retryCount int
}

// NewShipper creates a Shipper. The fallback store may be fallback.Noop{}
// when no local medium is available.
func NewShipper(store Store, fb fallback.Store, builder *Builder, cfg ShipperConfig) *Shipper {
	cfg.applyDefaults()
	if fb == nil {
		fb = fallback.Noop{}
	}
	return &Shipper{
		store:    store,
		fb:       fb,
		builder:  builder,
		cfg:      cfg,
		schedule: cfg.Schedule,
	}
}

// LogAction builds a record for the given action and queues it for
// shipment. It returns before any network I/O happens.
func (s *Shipper) LogAction(ctx context.Context, action Action, resource ResourceType, data Data) {
	rec := s.builder.BuildRecord(ctx, action, resource, data)
	s.enqueue(rec)
	go s.Flush()
}

// LogFailure records a failed action attempt: status failure, severity
// high, with the cause folded into the metadata bag.
func (s *Shipper) LogFailure(ctx context.Context, action Action, resource ResourceType, data Data, cause error) {
	md := cloneBag(data.Metadata)
	if cause != nil {
		md["error"] = cause.Error()
	}
	data.Metadata = md
	data.Status = StatusFailure
	data.Severity = SeverityHigh
	s.LogAction(ctx, action, resource, data)
}

// LogSecurityEvent records a named security event against the system
// resource, with the event name folded into the metadata bag.
func (s *Shipper) LogSecurityEvent(ctx context.Context, event string, data Data) {
	md := cloneBag(data.Metadata)
	md["event"] = event
	data.Metadata = md
	s.LogAction(ctx, ActionSecurityEvent, ResourceSystem, data)
}

func cloneBag(bag map[string]any) map[string]any {
	out := make(map[string]any, len(bag)+1)
	for k, v := range bag {
		out[k] = v
	}
	return out
}

func (s *Shipper) enqueue(rec Record) {
	s.mu.Lock()
	s.queue = append(s.queue, rec)
	updateQueueLength(len(s.queue))
	s.mu.Unlock()
}

// QueueLen returns the current number of records awaiting shipment.
func (s *Shipper) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Flush attempts to deliver the entire pending queue to the remote store as
// one batch. A flush requested while another is in progress is a no-op; the
// next trigger picks up anything queued in the meantime.
//
// On failure the queue is retained, every not-yet-copied record is mirrored
// to the local fallback store, and a retry is scheduled with a backoff of
// RetryBackoff x retryCount - unless the queue or retry bound is exceeded,
// in which case the whole queue is discarded to keep process memory bounded
// (the fallback copies survive).
func (s *Shipper) Flush() {
	s.mu.Lock()
	if s.flushing || len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	s.flushing = true
	batch := make([]Record, len(s.queue))
	copy(batch, s.queue)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
	err := s.store.InsertBatch(ctx, sanitizeBatch(batch))
	cancel()

	if err == nil {
		s.mu.Lock()
		s.queue = append([]Record(nil), s.queue[len(batch):]...)
		s.copied -= len(batch)
		if s.copied < 0 {
			s.copied = 0
		}
		s.retryCount = 0
		s.flushing = false
		updateQueueLength(len(s.queue))
		s.mu.Unlock()

		recordShipped(len(batch))
		logging.Debug().Int("records", len(batch)).Msg("Audit batch shipped")
		return
	}

	recordFlushFailure()

	s.mu.Lock()
	s.retryCount++
	retry := s.retryCount

	// Mirror everything not yet copied, in queue order. Durability over
	// waiting: the local write is cheap and the retries may never succeed.
	toCopy := append([]Record(nil), s.queue[s.copied:]...)
	s.copied = len(s.queue)

	exceeded := len(s.queue) > s.cfg.MaxQueue || s.retryCount > s.cfg.MaxRetries
	if exceeded {
		// The whole queue is discarded, newest records included. The
		// fallback copies taken above are what survives.
		recordDropped(len(s.queue))
		s.queue = nil
		s.copied = 0
		s.retryCount = 0
	}
	s.flushing = false
	updateQueueLength(len(s.queue))
	s.mu.Unlock()

	logging.Error().
		Err(err).
		Int("records", len(batch)).
		Int("retry_count", retry).
		Bool("bound_exceeded", exceeded).
		Msg("Failed to ship audit batch")

	s.mirrorToFallback(toCopy)

	if exceeded {
		logging.Warn().Msg("Audit queue bound exceeded, discarded pending records")
		return
	}

	recordRetryScheduled()
	s.schedule(s.cfg.RetryBackoff*time.Duration(retry), s.Flush)
}

// mirrorToFallback copies records into the local fallback store.
// Failures are absorbed: under already-degraded conditions, losing the
// fallback copy too is acceptable.
func (s *Shipper) mirrorToFallback(records []Record) {
	if len(records) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
	defer cancel()

	for i := range records {
		payload, err := json.Marshal(records[i])
		if err != nil {
			logging.Warn().Err(err).Msg("Failed to marshal record for fallback store")
			continue
		}
		if err := s.fb.Append(ctx, payload); err != nil {
			logging.Warn().Err(err).Msg("Failed to write record to fallback store")
		}
	}
}

// sanitizeBatch normalizes records for insertion, replacing non-UUID actor
// IDs with the zero sentinel so the remote store's foreign keys hold.
func sanitizeBatch(records []Record) []Record {
	out := make([]Record, len(records))
	for i := range records {
		out[i] = records[i].Sanitized()
	}
	return out
}

// ReadFallback decodes and returns every record retained by the local
// fallback store, oldest first. Malformed entries are skipped.
func (s *Shipper) ReadFallback(ctx context.Context) []Record {
	payloads, err := s.fb.ReadAll(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to read fallback store")
		return nil
	}

	records := make([]Record, 0, len(payloads))
	for _, payload := range payloads {
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			logging.Warn().Err(err).Msg("Skipping malformed fallback entry")
			continue
		}
		records = append(records, rec)
	}
	return records
}

// ClearFallback removes every record from the local fallback store.
func (s *Shipper) ClearFallback(ctx context.Context) {
	if err := s.fb.Clear(ctx); err != nil {
		logging.Warn().Err(err).Msg("Failed to clear fallback store")
	}
}

// Close makes a final synchronous delivery attempt for anything still
// queued. Records that cannot be shipped here are lost unless a prior
// failure already mirrored them to the fallback store.
func (s *Shipper) Close() error {
	s.Flush()
	return nil
}
