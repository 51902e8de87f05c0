// AuditRelay - Resilient Audit Event Shipping
// Copyright 2026 AuditRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/auditrelay/auditrelay

package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/auditrelay/auditrelay/internal/fallback"
)

// stubStore records every InsertBatch call and fails on demand.
type stubStore struct {
	mu      sync.Mutex
	batches [][]Record
	fail    bool
	block   chan struct{} // when non-nil, InsertBatch waits for a receive
	entered chan struct{} // when non-nil, signaled on InsertBatch entry
}

func (s *stubStore) InsertBatch(ctx context.Context, records []Record) error {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("remote store unavailable")
	}
	batch := make([]Record, len(records))
	copy(batch, records)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *stubStore) Query(ctx context.Context, filter Filter) ([]Record, error) {
	return nil, nil
}

func (s *stubStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (s *stubStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *stubStore) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

// fakeScheduler captures scheduled retries instead of using the wall clock.
type fakeScheduler struct {
	mu    sync.Mutex
	tasks []scheduledTask
}

type scheduledTask struct {
	delay time.Duration
	fn    func()
}

func (f *fakeScheduler) schedule(d time.Duration, fn func()) {
	f.mu.Lock()
	f.tasks = append(f.tasks, scheduledTask{delay: d, fn: fn})
	f.mu.Unlock()
}

// runNext pops and runs the oldest pending task, returning its delay.
func (f *fakeScheduler) runNext(t *testing.T) time.Duration {
	t.Helper()
	f.mu.Lock()
	if len(f.tasks) == 0 {
		f.mu.Unlock()
		t.Fatal("no retry scheduled")
	}
	task := f.tasks[0]
	f.tasks = f.tasks[1:]
	f.mu.Unlock()
	task.fn()
	return task.delay
}

func (f *fakeScheduler) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func newTestShipper(store Store, fb fallback.Store, sched *fakeScheduler) *Shipper {
	cfg := DefaultShipperConfig()
	if sched != nil {
		cfg.Schedule = sched.schedule
	} else {
		cfg.Schedule = func(time.Duration, func()) {} // swallow retries
	}
	return NewShipper(store, fb, NewBuilder(nil), cfg)
}

func testRecord(actorID string) Record {
	return Record{
		ActorID:      actorID,
		Action:       ActionAdminLogin,
		ResourceType: ResourceAdmin,
		ClientIP:     UnknownValue,
		UserAgent:    UnknownValue,
		Timestamp:    time.Now().UTC(),
		Severity:     SeverityMedium,
		Status:       StatusSuccess,
	}
}

func TestFlushSuccessClearsQueue(t *testing.T) {
	store := &stubStore{}
	s := newTestShipper(store, nil, nil)

	for i := 0; i < 3; i++ {
		s.enqueue(testRecord(SystemActor))
	}
	s.Flush()

	if got := s.QueueLen(); got != 0 {
		t.Errorf("queue length = %d after successful flush, want 0", got)
	}
	if store.calls() != 1 {
		t.Errorf("insert calls = %d, want 1", store.calls())
	}
	if len(store.batches[0]) != 3 {
		t.Errorf("batch size = %d, want 3", len(store.batches[0]))
	}
}

func TestFlushFailureRetainsQueue(t *testing.T) {
	store := &stubStore{fail: true}
	sched := &fakeScheduler{}
	s := newTestShipper(store, nil, sched)

	for i := 0; i < 3; i++ {
		s.enqueue(testRecord(SystemActor))
	}
	s.Flush()

	if got := s.QueueLen(); got != 3 {
		t.Errorf("queue length = %d after failed flush, want 3", got)
	}
	if sched.pending() != 1 {
		t.Fatalf("scheduled retries = %d, want 1", sched.pending())
	}
}

func TestRetryBackoffGrowsWithRetryCount(t *testing.T) {
	store := &stubStore{fail: true}
	sched := &fakeScheduler{}
	s := newTestShipper(store, nil, sched)

	s.enqueue(testRecord(SystemActor))
	s.Flush()

	if d := sched.runNext(t); d != 5*time.Second {
		t.Errorf("first retry delay = %v, want 5s", d)
	}
	if d := sched.runNext(t); d != 10*time.Second {
		t.Errorf("second retry delay = %v, want 10s", d)
	}
	if d := sched.runNext(t); d != 15*time.Second {
		t.Errorf("third retry delay = %v, want 15s", d)
	}
}

func TestRetryBoundClearsQueue(t *testing.T) {
	store := &stubStore{fail: true}
	sched := &fakeScheduler{}
	s := newTestShipper(store, nil, sched)

	s.enqueue(testRecord(SystemActor))
	s.Flush() // retryCount 1

	sched.runNext(t) // retryCount 2
	sched.runNext(t) // retryCount 3
	sched.runNext(t) // retryCount 4 > MaxRetries: clear

	if got := s.QueueLen(); got != 0 {
		t.Errorf("queue length = %d after exhausting retries, want 0", got)
	}
	if sched.pending() != 0 {
		t.Errorf("pending retries = %d after clear, want 0", sched.pending())
	}

	// A later success path starts fresh.
	store.setFail(false)
	s.enqueue(testRecord(SystemActor))
	s.Flush()
	if got := s.QueueLen(); got != 0 {
		t.Errorf("queue length = %d after recovery flush, want 0", got)
	}
}

func TestQueueBoundClearsQueue(t *testing.T) {
	store := &stubStore{fail: true}
	sched := &fakeScheduler{}
	s := newTestShipper(store, nil, sched)

	for i := 0; i < 101; i++ {
		s.enqueue(testRecord(SystemActor))
	}
	s.Flush()

	if got := s.QueueLen(); got != 0 {
		t.Errorf("queue length = %d with %d queued and a failing store, want 0", got, 101)
	}
	if sched.pending() != 0 {
		t.Errorf("pending retries = %d after bound clear, want 0", sched.pending())
	}
}

func TestFlushFailureMirrorsToFallback(t *testing.T) {
	store := &stubStore{fail: true}
	fb := fallback.NewMemory(fallback.DefaultCap)
	s := newTestShipper(store, fb, nil)

	s.enqueue(testRecord("a1b2c3d4-e5f6-7890-abcd-ef1234567890"))
	s.enqueue(testRecord(SystemActor))
	s.enqueue(testRecord(SystemActor))
	s.Flush()

	got := s.ReadFallback(context.Background())
	if len(got) != 3 {
		t.Fatalf("fallback records = %d after failed flush, want 3", len(got))
	}
	if got[0].ActorID != "a1b2c3d4-e5f6-7890-abcd-ef1234567890" {
		t.Errorf("fallback[0].ActorID = %q, want insertion order preserved", got[0].ActorID)
	}
}

func TestRepeatedFailuresDoNotDuplicateFallbackCopies(t *testing.T) {
	store := &stubStore{fail: true}
	fb := fallback.NewMemory(fallback.DefaultCap)
	sched := &fakeScheduler{}
	s := newTestShipper(store, fb, sched)

	s.enqueue(testRecord(SystemActor))
	s.enqueue(testRecord(SystemActor))
	s.Flush()        // both copied
	sched.runNext(t) // second failure, nothing new to copy

	got := s.ReadFallback(context.Background())
	if len(got) != 2 {
		t.Errorf("fallback records = %d after two failures, want 2 (no duplicates)", len(got))
	}
}

func TestRecordsEnqueuedBetweenFailuresAreMirrored(t *testing.T) {
	store := &stubStore{fail: true}
	fb := fallback.NewMemory(fallback.DefaultCap)
	sched := &fakeScheduler{}
	s := newTestShipper(store, fb, sched)

	s.enqueue(testRecord(SystemActor))
	s.Flush()
	s.enqueue(testRecord(SystemActor)) // arrives between failures
	sched.runNext(t)

	got := s.ReadFallback(context.Background())
	if len(got) != 2 {
		t.Errorf("fallback records = %d, want 2 (late arrival mirrored once)", len(got))
	}
}

func TestConcurrentFlushSendsOneBatch(t *testing.T) {
	store := &stubStore{
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	s := newTestShipper(store, nil, nil)
	s.enqueue(testRecord(SystemActor))

	done := make(chan struct{})
	go func() {
		s.Flush()
		close(done)
	}()
	<-store.entered // first flush is now in-flight

	s.Flush() // must be a no-op while the first is in progress

	close(store.block)
	<-done

	if got := store.calls(); got != 1 {
		t.Errorf("insert calls = %d for two concurrent flushes, want 1", got)
	}
}

func TestLogActionShipsAsynchronously(t *testing.T) {
	store := &stubStore{}
	s := newTestShipper(store, nil, nil)

	s.LogAction(context.Background(), ActionAdminLogin, ResourceAdmin, Data{})

	deadline := time.After(2 * time.Second)
	for store.calls() == 0 {
		select {
		case <-deadline:
			t.Fatal("record was never shipped")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if len(store.batches[0]) != 1 {
		t.Fatalf("batch size = %d, want 1", len(store.batches[0]))
	}
	rec := store.batches[0][0]
	if rec.ActorID != ZeroActorID {
		t.Errorf("shipped ActorID = %q, want sanitized zero sentinel", rec.ActorID)
	}
}

func TestLogFailureMarksRecord(t *testing.T) {
	store := &stubStore{}
	s := newTestShipper(store, nil, nil)

	s.LogFailure(context.Background(), ActionOrderRefund, ResourceOrder, Data{}, errors.New("card declined"))
	s.Flush()

	deadline := time.After(2 * time.Second)
	for store.calls() == 0 {
		select {
		case <-deadline:
			t.Fatal("record was never shipped")
		case <-time.After(5 * time.Millisecond):
		}
	}

	rec := store.batches[0][0]
	if rec.Status != StatusFailure {
		t.Errorf("Status = %q, want failure", rec.Status)
	}
	if rec.Severity != SeverityHigh {
		t.Errorf("Severity = %q, want high", rec.Severity)
	}
	if len(rec.Metadata) == 0 {
		t.Error("expected the cause in the metadata bag")
	}
}

func TestClearFallback(t *testing.T) {
	store := &stubStore{fail: true}
	fb := fallback.NewMemory(fallback.DefaultCap)
	s := newTestShipper(store, fb, nil)

	s.enqueue(testRecord(SystemActor))
	s.Flush()

	if got := s.ReadFallback(context.Background()); len(got) != 1 {
		t.Fatalf("fallback records = %d, want 1", len(got))
	}
	s.ClearFallback(context.Background())
	if got := s.ReadFallback(context.Background()); len(got) != 0 {
		t.Errorf("fallback records = %d after clear, want 0", len(got))
	}
}
