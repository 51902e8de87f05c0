// AuditRelay - Resilient Audit Event Shipping
// Copyright 2026 AuditRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/auditrelay/auditrelay

package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/auditrelay/auditrelay/internal/enrich"
)

// slowEnricher blocks until its context expires.
type slowEnricher struct{}

func (slowEnricher) Enrich(ctx context.Context) (enrich.Info, error) {
	<-ctx.Done()
	return enrich.Info{}, ctx.Err()
}

// failingEnricher always errors.
type failingEnricher struct{}

func (failingEnricher) Enrich(context.Context) (enrich.Info, error) {
	return enrich.Info{}, errors.New("provider unreachable")
}

func TestBuildRecordPopulatesAllFields(t *testing.T) {
	b := NewBuilder(enrich.Static{IP: "203.0.113.9", UserAgent: "relay-test/1.0"})

	rec := b.BuildRecord(context.Background(), ActionAdminLogin, ResourceAdmin, Data{
		ActorID:    "a1b2c3d4-e5f6-7890-abcd-ef1234567890",
		ActorEmail: "admin@example.com",
		ResourceID: "session-1",
		Metadata:   map[string]any{"method": "password"},
	})

	if rec.ActorID != "a1b2c3d4-e5f6-7890-abcd-ef1234567890" {
		t.Errorf("ActorID = %q", rec.ActorID)
	}
	if rec.Action != ActionAdminLogin || rec.ResourceType != ResourceAdmin {
		t.Errorf("taxonomy = %q/%q", rec.Action, rec.ResourceType)
	}
	if rec.ClientIP != "203.0.113.9" {
		t.Errorf("ClientIP = %q, want enriched value", rec.ClientIP)
	}
	if rec.UserAgent != "relay-test/1.0" {
		t.Errorf("UserAgent = %q, want enriched value", rec.UserAgent)
	}
	if rec.Severity != SeverityMedium {
		t.Errorf("Severity = %q, want medium for admin_login", rec.Severity)
	}
	if rec.Status != StatusSuccess {
		t.Errorf("Status = %q, want success", rec.Status)
	}
	if rec.Timestamp.IsZero() {
		t.Error("Timestamp is zero")
	}
	if len(rec.Metadata) == 0 {
		t.Error("Metadata bag was dropped")
	}
}

func TestBuildRecordDefaults(t *testing.T) {
	b := NewBuilder(nil)

	rec := b.BuildRecord(context.Background(), ActionPackageDelete, ResourcePackage, Data{})

	if rec.ActorID != SystemActor {
		t.Errorf("ActorID = %q, want %q", rec.ActorID, SystemActor)
	}
	if rec.Severity != SeverityHigh {
		t.Errorf("Severity = %q, want high from the static classification", rec.Severity)
	}
	if rec.ClientIP != UnknownValue {
		t.Errorf("ClientIP = %q, want %q", rec.ClientIP, UnknownValue)
	}
	if rec.UserAgent != UnknownValue {
		t.Errorf("UserAgent = %q, want %q", rec.UserAgent, UnknownValue)
	}
}

func TestBuildRecordSeverityOverride(t *testing.T) {
	b := NewBuilder(nil)

	rec := b.BuildRecord(context.Background(), ActionPackageDelete, ResourcePackage, Data{
		Severity: SeverityLow,
	})

	if rec.Severity != SeverityLow {
		t.Errorf("Severity = %q, want explicit low override", rec.Severity)
	}
}

func TestBuildRecordEnrichmentFailureDegrades(t *testing.T) {
	b := NewBuilder(failingEnricher{})

	rec := b.BuildRecord(context.Background(), ActionDataExport, ResourceSystem, Data{})

	if rec.ClientIP != UnknownValue || rec.UserAgent != UnknownValue {
		t.Errorf("got %q/%q, want unknown/unknown on enrichment failure", rec.ClientIP, rec.UserAgent)
	}
}

func TestBuildRecordEnrichmentTimeout(t *testing.T) {
	b := NewBuilder(slowEnricher{})
	b.timeout = 10 * time.Millisecond

	start := time.Now()
	rec := b.BuildRecord(context.Background(), ActionDataExport, ResourceSystem, Data{})

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("build blocked for %v on a stuck provider", elapsed)
	}
	if rec.ClientIP != UnknownValue {
		t.Errorf("ClientIP = %q, want %q after timeout", rec.ClientIP, UnknownValue)
	}
}

func TestBuildRecordCallerOverridesSkipEnrichment(t *testing.T) {
	b := NewBuilder(enrich.Static{IP: "198.51.100.1", UserAgent: "static/1"})

	rec := b.BuildRecord(context.Background(), ActionAdminLogin, ResourceAdmin, Data{
		ClientIP:  "192.0.2.7",
		UserAgent: "curl/8.0",
	})

	if rec.ClientIP != "192.0.2.7" {
		t.Errorf("ClientIP = %q, want caller override", rec.ClientIP)
	}
	if rec.UserAgent != "curl/8.0" {
		t.Errorf("UserAgent = %q, want caller override", rec.UserAgent)
	}
}

func TestBuildRecordMonotonicTimestamps(t *testing.T) {
	b := NewBuilder(nil)

	// Simulate a wall clock stepping backwards between builds.
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(-time.Minute), base.Add(time.Second)}
	i := 0
	b.now = func() time.Time {
		ts := clock[i]
		i++
		return ts
	}

	var prev time.Time
	for n := 0; n < len(clock); n++ {
		rec := b.BuildRecord(context.Background(), ActionAdminLogin, ResourceAdmin, Data{})
		if rec.Timestamp.Before(prev) {
			t.Fatalf("timestamp %v went backwards past %v", rec.Timestamp, prev)
		}
		prev = rec.Timestamp
	}
}

func TestBuildRecordUnknownTaxonomyStillBuilds(t *testing.T) {
	b := NewBuilder(nil)

	rec := b.BuildRecord(context.Background(), Action("totally_new"), ResourceType("widget"), Data{})

	if rec.Action != Action("totally_new") {
		t.Errorf("Action = %q, want the tag preserved", rec.Action)
	}
	if rec.Severity != SeverityMedium {
		t.Errorf("Severity = %q, want medium for unknown action", rec.Severity)
	}
}
