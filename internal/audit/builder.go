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

	"github.com/auditrelay/auditrelay/internal/enrich"
	"github.com/auditrelay/auditrelay/internal/logging"
)

// Data carries the optional per-record inputs accepted by the builder.
// Every field may be left zero; the builder fills defaults.
type Data struct {
	// ActorID is the principal performing the action. Empty means SystemActor.
	ActorID string

	// ActorEmail is denormalized for read convenience.
	ActorEmail string

	// ResourceID identifies the specific entity instance.
	ResourceID string

	// OldValues and NewValues are before/after snapshots for change auditing.
	OldValues map[string]any
	NewValues map[string]any

	// Metadata is arbitrary action-specific context.
	Metadata map[string]any

	// ClientIP and UserAgent override enrichment when already known, e.g.
	// extracted from the inbound request with enrich.FromRequest.
	ClientIP  string
	UserAgent string

	// Severity overrides the static per-action classification.
	Severity Severity

	// Status marks a failed or pending attempt. Default: success.
	Status Status
}

// Builder normalizes raw action reports into canonical audit records.
// Construction is total: it never fails, degrading enrichment and taxonomy
// gaps to defaults instead.
type Builder struct {
	enricher enrich.Enricher
	timeout  time.Duration
	now      func() time.Time

	// mu guards lastTS so timestamps are monotonically non-decreasing in
	// construction order even if the wall clock steps backwards.
	mu     sync.Mutex
	lastTS time.Time
}

// DefaultEnrichTimeout bounds how long record construction waits for the
// enrichment provider.
const DefaultEnrichTimeout = 2 * time.Second

// NewBuilder creates a Builder. A nil enricher means every record gets
// "unknown" network metadata unless the caller supplies it.
func NewBuilder(enricher enrich.Enricher) *Builder {
	return &Builder{
		enricher: enricher,
		timeout:  DefaultEnrichTimeout,
		now:      time.Now,
	}
}

// BuildRecord constructs a fully-populated record for the given action.
// An unrecognized action or resource type is a caller bug; it is logged and
// classified severity medium rather than rejected, so audit visibility is
// never lost to a taxonomy gap.
func (b *Builder) BuildRecord(ctx context.Context, action Action, resource ResourceType, data Data) Record {
	if !KnownAction(action) || !KnownResource(resource) {
		logging.Warn().
			Str("action", string(action)).
			Str("resource_type", string(resource)).
			Msg("Audit record with unrecognized taxonomy tag")
	}

	rec := Record{
		ActorID:      data.ActorID,
		ActorEmail:   data.ActorEmail,
		Action:       action,
		ResourceType: resource,
		ResourceID:   data.ResourceID,
		OldValues:    marshalBag(data.OldValues),
		NewValues:    marshalBag(data.NewValues),
		Metadata:     marshalBag(data.Metadata),
		ClientIP:     data.ClientIP,
		UserAgent:    data.UserAgent,
		Timestamp:    b.nextTimestamp(),
		Severity:     data.Severity,
		Status:       data.Status,
	}

	if rec.ActorID == "" {
		rec.ActorID = SystemActor
	}
	if rec.Severity == "" {
		rec.Severity = SeverityFor(action)
	}
	if rec.Status == "" {
		rec.Status = StatusSuccess
	}

	b.enrichRecord(ctx, &rec)

	recordBuilt()
	return rec
}

// enrichRecord fills ClientIP and UserAgent from the enrichment provider.
// Enrichment is best-effort: failure or timeout degrades to "unknown" and
// never blocks record construction.
func (b *Builder) enrichRecord(ctx context.Context, rec *Record) {
	if rec.ClientIP == "" || rec.UserAgent == "" {
		if b.enricher != nil {
			ectx, cancel := context.WithTimeout(ctx, b.timeout)
			info, err := b.enricher.Enrich(ectx)
			cancel()
			if err != nil {
				logging.Debug().Err(err).Msg("Audit enrichment failed, using defaults")
			} else {
				if rec.ClientIP == "" {
					rec.ClientIP = info.IP
				}
				if rec.UserAgent == "" {
					rec.UserAgent = info.UserAgent
				}
			}
		}
	}

	if rec.ClientIP == "" {
		rec.ClientIP = UnknownValue
	}
	if rec.UserAgent == "" {
		rec.UserAgent = UnknownValue
	}
}

// nextTimestamp returns a build timestamp that never decreases across
// consecutive calls.
func (b *Builder) nextTimestamp() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.now().UTC()
	if ts.Before(b.lastTS) {
		ts = b.lastTS
	}
	b.lastTS = ts
	return ts
}

// marshalBag serializes a free-form key-value bag. A bag that cannot be
// serialized is dropped; builder construction must not fail.
func marshalBag(bag map[string]any) json.RawMessage {
	if len(bag) == 0 {
		return nil
	}
	data, err := json.Marshal(bag)
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to marshal audit value bag, dropping")
		return nil
	}
	return data
}
