// AuditRelay - Resilient Audit Event Shipping
// Copyright 2026 AuditRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/auditrelay/auditrelay

package audit

import (
	"github.com/auditrelay/auditrelay/internal/enrich"
	"github.com/auditrelay/auditrelay/internal/fallback"
)

// Service bundles the write path (Shipper) and the read path (Reader) over
// one remote store. This is the type most consumers hold; the halves stay
// independent and the read path never touches the queue.
type Service struct {
	*Shipper
	*Reader
}

// New creates a Service. The fallback store may be nil when no local
// medium is available, and the enricher may be nil when no network
// metadata provider exists; both degrade rather than fail.
func New(store Store, fb fallback.Store, enricher enrich.Enricher, cfg ShipperConfig) *Service {
	builder := NewBuilder(enricher)
	return &Service{
		Shipper: NewShipper(store, fb, builder, cfg),
		Reader:  NewReader(store),
	}
}
