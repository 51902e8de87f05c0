// AuditRelay - Resilient Audit Event Shipping
// Copyright 2026 AuditRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/auditrelay/auditrelay

package audit

import (
	"context"
	"encoding/csv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/auditrelay/auditrelay/internal/logging"
)

// ExportFormat selects the export serialization.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// csvColumns is the fixed export column order.
var csvColumns = []string{"timestamp", "actor_id", "action", "resource_type", "resource_id", "severity", "status"}

// DefaultExportLimit bounds exports when no limit is given.
const DefaultExportLimit = 1000

// PruneResult reports the outcome of a retention pruning pass.
type PruneResult struct {
	Success      bool  `json:"success"`
	DeletedCount int64 `json:"deleted_count"`
}

// Reader is the read-side facade over the remote store. It bypasses the
// shipping queue entirely, and no operation propagates a store failure to
// the caller: reads degrade to empty results so admin surfaces can always
// render "no data" instead of crashing.
type Reader struct {
	store Store
}

// NewReader creates a Reader over the remote store.
func NewReader(store Store) *Reader {
	return &Reader{store: store}
}

// Recent returns up to limit records, most recent first. A non-positive
// limit means DefaultQueryLimit. Store failures yield an empty slice.
func (r *Reader) Recent(ctx context.Context, limit int) []Record {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	return r.Filter(ctx, Filter{Limit: limit})
}

// Filter returns records matching every present criterion, most recent
// first. Store failures yield an empty slice.
func (r *Reader) Filter(ctx context.Context, filter Filter) []Record {
	if filter.Limit <= 0 {
		filter.Limit = DefaultQueryLimit
	}

	records, err := r.store.Query(ctx, filter)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to query audit records")
		return []Record{}
	}
	if records == nil {
		records = []Record{}
	}
	return records
}

// Export serializes up to limit recent records in the requested format.
// The result is always a parseable document: a fetch failure yields an
// empty JSON array or a header-only CSV.
func (r *Reader) Export(ctx context.Context, format ExportFormat, limit int) string {
	if limit <= 0 {
		limit = DefaultExportLimit
	}
	records := r.Recent(ctx, limit)

	if format == ExportCSV {
		return exportCSV(records)
	}
	return exportJSON(records)
}

func exportJSON(records []Record) string {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		logging.Error().Err(err).Msg("Failed to serialize audit export")
		return "[]"
	}
	return string(data)
}

func exportCSV(records []Record) string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	// The write into strings.Builder cannot fail; Error() is checked once
	// after flushing for completeness.
	_ = w.Write(csvColumns)
	for i := range records {
		rec := &records[i]
		_ = w.Write([]string{
			rec.Timestamp.UTC().Format(time.RFC3339),
			rec.ActorID,
			string(rec.Action),
			string(rec.ResourceType),
			rec.ResourceID,
			string(rec.Severity),
			string(rec.Status),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		logging.Error().Err(err).Msg("Failed to serialize audit CSV export")
	}
	return sb.String()
}

// PruneOlderThan deletes remote records older than the given number of
// days. Failures are reported in the result, never returned as an error.
func (r *Reader) PruneOlderThan(ctx context.Context, days int) PruneResult {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	count, err := r.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		logging.Error().Err(err).Int("days", days).Msg("Failed to prune old audit records")
		return PruneResult{Success: false}
	}

	if count > 0 {
		recordPruned(count)
		logging.Info().Int64("deleted", count).Time("cutoff", cutoff).Msg("Pruned old audit records")
	}
	return PruneResult{Success: true, DeletedCount: count}
}
