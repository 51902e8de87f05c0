// AuditRelay - Resilient Audit Event Shipping
// Copyright 2026 AuditRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/auditrelay/auditrelay

package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the audit pipeline
var (
	// recordsBuiltTotal counts records constructed by the builder.
	recordsBuiltTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_records_built_total",
		Help: "Total number of audit records constructed",
	})

	// recordsShippedTotal counts records delivered to the remote store.
	recordsShippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_records_shipped_total",
		Help: "Total number of audit records delivered to the remote store",
	})

	// flushFailuresTotal counts failed batch flush attempts.
	flushFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_flush_failures_total",
		Help: "Total number of failed audit batch flush attempts",
	})

	// retriesScheduledTotal counts scheduled flush retries.
	retriesScheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_retries_scheduled_total",
		Help: "Total number of scheduled audit flush retries",
	})

	// recordsDroppedTotal counts records discarded by the queue bounds.
	recordsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_records_dropped_total",
		Help: "Total number of queued records discarded by the queue or retry bound",
	})

	// queueLength is the current in-memory queue length.
	queueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audit_queue_length",
		Help: "Current number of audit records awaiting shipment",
	})

	// recordsPrunedTotal counts records removed by retention pruning.
	recordsPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_records_pruned_total",
		Help: "Total number of remote audit records removed by retention pruning",
	})
)

func recordBuilt() {
	recordsBuiltTotal.Inc()
}

func recordShipped(n int) {
	recordsShippedTotal.Add(float64(n))
}

func recordFlushFailure() {
	flushFailuresTotal.Inc()
}

func recordRetryScheduled() {
	retriesScheduledTotal.Inc()
}

func recordDropped(n int) {
	recordsDroppedTotal.Add(float64(n))
}

func updateQueueLength(n int) {
	queueLength.Set(float64(n))
}

func recordPruned(n int64) {
	recordsPrunedTotal.Add(float64(n))
}
