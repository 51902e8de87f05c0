// AuditRelay - Resilient Audit Event Shipping
// Copyright 2026 AuditRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/auditrelay/auditrelay

package fallback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for fallback store operations
var (
	// fallbackAppendsTotal counts entries written to the fallback store.
	fallbackAppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_fallback_appends_total",
		Help: "Total number of records written to the local fallback store",
	})

	// fallbackAppendFailures counts failed fallback writes.
	fallbackAppendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_fallback_append_failures_total",
		Help: "Total number of failed local fallback store writes",
	})

	// fallbackEvictionsTotal counts entries dropped by FIFO eviction.
	fallbackEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_fallback_evictions_total",
		Help: "Total number of fallback entries evicted by the size cap",
	})
)

func recordAppend() {
	fallbackAppendsTotal.Inc()
}

func recordAppendFailure() {
	fallbackAppendFailures.Inc()
}

func recordEvictions(n int) {
	fallbackEvictionsTotal.Add(float64(n))
}
