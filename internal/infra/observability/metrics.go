// Package observability exposes Prometheus metrics for the
// reconciliation workflow. Counters are registered once via promauto and
// shared process-wide; the API serves them at /metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Reconciliation Metrics ─────────────────────────────────────────────────

var (
	// ReconciliationsTotal counts lifecycle transitions, labeled by the
	// terminal event (started, completed, cancelled, rolled_back).
	ReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opsbooks",
		Subsystem: "recon",
		Name:      "reconciliations_total",
		Help:      "Reconciliation lifecycle events.",
	}, []string{"event"})

	// PostingsToggled counts clear/unclear toggles on ledger postings.
	PostingsToggled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opsbooks",
		Subsystem: "recon",
		Name:      "postings_toggled_total",
		Help:      "Ledger postings cleared or uncleared within a session.",
	}, []string{"direction"})

	// MatchesApplied counts bank-line matches, labeled auto/manual.
	MatchesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opsbooks",
		Subsystem: "automatch",
		Name:      "matches_applied_total",
		Help:      "Bank statement lines matched to postings.",
	}, []string{"mode"})

	// AdjustmentsCreated counts reconciling adjustments by type.
	AdjustmentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opsbooks",
		Subsystem: "recon",
		Name:      "adjustments_created_total",
		Help:      "Reconciling adjustments written.",
	}, []string{"type"})

	// LinesImported counts bank statement lines accepted by import.
	LinesImported = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "opsbooks",
		Subsystem: "importer",
		Name:      "lines_imported_total",
		Help:      "Bank statement lines imported.",
	})

	// OperationDuration observes wall time of store-touching operations.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "opsbooks",
		Subsystem: "recon",
		Name:      "operation_duration_seconds",
		Help:      "Duration of reconciliation operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
)

// ObserveOp records one operation's duration.
func ObserveOp(op string, start time.Time) {
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
