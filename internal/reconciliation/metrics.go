package reconciliation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func counter(name, help string) prometheus.Counter {
	return promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "blocksmith", Subsystem: "reconciliation", Name: name, Help: help,
	})
}

var (
	reconcileSettled = counter("settled_total", "Pending attempts found settled on the ledger.")
	reconcileCleared = counter("cleared_total", "Pending attempts that failed or expired and were cleared.")
	reconcileErrors  = counter("errors_total", "Sweep errors, including per-escrow lookup failures.")

	reconcileExpiredOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "blocksmith", Subsystem: "reconciliation", Name: "expired_open_escrows",
		Help: "Created escrows past CancelAfter seen by the last sweep.",
	})
	reconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "blocksmith", Subsystem: "reconciliation", Name: "run_duration_seconds",
		Help:    "Duration of one sweep.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
)
