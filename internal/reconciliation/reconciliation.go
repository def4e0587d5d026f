// Package reconciliation periodically brings the escrow registry in line
// with the ledger.
package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/escrow"
)

// DefaultBatchSize bounds how many pending attempts one run resolves.
const DefaultBatchSize = 100

// PendingResolver resolves escrows whose last submission timed out.
type PendingResolver interface {
	ReconcilePending(ctx context.Context, limit int) (*escrow.ReconcileReport, error)
}

// PartyLister lists escrows by party.
type PartyLister interface {
	ListByParty(ctx context.Context, addr string, limit int) ([]*escrow.Escrow, error)
}

// Report is the outcome of one reconciliation run.
type Report struct {
	Pending     escrow.ReconcileReport `json:"pending"`
	ExpiredOpen int                    `json:"expiredOpen"`
	RanAt       time.Time              `json:"ranAt"`
	Duration    time.Duration          `json:"duration"`
}

// Runner executes reconciliation checks.
type Runner struct {
	resolver  PendingResolver
	escrows   PartyLister
	owner     string
	batchSize int
	now       func() time.Time
	logger    *slog.Logger
}

// NewRunner creates a runner. escrows and owner enable the expired escrow
// check; either may be left empty to skip it.
func NewRunner(resolver PendingResolver, escrows PartyLister, owner string, logger *slog.Logger) *Runner {
	return &Runner{
		resolver:  resolver,
		escrows:   escrows,
		owner:     owner,
		batchSize: DefaultBatchSize,
		now:       time.Now,
		logger:    logger,
	}
}

// RunAll resolves pending attempts and counts expired open escrows.
func (r *Runner) RunAll(ctx context.Context) (*Report, error) {
	start := r.now()
	report := &Report{RanAt: start.UTC()}

	pending, err := r.resolver.ReconcilePending(ctx, r.batchSize)
	if err != nil {
		reconcileErrors.Inc()
		return nil, fmt.Errorf("resolve pending attempts: %w", err)
	}
	report.Pending = *pending
	reconcileSettled.Add(float64(pending.Settled))
	reconcileCleared.Add(float64(pending.Cleared))
	if pending.Failures > 0 {
		reconcileErrors.Add(float64(pending.Failures))
	}

	if r.escrows != nil && r.owner != "" {
		expired, err := r.countExpiredOpen(ctx)
		if err != nil {
			reconcileErrors.Inc()
			r.logger.Warn("reconciliation: expired escrow check failed", "error", err)
		} else {
			report.ExpiredOpen = expired
			reconcileExpiredOpen.Set(float64(expired))
		}
	}

	report.Duration = r.now().Sub(start)
	reconcileDuration.Observe(report.Duration.Seconds())

	if pending.Checked > 0 || report.ExpiredOpen > 0 {
		r.logger.Info("reconciliation run",
			"checked", pending.Checked, "settled", pending.Settled, "cleared", pending.Cleared,
			"still_pending", pending.Pending, "failures", pending.Failures,
			"expired_open", report.ExpiredOpen)
	}
	return report, nil
}

// countExpiredOpen counts created escrows the owner could already cancel.
// Every escrow is locked from the owner wallet, so listing all of the
// owner's escrows covers them, oldest included.
func (r *Runner) countExpiredOpen(ctx context.Context) (int, error) {
	escrows, err := r.escrows.ListByParty(ctx, r.owner, 0)
	if err != nil {
		return 0, err
	}
	now := r.now()
	n := 0
	for _, e := range escrows {
		if e.State == escrow.StateCreated && now.After(e.CancelAfter) {
			n++
		}
	}
	return n, nil
}
