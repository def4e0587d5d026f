package escrow

import (
	"context"
	"errors"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/metrics"
)

// ReconcileReport summarizes one sweep over pending attempts.
type ReconcileReport struct {
	Checked  int `json:"checked"`
	Settled  int `json:"settled"`
	Cleared  int `json:"cleared"`
	Pending  int `json:"pending"`
	Failures int `json:"failures"`
}

// ReconcilePending resolves submissions whose outcome was not observed. Each escrow
// is resolved under the same lock Finish and Cancel take, so a sweep and a
// client retry never both act on one attempt.
func (s *Service) ReconcilePending(ctx context.Context, limit int) (*ReconcileReport, error) {
	escrows, err := s.registry.ListPendingAttempts(ctx, limit)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{}
	for _, e := range escrows {
		if ctx.Err() != nil {
			break
		}
		report.Checked++
		s.reconcileOne(ctx, e.ID, report)
	}
	metrics.EscrowPendingAttempts.Set(float64(report.Pending + report.Failures))
	return report, nil
}

func (s *Service) reconcileOne(ctx context.Context, id string, report *ReconcileReport) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		report.Failures++
		return
	}
	defer unlock()

	e, err := s.registry.Get(ctx, id)
	if err != nil {
		report.Failures++
		s.logger.Warn("reconcile: escrow lookup failed", "escrow_id", id, "error", err)
		return
	}
	if e.State != StateCreated || e.PendingTx == nil {
		return
	}

	hash, kind := e.PendingTx.TxHash, e.PendingTx.Kind
	resolved, err := s.resolvePending(ctx, e)
	var pe *PendingError
	switch {
	case errors.As(err, &pe) && pe.Err == nil:
		report.Pending++
	case err != nil:
		report.Failures++
		s.logger.Warn("reconcile: outcome lookup failed", "escrow_id", id, "tx_hash", hash, "error", err)
	case resolved.IsTerminal(), kind == AttemptCreate && resolved.State == StateCreated:
		report.Settled++
	default:
		report.Cleared++
	}
}
