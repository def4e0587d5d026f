package escrow

import (
	"context"
	"fmt"
	"strings"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/metrics"
)

// Decision is a verdict from the claim review pipeline.
type Decision string

const (
	DecisionAccepted Decision = "Accepted"
	DecisionDeclined Decision = "Declined"
	DecisionEscalate Decision = "Escalate to human"
)

// ParseDecision accepts exactly the three pipeline tokens, ignoring
// surrounding whitespace.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.TrimSpace(s)); d {
	case DecisionAccepted, DecisionDeclined, DecisionEscalate:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDecision, s)
}

// DecisionResult is what settling a decision did.
type DecisionResult struct {
	Decision Decision `json:"decision"`
	EscrowID string   `json:"escrowId,omitempty"`
	Finished bool     `json:"finished"`
	TxHash   string   `json:"txHash,omitempty"`
	Message  string   `json:"message"`
}

// SettleDecision applies a claim decision for the session's principal.
// Accepted finishes the principal's open escrow with the highest offer
// sequence; the other tokens change nothing.
func (s *Service) SettleDecision(ctx context.Context, token, raw string) (*DecisionResult, error) {
	principal, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	decision, err := ParseDecision(raw)
	if err != nil {
		metrics.DecisionsTotal.WithLabelValues("unknown").Inc()
		return nil, err
	}
	metrics.DecisionsTotal.WithLabelValues(string(decision)).Inc()

	if decision != DecisionAccepted {
		s.logger.Info("claim decision without payout", "principal", principal, "decision", decision)
		return &DecisionResult{Decision: decision, Message: MsgDecisionNoAction}, nil
	}

	escrows, err := s.registry.ListByParty(ctx, principal, 0)
	if err != nil {
		return nil, err
	}
	var target *Escrow
	for _, e := range escrows {
		if e.Destination != principal || e.State != StateCreated {
			continue
		}
		if target == nil || e.OfferSequence > target.OfferSequence {
			target = e
		}
	}
	if target == nil {
		return &DecisionResult{Decision: decision, Message: MsgNoPendingEscrow}, nil
	}

	res, err := s.Finish(ctx, token, target.ID)
	if err != nil {
		return nil, err
	}
	return &DecisionResult{
		Decision: decision,
		EscrowID: target.ID,
		Finished: res.Done,
		TxHash:   res.TxHash,
		Message:  res.Message,
	}, nil
}
