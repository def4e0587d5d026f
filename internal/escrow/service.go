package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/condition"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/iou"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/metrics"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/pagination"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/syncutil"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/traces"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/xrpl"
)

// DefaultCancelAfter is how long after the lock the owner may reclaim it.
const DefaultCancelAfter = time.Hour

// Response messages.
const (
	MsgCreated          = "An IOU (%s) TokenEscrow has been created"
	MsgFinished         = "The insurance benefit you requested has been paid"
	MsgAlreadyFinished  = "Already paid."
	MsgCanceled         = "The escrow has been canceled. The deposited IOU has been returned to the insurer's wallet"
	MsgAlreadyCanceled  = "Escrow already canceled."
	MsgAlreadySettled   = "Escrow already finished."
	MsgNoPendingEscrow  = "No pending escrow to finish."
	MsgDecisionNoAction = "Decision recorded; no ledger action taken."
)

// Ledger is the part of the ledger gateway the lifecycle needs. Prepare
// fixes the sequence and hash before anything is sent.
type Ledger interface {
	Prepare(ctx context.Context, signer xrpl.Credential, tx *xrpl.Transaction) (*xrpl.Prepared, error)
	SubmitAndWait(ctx context.Context, p *xrpl.Prepared) (*xrpl.TxResult, error)
	Outcome(ctx context.Context, hash string, lastLedger uint32) (*xrpl.Outcome, error)
	ValidatedLedger(ctx context.Context) (*xrpl.LedgerInfo, error)
}

// Preflighter gates lock transactions on trust line state.
type Preflighter interface {
	Preflight(ctx context.Context, destination string, amount iou.Amount) (owner, issuer xrpl.Credential, err error)
	Currency() string
}

// SessionResolver maps a session token to its principal.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// Signers looks up signing credentials by address.
type Signers interface {
	Lookup(address string) (xrpl.Credential, error)
}

// Notifier receives lifecycle events.
type Notifier interface {
	BroadcastEscrow(eventType string, data map[string]interface{})
}

// Result is the outcome of a lifecycle operation. Done reports whether the
// escrow is in the state the caller asked for.
type Result struct {
	Escrow  *Escrow `json:"escrow"`
	Done    bool    `json:"done"`
	TxHash  string  `json:"txHash,omitempty"`
	Message string  `json:"message"`
}

// Service implements the escrow lifecycle.
type Service struct {
	registry    Registry
	ledger      Ledger
	preflight   Preflighter
	sessions    SessionResolver
	signers     Signers
	notifier    Notifier
	locks       *syncutil.KeyedMutex
	cancelAfter time.Duration
	conditions  func() (condition.Triple, error)
	now         func() time.Time
	logger      *slog.Logger
}

// NewService creates a new escrow service.
func NewService(registry Registry, ledger Ledger, preflight Preflighter, sessions SessionResolver, signers Signers) *Service {
	return &Service{
		registry:    registry,
		ledger:      ledger,
		preflight:   preflight,
		sessions:    sessions,
		signers:     signers,
		locks:       syncutil.NewKeyedMutex(),
		cancelAfter: DefaultCancelAfter,
		conditions:  condition.Generate,
		now:         time.Now,
		logger:      slog.Default(),
	}
}

// WithNotifier publishes lifecycle events to n.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// WithCancelAfter sets the reclaim delay applied to new escrows.
func (s *Service) WithCancelAfter(d time.Duration) *Service {
	if d > 0 {
		s.cancelAfter = d
	}
	return s
}

// Registry exposes the underlying registry for read-only callers.
func (s *Service) Registry() Registry { return s.registry }

// Create locks amount of the configured token for the session's principal.
func (s *Service) Create(ctx context.Context, token, amountStr string) (*Result, error) {
	destination, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	currency := s.preflight.Currency()
	amount, err := iou.ParsePositive(amountStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a positive numeric string", ErrInvalidAmount, currency)
	}

	ctx, span := traces.StartSpan(ctx, "escrow.Create",
		traces.Account(destination), traces.Amount(amount.String()))
	defer span.End()

	owner, issuer, err := s.preflight.Preflight(ctx, destination, amount)
	if err != nil {
		metrics.EscrowFailuresTotal.WithLabelValues("create", "preflight").Inc()
		return nil, err
	}

	triple, err := s.conditions()
	if err != nil {
		return nil, err
	}

	ledger, err := s.ledger.ValidatedLedger(ctx)
	if err != nil {
		return nil, err
	}
	cancelAfter := xrpl.FromRippleTime(ledger.CloseTime).Add(s.cancelAfter)

	tx := xrpl.EscrowCreate(owner.Address, destination,
		xrpl.IssuedAmount(currency, issuer.Address, amount.String()),
		triple.Condition, xrpl.ToRippleTime(cancelAfter))
	p, err := s.ledger.Prepare(ctx, owner, tx)
	if err != nil {
		return nil, err
	}
	// The offer sequence belongs to the signed transaction, not its result.
	offerSeq := p.Sequence

	// From here the blob may be on the network; its outcome is observed and
	// recorded even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	now := s.now()
	e := &Escrow{
		ID:            uuid.NewString(),
		Owner:         owner.Address,
		Destination:   destination,
		OfferSequence: offerSeq,
		Amount:        amount.String(),
		Currency:      currency,
		Issuer:        issuer.Address,
		Condition:     triple.Condition,
		Fulfillment:   triple.Fulfillment,
		Secret:        triple.Secret,
		State:         StateCreated,
		CreateTxID:    p.Hash,
		CancelAfter:   cancelAfter,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	res, err := s.ledger.SubmitAndWait(ctx, p)
	if err != nil {
		traces.Fail(span, err)
		if xrpl.Unresolved(err) {
			return nil, s.recordUnconfirmedLock(ctx, e, p, err)
		}
		metrics.EscrowFailuresTotal.WithLabelValues("create", "ledger").Inc()
		return nil, err
	}

	e.CreateTxID = res.Hash
	if err := s.registry.Insert(ctx, e); err != nil {
		// The lock exists on the ledger; keep enough to finish or cancel it by hand.
		s.logger.Error("escrow locked on ledger but not recorded",
			"owner", owner.Address, "destination", destination,
			"offer_sequence", offerSeq, "tx_hash", res.Hash, "error", err)
		return nil, fmt.Errorf("failed to record escrow: %w", err)
	}

	metrics.EscrowsTotal.WithLabelValues(string(StateCreated)).Inc()
	s.publish("escrow_created", e)
	s.logger.Info("escrow created",
		"escrow_id", e.ID, "owner", e.Owner, "destination", e.Destination,
		"offer_sequence", e.OfferSequence, "amount", e.Amount, "currency", currency, "tx_hash", res.Hash)

	return &Result{
		Escrow:  e,
		Done:    true,
		TxHash:  res.Hash,
		Message: fmt.Sprintf(MsgCreated, currency),
	}, nil
}

// recordUnconfirmedLock stores a lock whose outcome is unknown as a created
// escrow carrying a pending create attempt, so the condition material
// survives and a retry or the reconciliation sweep can settle it by hash.
func (s *Service) recordUnconfirmedLock(ctx context.Context, e *Escrow, p *xrpl.Prepared, cause error) error {
	metrics.EscrowFailuresTotal.WithLabelValues("create", "unconfirmed").Inc()
	e.PendingTx = &Attempt{
		Kind:               AttemptCreate,
		TxHash:             p.Hash,
		LastLedgerSequence: p.LastLedgerSequence,
		SubmittedAt:        e.CreatedAt,
	}
	if err := s.registry.Insert(ctx, e); err != nil {
		s.logger.Error("unconfirmed escrow lock not recorded",
			"owner", e.Owner, "destination", e.Destination,
			"offer_sequence", e.OfferSequence, "tx_hash", p.Hash, "error", err)
		return &PendingError{Kind: AttemptCreate, TxHash: p.Hash, Err: cause}
	}
	s.logger.Warn("escrow lock unconfirmed",
		"escrow_id", e.ID, "owner", e.Owner, "destination", e.Destination,
		"offer_sequence", e.OfferSequence, "tx_hash", p.Hash,
		"last_ledger_sequence", p.LastLedgerSequence, "error", cause)
	return &PendingError{EscrowID: e.ID, Kind: AttemptCreate, TxHash: p.Hash, Err: cause}
}

// Finish releases the escrow to its destination. Only the destination may
// finish; repeated calls return the first result.
func (s *Service) Finish(ctx context.Context, token, id string) (*Result, error) {
	principal, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	e, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Destination != principal {
		return nil, ErrForbidden
	}

	ctx, span := traces.StartSpan(ctx, "escrow.Finish", traces.EscrowID(id), traces.OfferSequence(e.OfferSequence))
	defer span.End()

	return s.settle(ctx, id, AttemptFinish)
}

// Cancel reclaims the escrow to its owner. Any authenticated caller may ask;
// the ledger refuses until the escrow has expired.
func (s *Service) Cancel(ctx context.Context, token, id string) (*Result, error) {
	if _, err := s.sessions.Resolve(ctx, token); err != nil {
		return nil, err
	}
	e, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	ctx, span := traces.StartSpan(ctx, "escrow.Cancel", traces.EscrowID(id), traces.OfferSequence(e.OfferSequence))
	defer span.End()

	return s.settle(ctx, id, AttemptCancel)
}

// Get returns an escrow visible to the session's principal.
func (s *Service) Get(ctx context.Context, token, id string) (*Escrow, error) {
	principal, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	e, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.Involves(principal) {
		return nil, ErrForbidden
	}
	return e, nil
}

// maxListWindow bounds how many of a party's escrows a page is cut from.
const maxListWindow = 1000

// Page is one slice of a party's escrows, newest first.
type Page struct {
	Escrows    []*Escrow `json:"escrows"`
	Count      int       `json:"count"`
	NextCursor string    `json:"nextCursor,omitempty"`
	HasMore    bool      `json:"hasMore"`
}

// List returns escrows involving the session's principal, newest first.
func (s *Service) List(ctx context.Context, token string, limit int) ([]*Escrow, error) {
	page, err := s.ListPage(ctx, token, limit, "")
	if err != nil {
		return nil, err
	}
	return page.Escrows, nil
}

// ListPage returns the page of the principal's escrows that follows cursor.
// An empty cursor starts from the newest escrow.
func (s *Service) ListPage(ctx context.Context, token string, limit int, cursor string) (*Page, error) {
	principal, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	after, err := pagination.Decode(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	all, err := s.registry.ListByParty(ctx, principal, maxListWindow)
	if err != nil {
		return nil, err
	}
	if after != nil {
		all = escrowsAfter(all, after)
	}

	items := all
	if len(items) > limit+1 {
		items = items[:limit+1]
	}
	escrows, next, more := pagination.ComputePage(items, limit, func(e *Escrow) (time.Time, string) {
		return e.CreatedAt, e.ID
	})
	if escrows == nil {
		escrows = []*Escrow{}
	}
	return &Page{Escrows: escrows, Count: len(escrows), NextCursor: next, HasMore: more}, nil
}

// escrowsAfter drops everything up to and including the cursor's escrow.
// If that escrow is not in the list, it falls back to creation time.
func escrowsAfter(list []*Escrow, c *pagination.Cursor) []*Escrow {
	for i, e := range list {
		if e.ID == c.ID {
			return list[i+1:]
		}
	}
	for i, e := range list {
		if e.CreatedAt.Before(c.CreatedAt) {
			return list[i:]
		}
	}
	return nil
}

// settle drives one escrow towards finished or canceled. Submissions for
// the same escrow are serialized, so a second caller waits and then sees
// the first caller's result.
func (s *Service) settle(ctx context.Context, id string, kind AttemptKind) (*Result, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	e, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	fresh := false
	if e.State == StateCreated && e.PendingTx != nil {
		if e, err = s.resolvePending(ctx, e); err != nil {
			return nil, err
		}
		fresh = e.IsTerminal()
	}
	if e.State == StateVoid {
		return nil, ErrEscrowVoid
	}
	if e.IsTerminal() {
		return settledResult(e, kind, fresh), nil
	}

	owner, err := s.signers.Lookup(e.Owner)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoSigner, e.Owner, err)
	}

	var tx *xrpl.Transaction
	if kind == AttemptFinish {
		tx = xrpl.EscrowFinish(owner.Address, e.Owner, e.OfferSequence, e.Condition, e.Fulfillment)
	} else {
		tx = xrpl.EscrowCancel(owner.Address, e.Owner, e.OfferSequence)
	}

	p, err := s.ledger.Prepare(ctx, owner, tx)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	res, err := s.ledger.SubmitAndWait(ctx, p)
	if err != nil {
		// Anything short of a final verdict may still validate, so the next
		// attempt must look the hash up instead of submitting again.
		if xrpl.Unresolved(err) {
			s.recordAttempt(ctx, e, Attempt{
				Kind:               kind,
				TxHash:             p.Hash,
				LastLedgerSequence: p.LastLedgerSequence,
				SubmittedAt:        s.now(),
			}, err)
			metrics.EscrowFailuresTotal.WithLabelValues(string(kind), "unconfirmed").Inc()
			return nil, &PendingError{EscrowID: id, Kind: kind, TxHash: p.Hash, Err: err}
		}
		metrics.EscrowFailuresTotal.WithLabelValues(string(kind), "ledger").Inc()
		s.logger.Warn("escrow "+string(kind)+" rejected",
			"escrow_id", id, "offer_sequence", e.OfferSequence, "tx_hash", xrpl.HashOf(err), "error", err)
		return nil, err
	}

	e, err = s.complete(ctx, id, kind, res.Hash)
	if err != nil {
		return nil, err
	}
	return settledResult(e, kind, true), nil
}

// complete moves a created escrow into the terminal state for kind. Losing
// the race to another transition returns the stored escrow as it is.
func (s *Service) complete(ctx context.Context, id string, kind AttemptKind, txHash string) (*Escrow, error) {
	to := StateFinished
	if kind == AttemptCancel {
		to = StateCanceled
	}
	now := s.now()
	e, err := s.registry.CompareAndTransition(ctx, id, StateCreated, to, func(e *Escrow) {
		if to == StateFinished {
			e.FinishTxID = txHash
		} else {
			e.CancelTxID = txHash
		}
		e.PendingTx = nil
		e.ResolvedAt = &now
	})
	if errors.Is(err, ErrStaleState) {
		s.logger.Warn("escrow transition lost race", "escrow_id", id, "to", to, "tx_hash", txHash)
		return s.registry.Get(ctx, id)
	}
	if err != nil {
		// The ledger has moved; the record must be repaired from the hash.
		s.logger.Error("escrow settled on ledger but transition failed",
			"escrow_id", id, "to", to, "tx_hash", txHash, "error", err)
		return nil, fmt.Errorf("failed to record escrow %s: %w", kind, err)
	}

	metrics.EscrowsTotal.WithLabelValues(string(to)).Inc()
	metrics.EscrowDuration.Observe(now.Sub(e.CreatedAt).Seconds())
	s.publish("escrow_"+string(to), e)
	s.logger.Info("escrow "+string(to),
		"escrow_id", id, "offer_sequence", e.OfferSequence, "tx_hash", txHash)
	return e, nil
}

func (s *Service) recordAttempt(ctx context.Context, e *Escrow, a Attempt, cause error) {
	_, err := s.registry.CompareAndTransition(ctx, e.ID, StateCreated, StateCreated, func(e *Escrow) {
		e.PendingTx = &a
	})
	if err != nil {
		s.logger.Error("failed to record pending escrow attempt",
			"escrow_id", e.ID, "kind", a.Kind, "tx_hash", a.TxHash, "error", err)
		return
	}
	s.logger.Warn("escrow submission unconfirmed",
		"escrow_id", e.ID, "kind", a.Kind, "offer_sequence", e.OfferSequence,
		"tx_hash", a.TxHash, "last_ledger_sequence", a.LastLedgerSequence, "error", cause)
}

// resolvePending asks the ledger what became of e's pending attempt. A
// release or reclaim that succeeded completes the escrow and a failed one
// clears the attempt. A lock that succeeded becomes an ordinary created
// escrow and a failed one becomes void. An unknown outcome is a
// PendingError.
func (s *Service) resolvePending(ctx context.Context, e *Escrow) (*Escrow, error) {
	a := e.PendingTx
	out, err := s.ledger.Outcome(ctx, a.TxHash, a.LastLedgerSequence)
	if err != nil {
		return nil, &PendingError{EscrowID: e.ID, Kind: a.Kind, TxHash: a.TxHash, Err: err}
	}

	if a.Kind == AttemptCreate && out.Status != xrpl.OutcomePending {
		return s.resolveLock(ctx, e, out)
	}

	switch out.Status {
	case xrpl.OutcomeSucceeded:
		return s.complete(ctx, e.ID, a.Kind, a.TxHash)

	case xrpl.OutcomeFailed, xrpl.OutcomeExpired:
		cleared, err := s.registry.CompareAndTransition(ctx, e.ID, StateCreated, StateCreated, func(e *Escrow) {
			e.PendingTx = nil
		})
		if errors.Is(err, ErrStaleState) {
			return s.registry.Get(ctx, e.ID)
		}
		if err != nil {
			return nil, err
		}
		s.logger.Info("pending escrow attempt did not apply",
			"escrow_id", e.ID, "kind", a.Kind, "tx_hash", a.TxHash,
			"status", out.Status, "engine_result", out.EngineResult)
		return cleared, nil
	}

	return nil, &PendingError{EscrowID: e.ID, Kind: a.Kind, TxHash: a.TxHash}
}

// resolveLock settles a pending create attempt from its ledger outcome.
func (s *Service) resolveLock(ctx context.Context, e *Escrow, out *xrpl.Outcome) (*Escrow, error) {
	a := e.PendingTx
	to := StateCreated
	if out.Status != xrpl.OutcomeSucceeded {
		to = StateVoid
	}
	now := s.now()
	resolved, err := s.registry.CompareAndTransition(ctx, e.ID, StateCreated, to, func(e *Escrow) {
		e.PendingTx = nil
		if to == StateVoid {
			e.ResolvedAt = &now
		}
	})
	if errors.Is(err, ErrStaleState) {
		return s.registry.Get(ctx, e.ID)
	}
	if err != nil {
		return nil, err
	}

	metrics.EscrowsTotal.WithLabelValues(string(to)).Inc()
	if to == StateCreated {
		s.publish("escrow_created", resolved)
		s.logger.Info("escrow created",
			"escrow_id", resolved.ID, "owner", resolved.Owner, "destination", resolved.Destination,
			"offer_sequence", resolved.OfferSequence, "amount", resolved.Amount, "tx_hash", a.TxHash)
	} else {
		s.logger.Warn("escrow lock never validated",
			"escrow_id", resolved.ID, "offer_sequence", resolved.OfferSequence, "tx_hash", a.TxHash,
			"status", out.Status, "engine_result", out.EngineResult)
	}
	return resolved, nil
}

// settledResult reports a terminal escrow to a finish or cancel caller.
// fresh is true when this call moved the escrow.
func settledResult(e *Escrow, kind AttemptKind, fresh bool) *Result {
	r := &Result{Escrow: e}
	switch {
	case kind == AttemptFinish && e.State == StateFinished:
		r.Done, r.TxHash, r.Message = true, e.FinishTxID, MsgAlreadyFinished
		if fresh {
			r.Message = MsgFinished
		}
	case kind == AttemptFinish && e.State == StateCanceled:
		r.TxHash, r.Message = e.CancelTxID, MsgAlreadyCanceled
	case kind == AttemptCancel && e.State == StateCanceled:
		r.Done, r.TxHash, r.Message = true, e.CancelTxID, MsgAlreadyCanceled
		if fresh {
			r.Message = MsgCanceled
		}
	case kind == AttemptCancel && e.State == StateFinished:
		r.TxHash, r.Message = e.FinishTxID, MsgAlreadySettled
	}
	return r
}

func (s *Service) publish(eventType string, e *Escrow) {
	if s.notifier == nil {
		return
	}
	data := map[string]interface{}{
		"escrowId":      e.ID,
		"owner":         e.Owner,
		"destination":   e.Destination,
		"offerSequence": e.OfferSequence,
		"amount":        e.Amount,
		"currency":      e.Currency,
		"state":         string(e.State),
	}
	switch e.State {
	case StateCreated:
		data["txHash"] = e.CreateTxID
	case StateFinished:
		data["txHash"] = e.FinishTxID
	case StateCanceled:
		data["txHash"] = e.CancelTxID
	}
	s.notifier.BroadcastEscrow(eventType, data)
}
