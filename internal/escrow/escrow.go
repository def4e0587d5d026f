// Package escrow runs the lifecycle of conditional token escrows on the
// XRP Ledger.
//
// Lifecycle:
//  1. Create: preflight trust lines, lock the tokens under a fresh
//     PREIMAGE-SHA-256 condition, record the escrow as created
//  2. Finish: the destination presents a session; the fulfillment is
//     submitted and the tokens are released to the destination
//  3. Cancel: after expiry the lock is reclaimed to the owner
//
// Finished and canceled are terminal and mutually exclusive. A lock whose
// confirmation was not observed is recorded as created with a pending
// attempt; if the ledger later shows it never applied, the escrow is void.
// Every state change goes through Registry.CompareAndTransition after a
// validated ledger result.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrEscrowNotFound    = errors.New("escrow not found")
	ErrForbidden         = errors.New("not authorized for this escrow")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrStaleState        = errors.New("escrow state changed concurrently")
	ErrInvalidTransition = errors.New("invalid escrow state transition")
	ErrDuplicateEscrow   = errors.New("escrow already exists")
	ErrUnknownDecision   = errors.New("unknown decision")
	ErrSubmissionPending = errors.New("ledger confirmation pending")
	ErrNoSigner          = errors.New("no signing key for escrow owner")
	ErrInvalidCursor     = errors.New("invalid cursor")
	ErrEscrowVoid        = errors.New("escrow lock never validated on the ledger")
)

// State is the lifecycle state of an escrow.
type State string

const (
	StateCreated  State = "created"
	StateFinished State = "finished"
	StateCanceled State = "canceled"
	StateVoid     State = "void"
)

// AttemptKind names the transaction behind a pending attempt.
type AttemptKind string

const (
	AttemptCreate AttemptKind = "create"
	AttemptFinish AttemptKind = "finish"
	AttemptCancel AttemptKind = "cancel"
)

// Attempt is a lock, release or reclaim submission whose ledger outcome was
// not observed. It is bookkeeping on a created
// escrow, never a state of its own.
type Attempt struct {
	Kind               AttemptKind `json:"kind"`
	TxHash             string      `json:"txHash"`
	LastLedgerSequence uint32      `json:"lastLedgerSequence"`
	SubmittedAt        time.Time   `json:"submittedAt"`
}

// Escrow is one on-ledger token lock. Owner and OfferSequence identify the
// lock on the ledger; ID is local.
type Escrow struct {
	ID            string     `json:"id"`
	Owner         string     `json:"owner"`
	Destination   string     `json:"destination"`
	OfferSequence uint32     `json:"offerSequence"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	Issuer        string     `json:"issuer"`
	Condition     string     `json:"condition"`
	Fulfillment   string     `json:"-"`
	Secret        string     `json:"-"`
	State         State      `json:"state"`
	CreateTxID    string     `json:"createTxId"`
	FinishTxID    string     `json:"finishTxId,omitempty"`
	CancelTxID    string     `json:"cancelTxId,omitempty"`
	CancelAfter   time.Time  `json:"cancelAfter"`
	PendingTx     *Attempt   `json:"-"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`
}

// IsTerminal returns true once the escrow is finished or canceled.
func (e *Escrow) IsTerminal() bool {
	return e.State == StateFinished || e.State == StateCanceled
}

// Involves reports whether addr is the owner or destination.
func (e *Escrow) Involves(addr string) bool {
	return addr != "" && (e.Owner == addr || e.Destination == addr)
}

func (e *Escrow) clone() *Escrow {
	cp := *e
	if e.PendingTx != nil {
		a := *e.PendingTx
		cp.PendingTx = &a
	}
	if e.ResolvedAt != nil {
		t := *e.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// Registry stores escrows. CompareAndTransition is the only way to change
// a stored escrow.
type Registry interface {
	Insert(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	// CompareAndTransition atomically checks the current state is from,
	// applies mutate to a copy and stores it in state to. It returns
	// ErrStaleState when the current state differs.
	CompareAndTransition(ctx context.Context, id string, from, to State, mutate func(*Escrow)) (*Escrow, error)
	// ListByParty and ListPendingAttempts return everything when limit is
	// zero or less.
	ListByParty(ctx context.Context, addr string, limit int) ([]*Escrow, error)
	ListPendingAttempts(ctx context.Context, limit int) ([]*Escrow, error)
}

func validTransition(from, to State) error {
	if from == StateCreated && (to == StateCreated || to == StateFinished || to == StateCanceled || to == StateVoid) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// applyTransition returns the escrow cur becomes. Identity, ledger
// reference, amount and condition material are kept from cur whatever
// mutate does.
func applyTransition(cur *Escrow, to State, now time.Time, mutate func(*Escrow)) *Escrow {
	next := cur.clone()
	if mutate != nil {
		mutate(next)
	}
	next.ID = cur.ID
	next.Owner = cur.Owner
	next.Destination = cur.Destination
	next.OfferSequence = cur.OfferSequence
	next.Amount = cur.Amount
	next.Currency = cur.Currency
	next.Issuer = cur.Issuer
	next.Condition = cur.Condition
	next.Fulfillment = cur.Fulfillment
	next.Secret = cur.Secret
	next.CreateTxID = cur.CreateTxID
	next.CancelAfter = cur.CancelAfter
	next.CreatedAt = cur.CreatedAt
	next.State = to
	next.UpdatedAt = now
	return next
}

// PendingError means a submission was sent but its ledger outcome is not
// known yet. The transaction may still validate; a retry resolves it by
// hash before submitting anything new.
type PendingError struct {
	EscrowID string
	Kind     AttemptKind
	TxHash   string
	Err      error
}

func (e *PendingError) Error() string {
	msg := fmt.Sprintf("escrow %s: ledger confirmation pending (tx %s)", e.Kind, e.TxHash)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PendingError) Is(target error) bool { return target == ErrSubmissionPending }

func (e *PendingError) Unwrap() error { return e.Err }
