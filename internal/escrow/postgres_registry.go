package escrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresRegistry persists escrows in PostgreSQL. The fulfillment and
// secret columns make the database as sensitive as the wallet seeds.
type PostgresRegistry struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRegistry creates a PostgreSQL-backed registry.
func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db, now: time.Now}
}

const escrowColumns = `id, owner_addr, destination_addr, offer_sequence, amount, currency, issuer,
		       condition, fulfillment, secret, state, create_tx_id, finish_tx_id, cancel_tx_id,
		       cancel_after, pending_kind, pending_tx_hash, pending_last_ledger, pending_submitted_at,
		       created_at, updated_at, resolved_at`

func (p *PostgresRegistry) Insert(ctx context.Context, e *Escrow) error {
	kind, hash, lls, submitted := pendingColumns(e.PendingTx)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows (`+escrowColumns+`) VALUES (
			$1, $2, $3, $4, $5::NUMERIC, $6, $7,
			$8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19,
			$20, $21, $22
		)`,
		e.ID, e.Owner, e.Destination, int64(e.OfferSequence), e.Amount, e.Currency, e.Issuer,
		e.Condition, e.Fulfillment, e.Secret, string(e.State), e.CreateTxID,
		nullString(e.FinishTxID), nullString(e.CancelTxID),
		e.CancelAfter, kind, hash, lls, submitted,
		e.CreatedAt, e.UpdatedAt, nullTime(e.ResolvedAt),
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateEscrow
	}
	return err
}

func (p *PostgresRegistry) Get(ctx context.Context, id string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	e, err := scanEscrow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEscrowNotFound
	}
	return e, err
}

// CompareAndTransition locks the row, checks its state and writes the
// mutated escrow in one transaction. The UPDATE repeats the state guard so
// a concurrent writer without the row lock still cannot slip in.
func (p *PostgresRegistry) CompareAndTransition(ctx context.Context, id string, from, to State, mutate func(*Escrow)) (*Escrow, error) {
	if err := validTransition(from, to); err != nil {
		return nil, err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanEscrow(tx.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}
	if cur.State != from {
		return nil, ErrStaleState
	}

	next := applyTransition(cur, to, p.now(), mutate)
	kind, hash, lls, submitted := pendingColumns(next.PendingTx)
	res, err := tx.ExecContext(ctx, `
		UPDATE escrows SET
			state = $1, finish_tx_id = $2, cancel_tx_id = $3,
			pending_kind = $4, pending_tx_hash = $5, pending_last_ledger = $6, pending_submitted_at = $7,
			updated_at = $8, resolved_at = $9
		WHERE id = $10 AND state = $11`,
		string(next.State), nullString(next.FinishTxID), nullString(next.CancelTxID),
		kind, hash, lls, submitted,
		next.UpdatedAt, nullTime(next.ResolvedAt),
		id, string(from),
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrStaleState
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit escrow transition: %w", err)
	}
	return next, nil
}

// ListByParty returns escrows where addr is owner or destination, newest
// first. A limit of zero or less returns all of them.
func (p *PostgresRegistry) ListByParty(ctx context.Context, addr string, limit int) ([]*Escrow, error) {
	// LIMIT NULL is no limit.
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE owner_addr = $1 OR destination_addr = $1
		ORDER BY created_at DESC, offer_sequence DESC
		LIMIT $2`, addr, lim)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEscrows(rows)
}

func (p *PostgresRegistry) ListPendingAttempts(ctx context.Context, limit int) ([]*Escrow, error) {
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE state = 'created' AND pending_tx_hash IS NOT NULL
		ORDER BY pending_submitted_at ASC
		LIMIT $1`, lim)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEscrows(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEscrow(sc scanner) (*Escrow, error) {
	e := &Escrow{}
	var (
		state                  string
		offerSeq               int64
		finishTx, cancelTx     sql.NullString
		pendingKind, pendingTx sql.NullString
		pendingLLS             sql.NullInt64
		pendingAt, resolvedAt  sql.NullTime
	)
	err := sc.Scan(
		&e.ID, &e.Owner, &e.Destination, &offerSeq, &e.Amount, &e.Currency, &e.Issuer,
		&e.Condition, &e.Fulfillment, &e.Secret, &state, &e.CreateTxID, &finishTx, &cancelTx,
		&e.CancelAfter, &pendingKind, &pendingTx, &pendingLLS, &pendingAt,
		&e.CreatedAt, &e.UpdatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	e.State = State(state)
	e.OfferSequence = uint32(offerSeq)
	e.FinishTxID = finishTx.String
	e.CancelTxID = cancelTx.String
	if pendingTx.Valid {
		e.PendingTx = &Attempt{
			Kind:               AttemptKind(pendingKind.String),
			TxHash:             pendingTx.String,
			LastLedgerSequence: uint32(pendingLLS.Int64),
			SubmittedAt:        pendingAt.Time,
		}
	}
	if resolvedAt.Valid {
		e.ResolvedAt = &resolvedAt.Time
	}
	return e, nil
}

func scanEscrows(rows *sql.Rows) ([]*Escrow, error) {
	var result []*Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func pendingColumns(a *Attempt) (kind, hash sql.NullString, lls sql.NullInt64, submitted sql.NullTime) {
	if a == nil {
		return
	}
	kind = sql.NullString{String: string(a.Kind), Valid: true}
	hash = sql.NullString{String: a.TxHash, Valid: true}
	lls = sql.NullInt64{Int64: int64(a.LastLedgerSequence), Valid: true}
	submitted = sql.NullTime{Time: a.SubmittedAt, Valid: true}
	return
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
