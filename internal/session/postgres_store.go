package session

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore persists sessions in PostgreSQL. The table is created by
// the goose migrations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, s *Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (id, token_hash, principal, created_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.Hash, s.Principal, s.CreatedAt, s.ExpiresAt, s.Revoked)
	return err
}

func (p *PostgresStore) GetByHash(ctx context.Context, hash string) (*Session, error) {
	s := &Session{}
	var expiresAt sql.NullTime

	err := p.db.QueryRowContext(ctx, `
		SELECT id, token_hash, principal, created_at, expires_at, revoked
		FROM sessions WHERE token_hash = $1
	`, hash).Scan(&s.ID, &s.Hash, &s.Principal, &s.CreatedAt, &expiresAt, &s.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		s.ExpiresAt = &expiresAt.Time
	}
	return s, nil
}

func (p *PostgresStore) Revoke(ctx context.Context, hash string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE sessions SET revoked = TRUE WHERE token_hash = $1`, hash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
