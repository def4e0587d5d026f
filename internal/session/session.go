// Package session binds opaque bearer tokens to ledger principals.
//
// Tokens are shown to the caller once; only their SHA-256 hash is stored.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoSession      = errors.New("session token required")
	ErrInvalidSession = errors.New("invalid or expired session token")
	ErrNotFound       = errors.New("session not found")
)

const tokenPrefix = "st_"

// Session is a stored session. The raw token is never kept.
type Session struct {
	ID        string     `json:"id"`
	Hash      string     `json:"-"`
	Principal string     `json:"principal"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Revoked   bool       `json:"revoked"`
}

func (s *Session) expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// Store persists sessions.
type Store interface {
	Create(ctx context.Context, s *Session) error
	GetByHash(ctx context.Context, hash string) (*Session, error)
	Revoke(ctx context.Context, hash string) error
}

// Manager issues and resolves session tokens.
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewManager creates a manager. A zero ttl issues sessions that never expire.
func NewManager(store Store, ttl time.Duration) *Manager {
	return &Manager{store: store, ttl: ttl, now: time.Now}
}

// Issue creates a session for principal and returns the raw token.
func (m *Manager) Issue(ctx context.Context, principal string) (string, *Session, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}
	raw := tokenPrefix + hex.EncodeToString(b)

	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		Hash:      hashToken(raw),
		Principal: principal,
		CreatedAt: now,
	}
	if m.ttl > 0 {
		exp := now.Add(m.ttl)
		s.ExpiresAt = &exp
	}
	if err := m.store.Create(ctx, s); err != nil {
		return "", nil, err
	}
	return raw, s, nil
}

// Resolve returns the principal bound to token.
func (m *Manager) Resolve(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return "", ErrNoSession
	}
	if !strings.HasPrefix(token, tokenPrefix) {
		return "", ErrInvalidSession
	}

	s, err := m.store.GetByHash(ctx, hashToken(token))
	if errors.Is(err, ErrNotFound) {
		return "", ErrInvalidSession
	}
	if err != nil {
		return "", err
	}
	if s.Revoked || s.expired(m.now()) {
		return "", ErrInvalidSession
	}
	return s.Principal, nil
}

// Revoke invalidates token. Revoking an unknown token is ErrInvalidSession.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return ErrNoSession
	}
	err := m.store.Revoke(ctx, hashToken(token))
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidSession
	}
	return err
}

func hashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	byHash map[string]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byHash: make(map[string]*Session)}
}

func (s *MemoryStore) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.byHash[sess.Hash] = &cp
	return nil
}

func (s *MemoryStore) GetByHash(_ context.Context, hash string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) Revoke(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byHash[hash]
	if !ok {
		return ErrNotFound
	}
	sess.Revoked = true
	return nil
}
