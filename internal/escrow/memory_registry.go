package escrow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry is an in-memory registry for development and tests.
type MemoryRegistry struct {
	mu      sync.RWMutex
	escrows map[string]*Escrow
	now     func() time.Time
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		escrows: make(map[string]*Escrow),
		now:     time.Now,
	}
}

func (m *MemoryRegistry) Insert(_ context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.escrows[e.ID]; ok {
		return ErrDuplicateEscrow
	}
	m.escrows[e.ID] = e.clone()
	return nil
}

func (m *MemoryRegistry) Get(_ context.Context, id string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.escrows[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return e.clone(), nil
}

func (m *MemoryRegistry) CompareAndTransition(_ context.Context, id string, from, to State, mutate func(*Escrow)) (*Escrow, error) {
	if err := validTransition(from, to); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.escrows[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	if cur.State != from {
		return nil, ErrStaleState
	}
	next := applyTransition(cur, to, m.now(), mutate)
	m.escrows[id] = next
	return next.clone(), nil
}

// ListByParty returns escrows where addr is owner or destination, newest
// first.
func (m *MemoryRegistry) ListByParty(_ context.Context, addr string, limit int) ([]*Escrow, error) {
	m.mu.RLock()
	var result []*Escrow
	for _, e := range m.escrows {
		if e.Involves(addr) {
			result = append(result, e.clone())
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListPendingAttempts returns created escrows carrying a pending attempt,
// oldest attempt first.
func (m *MemoryRegistry) ListPendingAttempts(_ context.Context, limit int) ([]*Escrow, error) {
	m.mu.RLock()
	var result []*Escrow
	for _, e := range m.escrows {
		if e.State == StateCreated && e.PendingTx != nil {
			result = append(result, e.clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].PendingTx.SubmittedAt.Before(result[j].PendingTx.SubmittedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func sortNewestFirst(es []*Escrow) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].CreatedAt.Equal(es[j].CreatedAt) {
			return es[i].OfferSequence > es[j].OfferSequence
		}
		return es[i].CreatedAt.After(es[j].CreatedAt)
	})
}
