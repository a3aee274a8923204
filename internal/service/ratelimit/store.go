package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/shieldcustody/withdrawal-backend/internal/domain/values"
)

// WithdrawalRecord is one historical withdrawal used for window counting
type WithdrawalRecord struct {
	At     time.Time     `json:"at"`
	Amount values.Amount `json:"amount"`
}

// UserState is the per-user counter state. It is mutated only through
// Record; Check reads it after lazy cleanup.
type UserState struct {
	Withdrawals    []WithdrawalRecord `json:"withdrawals"`
	LastWithdrawal time.Time          `json:"last_withdrawal"`
}

// Clone returns a deep copy so callers can mutate freely
func (s *UserState) Clone() *UserState {
	if s == nil {
		return nil
	}
	clone := &UserState{LastWithdrawal: s.LastWithdrawal}
	if s.Withdrawals != nil {
		clone.Withdrawals = make([]WithdrawalRecord, len(s.Withdrawals))
		copy(clone.Withdrawals, s.Withdrawals)
	}
	return clone
}

// Store lets the per-user counters live outside process memory for
// multi-instance deployments. Check and Record form a read-then-write
// pair against the same record: without an atomic compare-and-set in
// the backing store this is a check-then-act race for concurrent
// requests on the same user. Deployments that need strict enforcement
// must back this with an atomic read-modify-write primitive.
type Store interface {
	// GetUserLimits returns the stored state, or nil if none exists
	GetUserLimits(ctx context.Context, userID string) (*UserState, error)
	// SetUserLimits overwrites the stored state
	SetUserLimits(ctx context.Context, userID string, state *UserState) error
	// Reset drops the state for one user
	Reset(ctx context.Context, userID string) error
	// ResetAll drops all stored state
	ResetAll(ctx context.Context) error
}

// memoryStore is the in-process default Store
type memoryStore struct {
	mu    sync.RWMutex
	users map[string]*UserState
}

// NewMemoryStore returns an in-process Store keyed per user
func NewMemoryStore() Store {
	return &memoryStore{users: make(map[string]*UserState)}
}

func (m *memoryStore) GetUserLimits(_ context.Context, userID string) (*UserState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users[userID].Clone(), nil
}

func (m *memoryStore) SetUserLimits(_ context.Context, userID string, state *UserState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = state.Clone()
	return nil
}

func (m *memoryStore) Reset(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, userID)
	return nil
}

func (m *memoryStore) ResetAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = make(map[string]*UserState)
	return nil
}
