package withdrawal

import (
	"context"
	"sync"
	"time"

	"github.com/shieldcustody/withdrawal-backend/internal/domain/withdrawal"
)

type cachedResult struct {
	result    withdrawal.Result
	expiresAt time.Time // zero means no expiry
}

// memoryIdempotencyStore keeps results in process memory. Expired
// entries are dropped lazily on read. Results are stored and returned
// by value so cached outcomes cannot be mutated after the fact.
type memoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]cachedResult
	now     func() time.Time
}

// NewMemoryIdempotencyStore returns an in-process IdempotencyStore
func NewMemoryIdempotencyStore() IdempotencyStore {
	return &memoryIdempotencyStore{
		entries: make(map[string]cachedResult),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *memoryIdempotencyStore) Get(_ context.Context, key string) (*withdrawal.Result, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	result := entry.result
	return &result, true, nil
}

func (m *memoryIdempotencyStore) Set(_ context.Context, key string, result *withdrawal.Result, ttl time.Duration) error {
	entry := cachedResult{result: *result}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

func (m *memoryIdempotencyStore) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	return ok, err
}

func (m *memoryIdempotencyStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}
