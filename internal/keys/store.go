package keys

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by a Store when no entry exists for an account.
var ErrNotFound = errors.New("keys: not found")

// Store is the per-account key-value storage injected into a Manager. Values
// are opaque to the store.
type Store interface {
	Put(ctx context.Context, account string, value []byte) error
	Get(ctx context.Context, account string) ([]byte, error)
	Delete(ctx context.Context, account string) error
	Has(ctx context.Context, account string) (bool, error)
}

// MemoryStore keeps entries in process memory. It is meant for tests and
// ephemeral sessions.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, account string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := make([]byte, len(value))
	copy(v, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[account] = v
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, account string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[account]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, account string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.entries[account]; ok {
		for i := range v {
			v[i] = 0
		}
		delete(s.entries, account)
	}
	return nil
}

func (s *MemoryStore) Has(ctx context.Context, account string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[account]
	return ok, nil
}
