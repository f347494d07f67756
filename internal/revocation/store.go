package revocation

import (
	"context"
	"sync"
	"time"
)

// Store tracks invalidated token ids until their natural expiry. A revoke
// followed by an immediate IsRevoked from the same process must observe the
// write.
type Store interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// MemoryStore is the in-process Store. Entries past their expiry are
// harmless, since the token they block is itself expired, so purging only
// bounds memory: lazily on lookup, proactively via RunJanitor.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke records the token id until expiresAt. A later expiry extends an
// existing entry, never shortens it.
func (s *MemoryStore) Revoke(_ context.Context, tokenID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.entries[tokenID]; !ok || expiresAt.After(current) {
		s.entries[tokenID] = expiresAt
	}
	return nil
}

// IsRevoked reports whether the token id is currently blocked.
func (s *MemoryStore) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	expiresAt, ok := s.entries[tokenID]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if s.now().After(expiresAt) {
		s.mu.Lock()
		if exp, still := s.entries[tokenID]; still && s.now().After(exp) {
			delete(s.entries, tokenID)
		}
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// Purge drops entries past their expiry and returns how many were removed.
func (s *MemoryStore) Purge() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, exp := range s.entries {
		if now.After(exp) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// RunJanitor purges expired entries on the given interval until the context
// is cancelled.
func (s *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Purge()
		}
	}
}
