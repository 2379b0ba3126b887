package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps keys in process memory. Suitable for tests and single-instance development.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Acquire implements Store.
func (s *MemoryStore) Acquire(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, *Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *Entry
	if entry, ok := s.entries[key]; ok {
		existing = &entry
	}
	outcome, resp, err := decide(existing, fingerprint, now)
	if err != nil || outcome != OutcomeAcquired {
		return outcome, resp, err
	}
	s.entries[key] = pendingEntry(key, fingerprint, now, ttl)
	return OutcomeAcquired, nil, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *Entry
	if entry, ok := s.entries[key]; ok {
		if entry.Fingerprint != fingerprint {
			return ErrKeyReused
		}
		existing = &entry
	}
	s.entries[key] = doneEntry(existing, key, fingerprint, resp, now, ttl)
	return nil
}

// Forget implements Store.
func (s *MemoryStore) Forget(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Sweep implements Store.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if !entry.ExpiresAt.IsZero() && !now.Before(entry.ExpiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}
