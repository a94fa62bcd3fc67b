package cache

import (
	"context"
	"sync"
	"time"

	"github.com/leadflow/backend/internal/domain/shared"
)

// sweepEvery is how many claims pass between sweeps of expired keys
const sweepEvery = 256

// MemoryStore keeps finalization claims in process memory. It only
// deduplicates within one process; use it with the in-memory queue.
// Expired claims are dropped on lookup and by a sweep every sweepEvery
// claims, so no background goroutine is needed.
type MemoryStore struct {
	mu     sync.Mutex
	claims map[string]time.Time // key -> expiry
	claimN int
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{claims: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryStore) held(key string, at time.Time) bool {
	exp, ok := s.claims[key]
	if ok && !at.Before(exp) {
		delete(s.claims, key)
		return false
	}
	return ok
}

func (s *MemoryStore) MarkProcessed(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.held(key, now) {
		return false, nil
	}
	s.claims[key] = now.Add(ttl)
	if s.claimN++; s.claimN%sweepEvery == 0 {
		for k := range s.claims {
			s.held(k, now)
		}
	}
	return true, nil
}

func (s *MemoryStore) IsProcessed(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held(key, s.now()), nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.claims, key)
	s.mu.Unlock()
	return nil
}

// Len counts stored claims, expired ones not yet swept included
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claims)
}

func (s *MemoryStore) Close() error { return nil }

var _ shared.IdempotencyStore = (*MemoryStore)(nil)
