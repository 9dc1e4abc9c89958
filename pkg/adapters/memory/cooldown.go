package memory

import (
	"context"
	"sync"
	"time"
)

// CooldownStore implements ports.CooldownStore in memory.
// Entries live for the process lifetime unless evicted.
type CooldownStore struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewCooldownStore creates an empty in-memory cooldown store.
func NewCooldownStore() *CooldownStore {
	return &CooldownStore{last: make(map[string]time.Time)}
}

func (s *CooldownStore) Get(ctx context.Context, chatID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.last[chatID]
	return at, ok, nil
}

// Set records the invocation. ttl is ignored: use Evict to reclaim memory.
func (s *CooldownStore) Set(ctx context.Context, chatID string, at time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[chatID] = at
	return nil
}

func (s *CooldownStore) Evict(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, at := range s.last {
		if at.Before(cutoff) {
			delete(s.last, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of tracked chats.
func (s *CooldownStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.last)
}
