package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/chatflow/pkg/domain"
)

// FlowStore implements ports.FlowStore in memory.
// Safe for concurrent use.
type FlowStore struct {
	mu       sync.RWMutex
	flows    map[string]*domain.Flow
	activeID string
}

// NewFlowStore creates an empty in-memory flow store, optionally seeded with flows.
// Seeded flows keep their Active flag; the last active one wins.
func NewFlowStore(seed ...*domain.Flow) *FlowStore {
	s := &FlowStore{flows: make(map[string]*domain.Flow)}
	now := time.Now().UTC()
	for _, f := range seed {
		c := f.Clone()
		if c.Version == 0 {
			c.Version = 1
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
			c.UpdatedAt = now
		}
		s.flows[c.ID] = c
		if c.Active {
			s.activeID = c.ID
		}
	}
	for id, f := range s.flows {
		f.Active = id == s.activeID
	}
	return s
}

func (s *FlowStore) List(ctx context.Context) ([]domain.FlowSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.FlowSummary, 0, len(s.flows))
	for _, f := range s.flows {
		out = append(out, f.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FlowStore) Get(ctx context.Context, id string) (*domain.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flows[id]
	if !ok {
		return nil, domain.ErrFlowNotFound
	}
	return f.Clone(), nil
}

func (s *FlowStore) Save(ctx context.Context, flow *domain.Flow) (*domain.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	stored := flow.Clone()
	stored.Version = 1
	stored.CreatedAt = now
	if prev, ok := s.flows[flow.ID]; ok {
		stored.Version = prev.Version + 1
		stored.CreatedAt = prev.CreatedAt
	}
	stored.UpdatedAt = now
	stored.Active = stored.ID == s.activeID

	s.flows[stored.ID] = stored
	return stored.Clone(), nil
}

func (s *FlowStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flows[id]; !ok {
		return domain.ErrFlowNotFound
	}
	if s.activeID == id {
		return domain.ErrFlowInUse
	}
	delete(s.flows, id)
	return nil
}

func (s *FlowStore) Activate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flows[id]; !ok {
		return domain.ErrFlowNotFound
	}
	if prev, ok := s.flows[s.activeID]; ok {
		prev.Active = false
	}
	s.flows[id].Active = true
	s.activeID = id
	return nil
}

func (s *FlowStore) Active(ctx context.Context) (*domain.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flows[s.activeID]
	if !ok {
		return nil, domain.ErrNoActiveFlow
	}
	return f.Clone(), nil
}
