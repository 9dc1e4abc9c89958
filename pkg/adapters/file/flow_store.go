package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/chatflow/pkg/domain"
)

const activeFile = "ACTIVE"

// FlowStore implements ports.FlowStore on the local filesystem.
// Each flow is a JSON document; the active flow id lives in a separate file
// replaced atomically, so activation is a single rename.
type FlowStore struct {
	BasePath string
	mu       sync.Mutex
}

// NewFlowStore creates a flow store rooted at basePath (default ".chatflow/flows").
func NewFlowStore(basePath string) *FlowStore {
	if basePath == "" {
		basePath = filepath.Join(".chatflow", "flows")
	}
	return &FlowStore{BasePath: basePath}
}

func (s *FlowStore) activeID() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.BasePath, activeFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read active flow marker: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FlowStore) read(id string) (*domain.Flow, error) {
	data, err := os.ReadFile(filepath.Join(s.BasePath, fileName(id)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrFlowNotFound
		}
		return nil, fmt.Errorf("failed to read flow file: %w", err)
	}
	var flow domain.Flow
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow %s: %w", id, err)
	}
	return &flow, nil
}

func (s *FlowStore) List(ctx context.Context) ([]domain.FlowSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.activeID()
	if err != nil {
		return nil, err
	}
	ids, err := listIDs(s.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	out := make([]domain.FlowSummary, 0, len(ids))
	for _, id := range ids {
		f, err := s.read(id)
		if err != nil {
			return nil, err
		}
		f.Active = f.ID == active
		out = append(out, f.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FlowStore) Get(ctx context.Context, id string) (*domain.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *FlowStore) get(id string) (*domain.Flow, error) {
	f, err := s.read(id)
	if err != nil {
		return nil, err
	}
	active, err := s.activeID()
	if err != nil {
		return nil, err
	}
	f.Active = f.ID == active
	return f, nil
}

func (s *FlowStore) Save(ctx context.Context, flow *domain.Flow) (*domain.Flow, error) {
	if flow.ID == "" {
		return nil, fmt.Errorf("flow id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	stored := flow.Clone()
	stored.Version = 1
	stored.CreatedAt = now
	prev, err := s.read(flow.ID)
	switch {
	case err == nil:
		stored.Version = prev.Version + 1
		stored.CreatedAt = prev.CreatedAt
	case !errors.Is(err, domain.ErrFlowNotFound):
		return nil, err
	}
	stored.UpdatedAt = now
	stored.Active = false

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal flow: %w", err)
	}
	if err := writeAtomic(s.BasePath, fileName(stored.ID), data); err != nil {
		return nil, fmt.Errorf("failed to save flow %s: %w", stored.ID, err)
	}

	active, err := s.activeID()
	if err != nil {
		return nil, err
	}
	stored.Active = stored.ID == active
	return stored, nil
}

// Delete removes a stored flow. The flow named by the ACTIVE marker returns domain.ErrFlowInUse.
func (s *FlowStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.BasePath, fileName(id))
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return domain.ErrFlowNotFound
		}
		return fmt.Errorf("failed to stat flow file: %w", err)
	}
	active, err := s.activeID()
	if err != nil {
		return err
	}
	if active == id {
		return domain.ErrFlowInUse
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return domain.ErrFlowNotFound
		}
		return fmt.Errorf("failed to delete flow file: %w", err)
	}
	return nil
}

func (s *FlowStore) Activate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(filepath.Join(s.BasePath, fileName(id))); err != nil {
		if os.IsNotExist(err) {
			return domain.ErrFlowNotFound
		}
		return fmt.Errorf("failed to stat flow file: %w", err)
	}
	if err := writeAtomic(s.BasePath, activeFile, []byte(id+"\n")); err != nil {
		return fmt.Errorf("failed to activate flow %s: %w", id, err)
	}
	return nil
}

func (s *FlowStore) Active(ctx context.Context) (*domain.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.activeID()
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, domain.ErrNoActiveFlow
	}
	f, err := s.get(id)
	if errors.Is(err, domain.ErrFlowNotFound) {
		return nil, domain.ErrNoActiveFlow
	}
	return f, err
}
