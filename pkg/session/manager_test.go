package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/aretw0/chatflow/pkg/domain"
)

// MockStore structure
type MockStore struct{}

func (m *MockStore) Save(ctx context.Context, s *domain.Session) error { return nil }
func (m *MockStore) Load(ctx context.Context, chatID string) (*domain.Session, error) {
	return nil, domain.ErrSessionNotFound
}
func (m *MockStore) Delete(ctx context.Context, chatID string) error { return nil }
func (m *MockStore) List(ctx context.Context) ([]string, error)      { return nil, nil }

func TestManager_LockLifecycle(t *testing.T) {
	mgr := NewManager(&MockStore{})
	ctx := context.Background()
	count := 10000

	// 1. Create and Delete many sessions
	for i := 0; i < count; i++ {
		chatID := fmt.Sprintf("chat-%d", i)
		_ = mgr.Save(ctx, &domain.Session{ChatID: chatID})
		_ = mgr.Delete(ctx, chatID)
	}

	// 2. Count locks remaining in map
	lockCount := len(mgr.locks)
	t.Logf("Sessions Created: %d, Locks Leaked: %d", count, lockCount)

	if lockCount != 0 {
		t.Errorf("Memory Leak Detected: %d locks remaining in memory after Delete", lockCount)
	}
}
