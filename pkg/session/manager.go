package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/aretw0/chatflow/internal/logging"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/ports"
)

// DefaultLockTTL bounds how long a distributed chat lock survives a crashed holder.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager serializes access to chat sessions, ensuring that events of the same chat
// never interleave while different chats proceed in parallel.
// It uses Reference Counting to garbage collect unused locks.
type Manager struct {
	store ports.SessionStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger // Logger for internal events (like deferred errors)
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the expiry of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new Session Manager with the given persistence store.
func NewManager(store ports.SessionStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(), // Default to no-op
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(chatID) after unlocking.
func (m *Manager) acquire(chatID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[chatID]
	if !exists {
		entry = &lockEntry{}
		m.locks[chatID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[chatID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, chatID)
	}
}

// Load retrieves an existing session from the store.
func (m *Manager) Load(ctx context.Context, chatID string) (*domain.Session, error) {
	var s *domain.Session
	err := m.WithLock(ctx, chatID, func(ctx context.Context) error {
		var err error
		s, err = m.store.Load(ctx, chatID)
		return err
	})
	return s, err
}

// LoadOrNew loads the chat's session or returns a fresh idle one.
// The fresh session is not persisted; the caller saves it after its first transition.
// It must be called while holding the chat lock (see WithLock).
func (m *Manager) LoadOrNew(ctx context.Context, chatID string, now time.Time) (*domain.Session, bool, error) {
	s, err := m.store.Load(ctx, chatID)
	if err == nil {
		return s, false, nil
	}
	if !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, false, fmt.Errorf("failed to check session existence: %w", err)
	}
	return domain.NewSession(chatID, now), true, nil
}

// Save persists the session.
func (m *Manager) Save(ctx context.Context, s *domain.Session) error {
	return m.WithLock(ctx, s.ChatID, func(ctx context.Context) error {
		return m.store.Save(ctx, s)
	})
}

// Delete removes the session from the store. It is idempotent.
func (m *Manager) Delete(ctx context.Context, chatID string) error {
	return m.WithLock(ctx, chatID, func(ctx context.Context) error {
		return m.store.Delete(ctx, chatID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying session store.
// Calls made inside WithLock must use it directly: the chat lock is not reentrant.
func (m *Manager) Store() ports.SessionStore {
	return m.store
}

// WithLock executes a function while holding the lock for the chat.
func (m *Manager) WithLock(ctx context.Context, chatID string, fn func(context.Context) error) error {
	entry := m.acquire(chatID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(chatID)
	}()

	// Distributed Locking
	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, chatID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"chat_id", chatID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
