// Package cooldown throttles generative-AI calls per chat.
package cooldown

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/chatflow/internal/logging"
	"github.com/aretw0/chatflow/pkg/ports"
	"github.com/robfig/cron/v3"
)

// DefaultWindow is the minimum interval between two AI calls for one chat.
const DefaultWindow = 4 * time.Second

// Guard decides whether a chat may invoke the AI responder now.
// Check-and-record is atomic per chat within a Guard; different chats never wait on each other.
type Guard struct {
	store  ports.CooldownStore
	window time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*chatLock
	cron  *cron.Cron
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Guard.
type Option func(*Guard)

// WithWindow sets the cooldown window.
func WithWindow(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.window = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithLogger sets the logger used to report store failures.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a Guard backed by store.
func New(store ports.CooldownStore, opts ...Option) *Guard {
	g := &Guard{
		store:  store,
		window: DefaultWindow,
		now:    time.Now,
		logger: logging.NewNop(),
		locks:  make(map[string]*chatLock),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Window returns the configured window.
func (g *Guard) Window() time.Duration {
	return g.window
}

// Allow returns true and records the call when the chat has no previous call
// or its previous call is strictly older than the window.
// Store failures deny the call.
func (g *Guard) Allow(ctx context.Context, chatID string) bool {
	l := g.acquire(chatID)
	l.mu.Lock()
	defer func() {
		l.mu.Unlock()
		g.release(chatID)
	}()

	now := g.now()
	last, ok, err := g.store.Get(ctx, chatID)
	if err != nil {
		g.logger.Warn("cooldown lookup failed, denying", "chat_id", chatID, "err", err)
		return false
	}
	if ok && now.Sub(last) <= g.window {
		return false
	}

	if err := g.store.Set(ctx, chatID, now, g.window); err != nil {
		g.logger.Warn("cooldown record failed, denying", "chat_id", chatID, "err", err)
		return false
	}
	return true
}

func (g *Guard) acquire(chatID string) *chatLock {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.locks[chatID]
	if !ok {
		l = &chatLock{}
		g.locks[chatID] = l
	}
	l.refs++
	return l
}

func (g *Guard) release(chatID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.locks[chatID]
	if !ok {
		return
	}
	l.refs--
	if l.refs <= 0 {
		delete(g.locks, chatID)
	}
}

// Sweep evicts entries that can no longer deny a call.
func (g *Guard) Sweep(ctx context.Context) (int, error) {
	return g.store.Evict(ctx, g.now().Add(-g.window))
}

// Start schedules Sweep with a cron expression (e.g. "@every 1m").
func (g *Guard) Start(ctx context.Context, schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cooldown sweep schedule '%s': %w", schedule, err)
	}

	g.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))
	if _, err := g.cron.AddFunc(schedule, func() {
		removed, err := g.Sweep(ctx)
		if err != nil {
			g.logger.Error("Cooldown sweep failed", "err", err)
			return
		}
		if removed > 0 {
			g.logger.Debug("Evicted cooldown entries", "count", removed)
		}
	}); err != nil {
		return fmt.Errorf("failed to add cooldown sweep job: %w", err)
	}

	g.cron.Start()
	g.logger.Info("Cooldown sweep started", "schedule", schedule, "window", g.window)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (g *Guard) Stop() {
	if g.cron == nil {
		return
	}
	<-g.cron.Stop().Done()
}
