package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/chatflow/internal/logging"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/robfig/cron/v3"
)

// Janitor deletes sessions idle for longer than a TTL on a cron schedule.
type Janitor struct {
	manager *Manager
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	cron    *cron.Cron
	onSweep func(removed int)
}

// JanitorOption configures a Janitor.
type JanitorOption func(*Janitor)

// WithJanitorClock injects the time source.
func WithJanitorClock(now func() time.Time) JanitorOption {
	return func(j *Janitor) { j.now = now }
}

// WithJanitorLogger sets the logger.
func WithJanitorLogger(logger *slog.Logger) JanitorOption {
	return func(j *Janitor) { j.logger = logger }
}

// WithSweepHook is called after each sweep with the number of removed sessions.
func WithSweepHook(fn func(removed int)) JanitorOption {
	return func(j *Janitor) { j.onSweep = fn }
}

// NewJanitor creates a janitor for sessions managed by m.
func NewJanitor(m *Manager, ttl time.Duration, opts ...JanitorOption) *Janitor {
	j := &Janitor{
		manager: m,
		ttl:     ttl,
		now:     time.Now,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Sweep removes every session whose last activity is older than the TTL.
// Each chat is checked under its lock so an in-flight message is never lost.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	chats, err := j.manager.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	cutoff := j.now().Add(-j.ttl)
	removed := 0
	for _, chatID := range chats {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		err := j.manager.WithLock(ctx, chatID, func(ctx context.Context) error {
			s, err := j.manager.Store().Load(ctx, chatID)
			if err != nil {
				if errors.Is(err, domain.ErrSessionNotFound) {
					return nil
				}
				return err
			}
			if !s.LastActivityAt.Before(cutoff) {
				return nil
			}
			if err := j.manager.Store().Delete(ctx, chatID); err != nil {
				return err
			}
			removed++
			return nil
		})
		if err != nil {
			j.logger.Warn("Failed to sweep session", "chat_id", chatID, "err", err)
		}
	}

	if j.onSweep != nil {
		j.onSweep(removed)
	}
	return removed, nil
}

// Start schedules Sweep with a cron expression (e.g. "@every 5m").
func (j *Janitor) Start(ctx context.Context, schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid janitor schedule '%s': %w", schedule, err)
	}

	j.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if _, err := j.cron.AddFunc(schedule, func() {
		removed, err := j.Sweep(ctx)
		if err != nil {
			j.logger.Error("Session sweep failed", "err", err)
			return
		}
		if removed > 0 {
			j.logger.Info("Removed idle sessions", "count", removed)
		}
	}); err != nil {
		return fmt.Errorf("failed to add janitor job: %w", err)
	}

	j.cron.Start()
	j.logger.Info("Session janitor started", "schedule", schedule, "ttl", j.ttl)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}
