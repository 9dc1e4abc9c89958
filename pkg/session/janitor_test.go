package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/chatflow/pkg/adapters/memory"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitor_Sweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	manager := session.NewManager(memory.NewStore())

	require.NoError(t, manager.Save(ctx, domain.NewSession("stale", now.Add(-2*time.Hour))))
	require.NoError(t, manager.Save(ctx, domain.NewSession("recent", now.Add(-10*time.Minute))))

	var reported int
	j := session.NewJanitor(manager, time.Hour,
		session.WithJanitorClock(func() time.Time { return now }),
		session.WithSweepHook(func(n int) { reported = n }),
	)

	removed, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, reported)

	chats, err := manager.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"recent"}, chats)
}

func TestJanitor_StartRejectsBadSchedule(t *testing.T) {
	j := session.NewJanitor(session.NewManager(memory.NewStore()), time.Hour)
	assert.Error(t, j.Start(context.Background(), "not a schedule"))
	j.Stop()
}

func TestJanitor_StartStop(t *testing.T) {
	j := session.NewJanitor(session.NewManager(memory.NewStore()), time.Hour)
	require.NoError(t, j.Start(context.Background(), "@every 1h"))
	j.Stop()
}
