package cli

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/chatflow/internal/config"
	"github.com/aretw0/chatflow/internal/logging"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/dsl"
	"github.com/aretw0/chatflow/pkg/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func welcomeFlow() *domain.Flow {
	return &domain.Flow{
		ID:   "welcome",
		Name: "Welcome",
		Nodes: []domain.Node{
			{ID: "t", Kind: domain.KindTrigger, Payload: domain.TriggerPayload{Phrase: "hi"}},
			{ID: "m", Kind: domain.KindMessage, Payload: domain.MessagePayload{Text: "Welcome!"}},
		},
		Connections: []domain.Connection{{From: "t", FromPort: 0, To: "m"}},
	}
}

func newRuntime(t *testing.T, cfg *config.Config) *Runtime {
	t.Helper()
	require.NoError(t, cfg.Validate())
	rt, err := NewRuntime(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func TestNewRuntime_FileBackends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Flows.Backend = config.BackendFile
	cfg.Flows.Dir = dir + "/flows"
	cfg.Sessions.Backend = config.BackendFile
	cfg.Sessions.Dir = dir + "/sessions"

	rt := newRuntime(t, cfg)
	_, err := rt.Engine.SaveFlow(ctx, welcomeFlow())
	require.NoError(t, err)
	_, err = rt.Engine.ActivateFlow(ctx, "welcome")
	require.NoError(t, err)

	// A second runtime over the same directories restores the active flow.
	second := newRuntime(t, cfg)
	res, err := second.Engine.HandleMessage(ctx, domain.InboundEvent{ChatID: "c1", Text: "hi"})
	require.NoError(t, err)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, "Welcome!", res.Actions[0].Text)

	assert.Equal(t, 1.0, testutil.ToFloat64(second.Metrics.Messages.WithLabelValues(observability.OutcomeMatched)))
	assert.Equal(t, 1.0, testutil.ToFloat64(second.Metrics.NodeVisits.WithLabelValues("welcome", "message")))

	count, err := testutil.GatherAndCount(second.Registry, "chatflow_message_duration_seconds", "go_goroutines")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNewRuntime_CooldownSweep(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Flows.Backend = config.BackendMemory
	cfg.Engine.CooldownWindow = time.Millisecond

	rt := newRuntime(t, cfg)
	guard := rt.Engine.Cooldown()
	require.NotNil(t, guard, "every session backend carries a cooldown store")

	require.True(t, guard.Allow(ctx, "c1"))
	time.Sleep(5 * time.Millisecond)

	removed, err := guard.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	require.NoError(t, guard.Start(ctx, cfg.Engine.CooldownSweep))
	guard.Stop()
}

func TestNewRuntime_RedisSessions(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.Flows.Backend = config.BackendMemory
	cfg.Sessions.Backend = config.BackendRedis
	cfg.Redis.Addr = mr.Addr()

	rt := newRuntime(t, cfg)
	b := dsl.New("menu", "Menu")
	b.Trigger("t", "menu").To("m")
	b.Menu("m", "Pick").Option("Sales", "").Option("Support", "")
	flow, err := b.Build()
	require.NoError(t, err)
	_, err = rt.Engine.SaveFlow(ctx, flow)
	require.NoError(t, err)
	_, err = rt.Engine.ActivateFlow(ctx, "menu")
	require.NoError(t, err)

	_, err = rt.Engine.HandleMessage(ctx, domain.InboundEvent{ChatID: "c1", Text: "menu"})
	require.NoError(t, err)

	assert.True(t, mr.Exists("chatflow:session:chat:c1"))
	chats, err := rt.Engine.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, chats)
}

func TestNewRuntime_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.Default()
	cfg.Sessions.Backend = config.BackendRedis
	cfg.Redis.Addr = addr

	_, err := NewRuntime(context.Background(), cfg, logging.NewNop())
	assert.ErrorContains(t, err, "failed to connect to redis")
}

func TestNewRuntime_UnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Flows.Backend = "etcd"
	_, err := NewRuntime(context.Background(), cfg, logging.NewNop())
	assert.ErrorContains(t, err, "unknown flow backend")
}
