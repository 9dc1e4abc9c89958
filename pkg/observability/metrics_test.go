package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/chatflow"
	"github.com/aretw0/chatflow/pkg/adapters/memory"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/observability"
	"github.com/aretw0/chatflow/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
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

func TestMetrics_Hooks(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)

	responder := ports.ResponderFunc(func(context.Context, string, string) (string, error) {
		return "I am a bot", nil
	})
	engine := chatflow.New(
		chatflow.WithLifecycleHooks(m.Hooks()),
		chatflow.WithResponder(responder),
		chatflow.WithCooldown(memory.NewCooldownStore(), time.Hour),
	)
	_, err := engine.SaveFlow(ctx, welcomeFlow())
	require.NoError(t, err)
	_, err = engine.ActivateFlow(ctx, "welcome")
	require.NoError(t, err)

	for _, text := range []string{"hi", "what?", "still there?"} {
		_, err := engine.HandleMessage(ctx, domain.InboundEvent{ChatID: "c1", Text: text})
		require.NoError(t, err)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NodeVisits.WithLabelValues("welcome", "message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionEnds.WithLabelValues("terminal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fallbacks.WithLabelValues("answered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fallbacks.WithLabelValues("throttled")))

	count, err := testutil.GatherAndCount(reg, "chatflow_node_visits_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_DispatchErrors(t *testing.T) {
	m := observability.NewMetrics(nil)
	m.Hooks().OnDispatchError(context.Background(), &domain.DispatchEvent{
		Action: domain.Action{Type: domain.ActionSendText},
		Err:    errors.New("down"),
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchErrors.WithLabelValues("send_text")))
}

func TestMetrics_ObserveMessage(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)

	m.ObserveMessage(10*time.Millisecond, true, false, nil)
	m.ObserveMessage(time.Millisecond, false, true, nil)
	m.ObserveMessage(time.Millisecond, false, false, nil)
	m.ObserveMessage(time.Millisecond, true, false, errors.New("boom"))

	for _, outcome := range []string{
		observability.OutcomeMatched,
		observability.OutcomeFallback,
		observability.OutcomeUnmatched,
		observability.OutcomeError,
	} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Messages.WithLabelValues(outcome)), outcome)
	}

	count, err := testutil.GatherAndCount(reg, "chatflow_message_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestMetrics_RegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	observability.NewMetrics(reg)
	assert.Panics(t, func() { observability.NewMetrics(reg) })
}

func TestMetrics_ObserveSweep(t *testing.T) {
	m := observability.NewMetrics(nil)
	m.ObserveSweep(3)
	m.ObserveSweep(0)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SessionsExpired))
}
