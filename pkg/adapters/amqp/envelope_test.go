package amqp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "chatflow.outbound.send_text", RoutingKey(domain.ActionSendText))
	assert.Equal(t, "chatflow.outbound.send_media", RoutingKey(domain.ActionSendMedia))
	assert.Equal(t, "chatflow.outbound.send_interactive_list", RoutingKey(domain.ActionSendInteractiveList))
}

func TestNewActionEnvelope(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	action := domain.TextAction("c1", "hi")

	env := NewActionEnvelope(context.Background(), action, "chatflow", now)
	assert.NotEmpty(t, env.Meta.ID)
	assert.Equal(t, env.Meta.ID, env.Meta.CorrelationID, "correlation defaults to the event id")
	assert.Equal(t, "chatflow.outbound.send_text", env.Meta.Type)
	assert.Equal(t, time.UTC, env.Meta.Time.Location())
	assert.True(t, now.Equal(env.Meta.Time))

	ctx := WithCorrelationID(context.Background(), "inbound-1")
	env = NewActionEnvelope(ctx, action, "chatflow", now)
	assert.Equal(t, "inbound-1", env.Meta.CorrelationID)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	var wire map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, "chatflow", wire["meta"]["producer"])
	assert.Equal(t, "send_text", wire["data"]["type"])
	assert.Equal(t, "hi", wire["data"]["text"])
}

func TestWithCorrelationID_IgnoresEmpty(t *testing.T) {
	_, ok := CorrelationID(WithCorrelationID(context.Background(), ""))
	assert.False(t, ok)
}

func TestDecodeInbound(t *testing.T) {
	env, err := DecodeInbound([]byte(`{"meta":{"id":"m1","type":"chatflow.inbound.message"},"data":{"chat_id":"c1","text":"hola"}}`))
	require.NoError(t, err)
	assert.Equal(t, "m1", env.Meta.ID)
	assert.Equal(t, domain.InboundEvent{ChatID: "c1", Text: "hola"}, env.Data)

	_, err = DecodeInbound([]byte(`{"data":{"chat_id":"c1"}}`))
	assert.NoError(t, err, "meta is optional")

	for name, body := range map[string]string{
		"not json":     `{`,
		"no chat id":   `{"data":{"text":"hola"}}`,
		"foreign type": `{"meta":{"type":"deals.dispatched.v1"},"data":{"chat_id":"c1"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeInbound([]byte(body))
			assert.ErrorIs(t, err, ErrPoison)
		})
	}
}
