package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/google/uuid"
)

const (
	outboundPrefix = "chatflow.outbound."
	inboundType    = "chatflow.inbound.message"
)

// Meta describes one event on the bus.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

// Envelope wraps an event payload with its metadata.
type Envelope[T any] struct {
	Meta Meta `json:"meta"`
	Data T    `json:"data"`
}

// RoutingKey returns the routing key an action is published with.
func RoutingKey(t domain.ActionType) string {
	return outboundPrefix + string(t)
}

// NewActionEnvelope wraps action for publishing.
// The correlation id defaults to the event id.
func NewActionEnvelope(ctx context.Context, action domain.Action, producer string, now time.Time) Envelope[domain.Action] {
	id := uuid.NewString()
	correlationID, ok := CorrelationID(ctx)
	if !ok {
		correlationID = id
	}
	return Envelope[domain.Action]{
		Meta: Meta{
			ID:            id,
			CorrelationID: correlationID,
			Producer:      producer,
			Time:          now.UTC(),
			Type:          RoutingKey(action.Type),
		},
		Data: action,
	}
}

// DecodeInbound parses an inbound message envelope.
func DecodeInbound(body []byte) (Envelope[domain.InboundEvent], error) {
	var env Envelope[domain.InboundEvent]
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("%w: %w", ErrPoison, err)
	}
	if env.Data.ChatID == "" {
		return env, fmt.Errorf("%w: inbound event without chat id", ErrPoison)
	}
	if env.Meta.Type != "" && env.Meta.Type != inboundType {
		return env, fmt.Errorf("%w: unexpected event type %q", ErrPoison, env.Meta.Type)
	}
	return env, nil
}

type correlationKey struct{}

// WithCorrelationID tags ctx so actions published under it share id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id set by WithCorrelationID.
func CorrelationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationKey{}).(string)
	return id, ok
}
