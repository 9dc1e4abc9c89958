package domain

import (
	"context"
	"time"
)

// InboundEvent is a message received from a chat.
type InboundEvent struct {
	ChatID     string    `json:"chat_id" validate:"required"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// NodeEvent is emitted each time the engine renders a node for a chat.
type NodeEvent struct {
	Timestamp time.Time `json:"timestamp"`
	ChatID    string    `json:"chat_id"`
	FlowID    string    `json:"flow_id"`
	NodeID    string    `json:"node_id"`
	Kind      NodeKind  `json:"kind"`
}

// SessionEndReason tells why a conversation returned to idle.
type SessionEndReason string

const (
	EndTerminal SessionEndReason = "terminal"
	EndOverflow SessionEndReason = "overflow"
	EndStale    SessionEndReason = "stale"
	EndReset    SessionEndReason = "reset"
)

// SessionEvent is emitted when a conversation ends.
type SessionEvent struct {
	Timestamp time.Time        `json:"timestamp"`
	ChatID    string           `json:"chat_id"`
	FlowID    string           `json:"flow_id"`
	NodeID    string           `json:"node_id,omitempty"`
	Reason    SessionEndReason `json:"reason"`
}

// FallbackEvent is emitted when an idle chat's text matches no trigger.
type FallbackEvent struct {
	Timestamp time.Time `json:"timestamp"`
	ChatID    string    `json:"chat_id"`
	Text      string    `json:"text"`
	// Answered is true when the responder produced a reply.
	Answered bool `json:"answered"`
	// Throttled is true when the cooldown denied the call.
	Throttled bool `json:"throttled"`
}

// DispatchEvent is emitted when the transport fails to deliver an action.
type DispatchEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Err       error     `json:"-"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnNodeEnter     func(context.Context, *NodeEvent)
	OnSessionEnd    func(context.Context, *SessionEvent)
	OnFallback      func(context.Context, *FallbackEvent)
	OnDispatchError func(context.Context, *DispatchEvent)
}

// Merge combines two hook sets; both callbacks run when both are set.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnNodeEnter:     chain(h.OnNodeEnter, other.OnNodeEnter),
		OnSessionEnd:    chain(h.OnSessionEnd, other.OnSessionEnd),
		OnFallback:      chain(h.OnFallback, other.OnFallback),
		OnDispatchError: chain(h.OnDispatchError, other.OnDispatchError),
	}
}

func chain[E any](a, b func(context.Context, *E)) func(context.Context, *E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e *E) {
		a(ctx, e)
		b(ctx, e)
	}
}
