package ports

import (
	"context"
	"time"

	"github.com/aretw0/chatflow/pkg/domain"
)

// SessionStore defines the interface for persisting chat sessions.
type SessionStore interface {
	// Save persists the session under its ChatID.
	Save(ctx context.Context, session *domain.Session) error

	// Load retrieves the session for a given chat.
	// Returns domain.ErrSessionNotFound if the chat has no session.
	Load(ctx context.Context, chatID string) (*domain.Session, error)

	// Delete removes the session for a given chat. Deleting a missing session is not an error.
	Delete(ctx context.Context, chatID string) error

	// List returns the chat ids that currently have a session.
	List(ctx context.Context) ([]string, error)
}

// FlowStore defines the document store holding flow definitions.
// Implementations own Version, CreatedAt, UpdatedAt and Active: callers cannot set them through Save.
type FlowStore interface {
	// List returns a summary of every stored flow.
	List(ctx context.Context) ([]domain.FlowSummary, error)

	// Get returns the flow with the given id, or domain.ErrFlowNotFound.
	Get(ctx context.Context, id string) (*domain.Flow, error)

	// Save creates or replaces a flow, incrementing its Version, and returns the stored copy.
	Save(ctx context.Context, flow *domain.Flow) (*domain.Flow, error)

	// Delete removes a flow. Returns domain.ErrFlowNotFound if it does not exist
	// and domain.ErrFlowInUse if it is the active flow.
	Delete(ctx context.Context, id string) error

	// Activate marks id as the only active flow in a single atomic step.
	// Returns domain.ErrFlowNotFound if it does not exist.
	Activate(ctx context.Context, id string) error

	// Active returns the active flow, or domain.ErrNoActiveFlow.
	Active(ctx context.Context) (*domain.Flow, error)
}

// CooldownStore remembers the last AI invocation time per chat.
type CooldownStore interface {
	// Get returns the last invocation time and whether one was recorded.
	Get(ctx context.Context, chatID string) (time.Time, bool, error)

	// Set records an invocation at the given time. ttl is a retention hint for stores that expire keys.
	Set(ctx context.Context, chatID string, at time.Time, ttl time.Duration) error

	// Evict removes entries recorded before cutoff and returns how many were removed.
	Evict(ctx context.Context, cutoff time.Time) (int, error)
}
