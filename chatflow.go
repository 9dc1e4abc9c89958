package chatflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/chatflow/internal/logging"
	"github.com/aretw0/chatflow/internal/runtime"
	"github.com/aretw0/chatflow/pkg/adapters/memory"
	"github.com/aretw0/chatflow/pkg/cooldown"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/lifecycle"
	"github.com/aretw0/chatflow/pkg/ports"
	"github.com/aretw0/chatflow/pkg/session"
	"go.opentelemetry.io/otel/trace"
)

// Result describes what one inbound message produced.
type Result = runtime.Result

// Engine is the high-level entry point of the library.
// It wires the flow lifecycle, the session manager and the runtime together.
type Engine struct {
	runtime  *runtime.Engine
	flows    *lifecycle.Manager
	sessions *session.Manager
	cooldown *cooldown.Guard

	flowStore      ports.FlowStore
	sessionStore   ports.SessionStore
	cooldownStore  ports.CooldownStore
	locker         ports.DistributedLocker
	cooldownWindow time.Duration
	lockTTL        time.Duration
	hooks          domain.LifecycleHooks
	logger         *slog.Logger
	runtimeOpts    []runtime.Option
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithFlowStore sets the document store (default: in memory).
func WithFlowStore(s ports.FlowStore) Option {
	return func(e *Engine) { e.flowStore = s }
}

// WithSessionStore sets the chat session store (default: in memory).
func WithSessionStore(s ports.SessionStore) Option {
	return func(e *Engine) { e.sessionStore = s }
}

// WithLocker enables cross-process serialization of each chat.
func WithLocker(l ports.DistributedLocker, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locker = l
		e.lockTTL = ttl
	}
}

// WithDispatcher delivers rendered actions to the messaging transport.
func WithDispatcher(d ports.Dispatcher) Option {
	return func(e *Engine) { e.runtimeOpts = append(e.runtimeOpts, runtime.WithDispatcher(d)) }
}

// WithResponder enables the AI fallback for messages that match no trigger.
func WithResponder(r ports.Responder) Option {
	return func(e *Engine) { e.runtimeOpts = append(e.runtimeOpts, runtime.WithResponder(r)) }
}

// WithCooldown sets the store and window throttling the AI fallback.
func WithCooldown(store ports.CooldownStore, window time.Duration) Option {
	return func(e *Engine) {
		e.cooldownStore = store
		e.cooldownWindow = window
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) { e.hooks = e.hooks.Merge(hooks) }
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTracer sets the tracer used for per-message spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.runtimeOpts = append(e.runtimeOpts, runtime.WithTracer(t)) }
}

// WithMaxHops caps the nodes rendered automatically per inbound message (default 50).
func WithMaxHops(n int) Option {
	return func(e *Engine) { e.runtimeOpts = append(e.runtimeOpts, runtime.WithMaxHops(n)) }
}

// WithHistoryLimit caps the node history kept per session (default 50).
func WithHistoryLimit(n int) Option {
	return func(e *Engine) { e.runtimeOpts = append(e.runtimeOpts, runtime.WithHistoryLimit(n)) }
}

// WithNoticeText sets the text sent before re-rendering a node when a reply matches no option.
func WithNoticeText(text string) Option {
	return func(e *Engine) { e.runtimeOpts = append(e.runtimeOpts, runtime.WithNoticeText(text)) }
}

// WithClock injects the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.runtimeOpts = append(e.runtimeOpts, runtime.WithClock(now)) }
}

// New initializes an Engine. Call Load to restore the active flow from the store.
func New(opts ...Option) *Engine {
	eng := &Engine{}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	if eng.flowStore == nil {
		eng.flowStore = memory.NewFlowStore()
	}
	if eng.sessionStore == nil {
		eng.sessionStore = memory.NewStore()
	}

	eng.flows = lifecycle.NewManager(eng.flowStore, lifecycle.WithLogger(eng.logger))

	sessionOpts := []session.Option{session.WithLogger(eng.logger)}
	if eng.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(eng.locker), session.WithLockTTL(eng.lockTTL))
	}
	eng.sessions = session.NewManager(eng.sessionStore, sessionOpts...)

	runtimeOpts := []runtime.Option{
		runtime.WithLogger(eng.logger),
		runtime.WithLifecycleHooks(eng.hooks),
	}
	if eng.cooldownStore != nil {
		eng.cooldown = cooldown.New(eng.cooldownStore,
			cooldown.WithWindow(eng.cooldownWindow),
			cooldown.WithLogger(eng.logger),
		)
		runtimeOpts = append(runtimeOpts, runtime.WithCooldown(eng.cooldown))
	}
	runtimeOpts = append(runtimeOpts, eng.runtimeOpts...)

	eng.runtime = runtime.NewEngine(eng.flows, eng.sessions, runtimeOpts...)
	return eng
}

// Load restores the active flow snapshot from the flow store.
func (e *Engine) Load(ctx context.Context) error {
	return e.flows.Load(ctx)
}

// HandleMessage advances the chat of ev through the active flow.
func (e *Engine) HandleMessage(ctx context.Context, ev domain.InboundEvent) (*Result, error) {
	return e.runtime.HandleMessage(ctx, ev)
}

// SaveFlow validates and stores a flow document.
func (e *Engine) SaveFlow(ctx context.Context, flow *domain.Flow) (*domain.Flow, error) {
	return e.flows.SaveFlow(ctx, flow)
}

// ActivateFlow compiles a stored flow and makes it the only active one.
func (e *Engine) ActivateFlow(ctx context.Context, flowID string) (*domain.Flow, error) {
	return e.flows.Activate(ctx, flowID)
}

// DeleteFlow removes a stored flow that is not active.
func (e *Engine) DeleteFlow(ctx context.Context, flowID string) error {
	return e.flows.DeleteFlow(ctx, flowID)
}

// ListFlows returns a summary of every stored flow.
func (e *Engine) ListFlows(ctx context.Context) ([]domain.FlowSummary, error) {
	return e.flows.ListFlows(ctx)
}

// GetFlow returns a stored flow.
func (e *Engine) GetFlow(ctx context.Context, flowID string) (*domain.Flow, error) {
	return e.flows.GetFlow(ctx, flowID)
}

// GetActiveFlow returns the flow currently serving traffic.
func (e *Engine) GetActiveFlow(ctx context.Context) (*domain.Flow, error) {
	return e.flows.GetActiveFlow(ctx)
}

// ResetSession drops the chat's conversation state.
func (e *Engine) ResetSession(ctx context.Context, chatID string) error {
	return e.runtime.ResetSession(ctx, chatID)
}

// GetSession returns the chat's conversation state.
func (e *Engine) GetSession(ctx context.Context, chatID string) (*domain.Session, error) {
	return e.runtime.GetSession(ctx, chatID)
}

// ListSessions returns the chats holding conversation state.
func (e *Engine) ListSessions(ctx context.Context) ([]string, error) {
	return e.runtime.ListSessions(ctx)
}

// Flows exposes the flow lifecycle manager.
func (e *Engine) Flows() *lifecycle.Manager {
	return e.flows
}

// Cooldown exposes the AI cooldown guard, or nil when no cooldown store is set.
func (e *Engine) Cooldown() *cooldown.Guard {
	return e.cooldown
}

// Sessions exposes the session manager, e.g. to run a session.Janitor.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}
