package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/chatflow/internal/compiler"
	"github.com/aretw0/chatflow/internal/logging"
	"github.com/aretw0/chatflow/pkg/adapters/memory"
	"github.com/aretw0/chatflow/pkg/cooldown"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/observability"
	"github.com/aretw0/chatflow/pkg/ports"
	"github.com/aretw0/chatflow/pkg/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultMaxHops caps automatic rendering per inbound event.
	DefaultMaxHops = 50

	// DefaultNoticeText is sent before re-rendering a node when a reply matches no option.
	DefaultNoticeText = "Option not recognized. Please choose one of the options below."
)

// FlowSource provides the snapshot of the active flow. A nil snapshot means no flow is active.
type FlowSource interface {
	Snapshot() *compiler.Snapshot
}

// Result describes what one inbound event produced.
type Result struct {
	ChatID  string          `json:"chat_id"`
	Actions []domain.Action `json:"actions"`
	// Session is the persisted cursor after the event, nil when nothing was stored.
	Session *domain.Session `json:"session,omitempty"`
	// Matched is true when the text hit a trigger or a valid option.
	Matched bool `json:"matched"`
	// Fallback is true when the text was routed to the AI responder.
	Fallback bool `json:"fallback"`
	// DispatchErrors holds the transport failures, if any. They never roll back the session.
	DispatchErrors []error `json:"-"`
}

// Engine advances chats through the active flow.
type Engine struct {
	flows      FlowSource
	sessions   *session.Manager
	dispatcher ports.Dispatcher
	responder  ports.Responder
	guard      *cooldown.Guard

	hooks        domain.LifecycleHooks
	logger       *slog.Logger
	tracer       trace.Tracer
	now          func() time.Time
	maxHops      int
	historyLimit int
	noticeText   string
}

// Option configures the Engine.
type Option func(*Engine)

// WithDispatcher delivers actions to a transport. Without one, actions are only returned.
func WithDispatcher(d ports.Dispatcher) Option {
	return func(e *Engine) { e.dispatcher = d }
}

// WithResponder enables the AI fallback for text that matches no trigger.
func WithResponder(r ports.Responder) Option {
	return func(e *Engine) { e.responder = r }
}

// WithCooldown sets the guard throttling the responder.
func WithCooldown(g *cooldown.Guard) Option {
	return func(e *Engine) { e.guard = g }
}

// WithLifecycleHooks registers observability callbacks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) { e.hooks = e.hooks.Merge(hooks) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer used for per-message spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithClock injects the time source used when events carry no timestamp.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMaxHops sets the automatic rendering cap.
func WithMaxHops(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxHops = n
		}
	}
}

// WithHistoryLimit caps Session.History.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyLimit = n
		}
	}
}

// WithNoticeText sets the "option not recognized" notice.
func WithNoticeText(text string) Option {
	return func(e *Engine) {
		if text != "" {
			e.noticeText = text
		}
	}
}

// NewEngine creates an engine reading the active flow from flows and storing cursors through sessions.
func NewEngine(flows FlowSource, sessions *session.Manager, opts ...Option) *Engine {
	e := &Engine{
		flows:        flows,
		sessions:     sessions,
		logger:       logging.NewNop(),
		tracer:       otel.Tracer("github.com/aretw0/chatflow/internal/runtime"),
		now:          time.Now,
		maxHops:      DefaultMaxHops,
		historyLimit: domain.DefaultHistoryLimit,
		noticeText:   DefaultNoticeText,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.responder != nil && e.guard == nil {
		e.guard = cooldown.New(memory.NewCooldownStore(), cooldown.WithLogger(e.logger))
	}
	return e
}

// HandleMessage processes one inbound event for its chat.
// Events of the same chat are serialized; different chats run in parallel.
// A *domain.CycleOverflowError is returned together with the partial Result.
func (e *Engine) HandleMessage(ctx context.Context, ev domain.InboundEvent) (*Result, error) {
	if ev.ChatID == "" {
		return nil, fmt.Errorf("inbound event without chat id")
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = e.now()
	}

	ctx, span := e.tracer.Start(ctx, "chatflow.HandleMessage", trace.WithAttributes(
		attribute.String(observability.ChatIDKey, ev.ChatID),
	))
	defer span.End()

	var res *Result
	err := e.sessions.WithLock(ctx, ev.ChatID, func(ctx context.Context) error {
		var err error
		res, err = e.handleLocked(ctx, ev)
		return err
	})
	if err != nil {
		observability.SetError(span, err)
	}
	if res != nil {
		span.SetAttributes(
			attribute.Int("chatflow.actions", len(res.Actions)),
			attribute.Bool("chatflow.matched", res.Matched),
		)
	}
	return res, err
}

// turn carries the state of one inbound event through the transition.
type turn struct {
	ev      domain.InboundEvent
	snap    *compiler.Snapshot
	session *domain.Session
	fresh   bool
	res     *Result
	// dirty is set once the session must be persisted.
	dirty bool
}

func (e *Engine) handleLocked(ctx context.Context, ev domain.InboundEvent) (*Result, error) {
	snap := e.flows.Snapshot()
	sess, fresh, err := e.sessions.LoadOrNew(ctx, ev.ChatID, ev.ReceivedAt)
	if err != nil {
		return nil, err
	}

	t := &turn{
		ev:      ev,
		snap:    snap,
		session: sess,
		fresh:   fresh,
		res:     &Result{ChatID: ev.ChatID},
	}
	if !fresh {
		t.session.Touch(ev.ReceivedAt)
		t.dirty = true
	}

	e.discardStale(ctx, t)

	var flowErr error
	if t.session.Status() == domain.StatusAtNode {
		flowErr = e.handleSelection(ctx, t)
	} else {
		flowErr = e.handleEntry(ctx, t)
	}

	var overflow *domain.CycleOverflowError
	if flowErr != nil && !errors.As(flowErr, &overflow) {
		return nil, flowErr
	}

	if t.dirty {
		if err := e.sessions.Store().Save(ctx, t.session); err != nil {
			return nil, fmt.Errorf("failed to persist session %s: %w", ev.ChatID, err)
		}
		t.res.Session = t.session.Clone()
	}

	if overflow != nil {
		e.logger.Error("Flow cycle overflow, session reset",
			"chat_id", overflow.ChatID,
			"flow_id", overflow.FlowID,
			"node_id", overflow.NodeID,
			"hops", overflow.Hops,
		)
		return t.res, overflow
	}

	e.dispatch(ctx, t)
	return t.res, nil
}

// discardStale resets a session bound to another flow revision or parked on a missing node.
func (e *Engine) discardStale(ctx context.Context, t *turn) {
	s := t.session
	if s.Status() == domain.StatusIdle {
		return
	}

	reason := ""
	switch {
	case t.snap == nil:
		reason = "no active flow"
	case !s.BoundTo(t.snap.FlowID(), t.snap.Version()):
		reason = "flow changed"
	case s.Status() != domain.StatusAtNode:
		reason = "interrupted entry"
	default:
		n, ok := t.snap.Graph.Node(s.CurrentNodeID)
		if !ok {
			reason = "node removed"
		} else if !n.Kind.Branching() {
			reason = "parked on non-branching node"
		}
	}
	if reason == "" {
		return
	}

	e.logger.Info("Discarding stale session",
		"chat_id", s.ChatID,
		"flow_id", s.FlowID,
		"node_id", s.CurrentNodeID,
		"reason", reason,
	)
	e.endSession(ctx, s, domain.EndStale)
	t.dirty = true
}

// handleEntry routes idle chats: trigger match starts the flow, anything else goes to the fallback.
func (e *Engine) handleEntry(ctx context.Context, t *turn) error {
	var triggerID string
	var ok bool
	if t.snap != nil {
		triggerID, ok = t.snap.Index.Lookup(t.ev.Text)
	}
	if !ok {
		e.fallback(ctx, t)
		return nil
	}

	t.res.Matched = true
	t.dirty = true
	t.session.Start(t.snap.FlowID(), t.snap.Version(), triggerID)

	next, connected := t.snap.Graph.ResolveOutput(triggerID, 0)
	if !connected {
		e.endSession(ctx, t.session, domain.EndTerminal)
		return nil
	}
	return e.advance(ctx, t, next)
}

// handleSelection interprets the reply of a chat parked on a List or Menu node.
func (e *Engine) handleSelection(ctx context.Context, t *turn) error {
	node, _ := t.snap.Graph.Node(t.session.CurrentNodeID)

	port, ok := SelectPort(node, t.ev.Text)
	if !ok {
		action, err := Render(node, t.ev.ChatID)
		if err != nil {
			return err
		}
		notice := domain.TextAction(t.ev.ChatID, e.noticeText)
		notice.NodeID = node.ID
		t.res.Actions = append(t.res.Actions, notice, action)
		return nil
	}

	t.res.Matched = true
	next, connected := t.snap.Graph.ResolveOutput(node.ID, port)
	if !connected {
		e.endSession(ctx, t.session, domain.EndTerminal)
		return nil
	}
	return e.advance(ctx, t, next)
}

// advance is the render loop: it renders from nodeID, auto-advancing through
// single-output nodes until a branching node, a terminal node or the hop cap.
func (e *Engine) advance(ctx context.Context, t *turn, nodeID string) error {
	current := nodeID
	for hops := 0; ; hops++ {
		if hops >= e.maxHops {
			flowID := t.session.FlowID
			e.endSession(ctx, t.session, domain.EndOverflow)
			return &domain.CycleOverflowError{
				ChatID: t.ev.ChatID,
				FlowID: flowID,
				NodeID: current,
				Hops:   hops,
			}
		}

		node, ok := t.snap.Graph.Node(current)
		if !ok {
			return fmt.Errorf("flow %s: node %q vanished from compiled graph", t.snap.FlowID(), current)
		}
		action, err := Render(node, t.ev.ChatID)
		if err != nil {
			return err
		}
		t.res.Actions = append(t.res.Actions, action)
		t.session.CurrentNodeID = node.ID
		t.session.Visit(node.ID, e.historyLimit)
		e.emitNodeEnter(ctx, t, node)

		if node.Kind.Branching() {
			t.session.Park(node.ID)
			return nil
		}

		next, connected := t.snap.Graph.ResolveOutput(node.ID, 0)
		if !connected {
			e.endSession(ctx, t.session, domain.EndTerminal)
			return nil
		}
		current = next
	}
}

// fallback sends unmatched idle text to the responder, throttled per chat.
func (e *Engine) fallback(ctx context.Context, t *turn) {
	ev := &domain.FallbackEvent{Timestamp: t.ev.ReceivedAt, ChatID: t.ev.ChatID, Text: t.ev.Text}
	defer func() {
		if e.hooks.OnFallback != nil {
			e.hooks.OnFallback(ctx, ev)
		}
	}()

	if e.responder == nil {
		e.logger.Debug("No trigger matched, ignoring", "chat_id", t.ev.ChatID)
		return
	}
	if !e.guard.Allow(ctx, t.ev.ChatID) {
		ev.Throttled = true
		e.logger.Debug("AI fallback throttled", "chat_id", t.ev.ChatID)
		return
	}

	t.res.Fallback = true
	reply, err := e.responder.Respond(ctx, t.ev.ChatID, t.ev.Text)
	if err != nil {
		e.logger.Warn("AI responder failed", "chat_id", t.ev.ChatID, "err", err)
		return
	}
	if reply == "" {
		return
	}
	ev.Answered = true
	t.res.Actions = append(t.res.Actions, domain.TextAction(t.ev.ChatID, reply))
}

// dispatch hands the actions to the transport. Failures are logged and reported, never retried.
func (e *Engine) dispatch(ctx context.Context, t *turn) {
	if e.dispatcher == nil {
		return
	}
	for _, action := range t.res.Actions {
		err := ports.Dispatch(ctx, e.dispatcher, action)
		if err == nil {
			continue
		}
		derr := &domain.DispatchError{
			ChatID:     action.ChatID,
			FlowID:     t.session.FlowID,
			NodeID:     action.NodeID,
			ActionType: action.Type,
			Err:        err,
		}
		t.res.DispatchErrors = append(t.res.DispatchErrors, derr)
		e.logger.Error("Failed to dispatch action",
			"chat_id", derr.ChatID,
			"flow_id", derr.FlowID,
			"node_id", derr.NodeID,
			"action", derr.ActionType,
			"err", err,
		)
		if e.hooks.OnDispatchError != nil {
			e.hooks.OnDispatchError(ctx, &domain.DispatchEvent{Timestamp: e.now(), Action: action, Err: derr})
		}
	}
}

func (e *Engine) emitNodeEnter(ctx context.Context, t *turn, node *domain.Node) {
	if e.hooks.OnNodeEnter == nil {
		return
	}
	e.hooks.OnNodeEnter(ctx, &domain.NodeEvent{
		Timestamp: t.ev.ReceivedAt,
		ChatID:    t.ev.ChatID,
		FlowID:    t.session.FlowID,
		NodeID:    node.ID,
		Kind:      node.Kind,
	})
}

func (e *Engine) endSession(ctx context.Context, s *domain.Session, reason domain.SessionEndReason) {
	nodeID := s.CurrentNodeID
	s.Reset()
	if e.hooks.OnSessionEnd == nil {
		return
	}
	e.hooks.OnSessionEnd(ctx, &domain.SessionEvent{
		Timestamp: e.now(),
		ChatID:    s.ChatID,
		FlowID:    s.FlowID,
		NodeID:    nodeID,
		Reason:    reason,
	})
}

// ResetSession deletes the chat's session. It is idempotent.
func (e *Engine) ResetSession(ctx context.Context, chatID string) error {
	return e.sessions.WithLock(ctx, chatID, func(ctx context.Context) error {
		s, err := e.sessions.Store().Load(ctx, chatID)
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := e.sessions.Store().Delete(ctx, chatID); err != nil {
			return err
		}
		if s.Status() != domain.StatusIdle {
			e.endSession(ctx, s, domain.EndReset)
		}
		return nil
	})
}

// GetSession returns the chat's session, or domain.ErrSessionNotFound.
func (e *Engine) GetSession(ctx context.Context, chatID string) (*domain.Session, error) {
	return e.sessions.Load(ctx, chatID)
}

// ListSessions returns the chats holding a session.
func (e *Engine) ListSessions(ctx context.Context) ([]string, error) {
	return e.sessions.List(ctx)
}
