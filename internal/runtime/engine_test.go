package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/chatflow/internal/compiler"
	"github.com/aretw0/chatflow/internal/runtime"
	"github.com/aretw0/chatflow/pkg/adapters/memory"
	"github.com/aretw0/chatflow/pkg/cooldown"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/ports"
	"github.com/aretw0/chatflow/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// staticSource serves a fixed snapshot and lets tests swap it.
type staticSource struct {
	mu   sync.Mutex
	snap *compiler.Snapshot
}

func (s *staticSource) Snapshot() *compiler.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *staticSource) set(t *testing.T, flow *domain.Flow) {
	t.Helper()
	snap, err := compiler.Build(flow)
	require.NoError(t, err)
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

func sourceFor(t *testing.T, flow *domain.Flow) *staticSource {
	s := &staticSource{}
	s.set(t, flow)
	return s
}

func trigger(id, phrase string) domain.Node {
	return domain.Node{ID: id, Kind: domain.KindTrigger, Payload: domain.TriggerPayload{Phrase: phrase}}
}

func message(id, text string) domain.Node {
	return domain.Node{ID: id, Kind: domain.KindMessage, Payload: domain.MessagePayload{Text: text}}
}

func list(id string, labels ...string) domain.Node {
	rows := make([]domain.ListRow, len(labels))
	for i, l := range labels {
		rows[i] = domain.ListRow{Label: l}
	}
	return domain.Node{ID: id, Kind: domain.KindList, Payload: domain.ListPayload{Title: id, Body: "Choose", Button: "Open", Rows: rows}}
}

func menu(id string, options ...string) domain.Node {
	return domain.Node{ID: id, Kind: domain.KindMenu, Payload: domain.MenuPayload{Title: id, Options: options}}
}

func edge(from string, port int, to string) domain.Connection {
	return domain.Connection{From: from, FromPort: port, To: to}
}

// holaFlow: Trigger("hola") -> List{Instagram, TikTok}; TikTok -> message, Instagram unconnected.
func holaFlow() *domain.Flow {
	return &domain.Flow{
		ID:      "hola",
		Name:    "Hola",
		Version: 1,
		Nodes: []domain.Node{
			trigger("t", "hola"),
			list("networks", "Instagram", "TikTok"),
			message("tiktok", "Follow us on TikTok"),
		},
		Connections: []domain.Connection{
			edge("t", 0, "networks"),
			edge("networks", 1, "tiktok"),
		},
	}
}

type recorder struct {
	mu      sync.Mutex
	actions []domain.Action
	failOn  domain.ActionType
}

func (r *recorder) record(a domain.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.Type == r.failOn {
		return errors.New("transport unavailable")
	}
	r.actions = append(r.actions, a)
	return nil
}

func (r *recorder) SendText(_ context.Context, chatID, text string) error {
	return r.record(domain.Action{Type: domain.ActionSendText, ChatID: chatID, Text: text})
}

func (r *recorder) SendMedia(_ context.Context, chatID string, m domain.MediaContent) error {
	return r.record(domain.Action{Type: domain.ActionSendMedia, ChatID: chatID, Media: &m})
}

func (r *recorder) SendInteractiveList(_ context.Context, chatID string, l domain.InteractiveList) error {
	return r.record(domain.Action{Type: domain.ActionSendInteractiveList, ChatID: chatID, List: &l})
}

func newEngine(src runtime.FlowSource, opts ...runtime.Option) (*runtime.Engine, *session.Manager) {
	mgr := session.NewManager(memory.NewStore())
	return runtime.NewEngine(src, mgr, opts...), mgr
}

func send(t *testing.T, e *runtime.Engine, chatID, text string) *runtime.Result {
	t.Helper()
	res, err := e.HandleMessage(context.Background(), domain.InboundEvent{ChatID: chatID, Text: text})
	require.NoError(t, err)
	return res
}

func types(actions []domain.Action) []domain.ActionType {
	out := make([]domain.ActionType, len(actions))
	for i, a := range actions {
		out[i] = a.Type
	}
	return out
}

func TestEngine_Progression(t *testing.T) {
	flow := &domain.Flow{
		ID: "linear", Name: "Linear", Version: 1,
		Nodes: []domain.Node{
			trigger("t", "start"),
			message("m1", "first"),
			message("m2", "second"),
			list("l", "a", "b"),
		},
		Connections: []domain.Connection{
			edge("t", 0, "m1"),
			edge("m1", 0, "m2"),
			edge("m2", 0, "l"),
		},
	}
	engine, _ := newEngine(sourceFor(t, flow))

	res := send(t, engine, "c1", "start")
	assert.True(t, res.Matched)
	assert.Equal(t, []domain.ActionType{domain.ActionSendText, domain.ActionSendText, domain.ActionSendInteractiveList}, types(res.Actions))
	assert.Equal(t, "first", res.Actions[0].Text)
	assert.Equal(t, "second", res.Actions[1].Text)

	require.NotNil(t, res.Session)
	assert.Equal(t, domain.StatusAtNode, res.Session.Status())
	assert.Equal(t, "l", res.Session.CurrentNodeID)
	assert.Equal(t, []string{"m1", "m2", "l"}, res.Session.History)
}

func TestEngine_HolaScenario(t *testing.T) {
	for _, reply := range []string{"TikTok", "2", " tiktok "} {
		t.Run(reply, func(t *testing.T) {
			engine, _ := newEngine(sourceFor(t, holaFlow()))

			res := send(t, engine, "c1", "hola")
			require.Len(t, res.Actions, 1)
			assert.Equal(t, domain.ActionSendInteractiveList, res.Actions[0].Type)
			assert.Equal(t, []domain.ListRow{{Label: "Instagram"}, {Label: "TikTok"}}, res.Actions[0].List.Rows)

			res = send(t, engine, "c1", reply)
			assert.True(t, res.Matched)
			require.Len(t, res.Actions, 1)
			assert.Equal(t, "Follow us on TikTok", res.Actions[0].Text)
			assert.Equal(t, domain.StatusIdle, res.Session.Status(), "tiktok message is terminal")
		})
	}
}

func TestEngine_UnconnectedOptionEndsConversation(t *testing.T) {
	engine, _ := newEngine(sourceFor(t, holaFlow()))
	send(t, engine, "c1", "hola")

	res := send(t, engine, "c1", "Instagram")
	assert.True(t, res.Matched)
	assert.Empty(t, res.Actions)
	assert.Equal(t, domain.StatusIdle, res.Session.Status())
}

func TestEngine_UnmatchedSelectionIsIdempotent(t *testing.T) {
	engine, _ := newEngine(sourceFor(t, holaFlow()), runtime.WithNoticeText("Opción no reconocida"))
	send(t, engine, "c1", "hola")

	for i := 0; i < 3; i++ {
		res := send(t, engine, "c1", "Facebook")
		assert.False(t, res.Matched)
		require.Len(t, res.Actions, 2)
		assert.Equal(t, "Opción no reconocida", res.Actions[0].Text)
		assert.Equal(t, domain.ActionSendInteractiveList, res.Actions[1].Type)
		assert.Equal(t, "networks", res.Session.CurrentNodeID)
		assert.Equal(t, domain.StatusAtNode, res.Session.Status())
	}
}

func TestEngine_MenuAcceptsIndexOnly(t *testing.T) {
	flow := &domain.Flow{
		ID: "menu", Name: "Menu", Version: 1,
		Nodes: []domain.Node{
			trigger("t", "menu"),
			menu("m", "Sales", "Support"),
			message("support", "An agent will contact you"),
		},
		Connections: []domain.Connection{
			edge("t", 0, "m"),
			edge("m", 1, "support"),
		},
	}
	engine, _ := newEngine(sourceFor(t, flow))

	res := send(t, engine, "c", "MENU")
	require.Len(t, res.Actions, 1)
	assert.Equal(t, "m\n1. Sales\n2. Support", res.Actions[0].Text)

	res = send(t, engine, "c", "Support")
	assert.False(t, res.Matched, "menus do not match labels")

	res = send(t, engine, "c", "2")
	assert.True(t, res.Matched)
	assert.Equal(t, "An agent will contact you", res.Actions[0].Text)
}

func TestEngine_CycleOverflow(t *testing.T) {
	flow := &domain.Flow{
		ID: "loop", Name: "Loop", Version: 1,
		Nodes:       []domain.Node{trigger("t", "loop"), message("a", "again")},
		Connections: []domain.Connection{edge("t", 0, "a"), edge("a", 0, "a")},
	}
	rec := &recorder{}
	engine, mgr := newEngine(sourceFor(t, flow), runtime.WithMaxHops(10), runtime.WithDispatcher(rec))

	done := make(chan struct{})
	var res *runtime.Result
	var err error
	go func() {
		res, err = engine.HandleMessage(context.Background(), domain.InboundEvent{ChatID: "c", Text: "loop"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not terminate on a self loop")
	}

	require.ErrorIs(t, err, domain.ErrFlowCycleOverflow)
	var overflow *domain.CycleOverflowError
	require.ErrorAs(t, err, &overflow)
	assert.Equal(t, 10, overflow.Hops)
	assert.Equal(t, "a", overflow.NodeID)
	assert.Equal(t, "loop", overflow.FlowID)

	require.NotNil(t, res)
	assert.Len(t, res.Actions, 10)
	assert.Empty(t, rec.actions, "overflowing chains are not dispatched")

	stored, err := mgr.Load(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIdle, stored.Status(), "session forced idle")
}

func TestEngine_StaleSessionAfterActivation(t *testing.T) {
	src := sourceFor(t, holaFlow())
	engine, _ := newEngine(src)
	send(t, engine, "c1", "hola")

	next := holaFlow()
	next.ID = "hola-v2"
	next.Nodes[2] = message("tiktok", "New TikTok handle")
	src.set(t, next)

	res := send(t, engine, "c1", "TikTok")
	assert.False(t, res.Matched, "stale session is discarded and the text is not a trigger")
	assert.Empty(t, res.Actions)
	assert.Equal(t, domain.StatusIdle, res.Session.Status())

	res = send(t, engine, "c1", "hola")
	assert.True(t, res.Matched)
	assert.Equal(t, "hola-v2", res.Session.FlowID)
}

func TestEngine_StaleSessionAfterRevision(t *testing.T) {
	src := sourceFor(t, holaFlow())
	engine, _ := newEngine(src)
	send(t, engine, "c1", "hola")

	revised := holaFlow()
	revised.Version = 2
	src.set(t, revised)

	res := send(t, engine, "c1", "2")
	assert.False(t, res.Matched)
	assert.Equal(t, domain.StatusIdle, res.Session.Status())
}

func TestEngine_NoActiveFlow(t *testing.T) {
	engine, mgr := newEngine(&staticSource{})

	res := send(t, engine, "c1", "hola")
	assert.False(t, res.Matched)
	assert.Empty(t, res.Actions)
	assert.Nil(t, res.Session)

	chats, err := mgr.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, chats, "unmatched text from unknown chats creates no session")
}

func TestEngine_TriggerWithoutOutput(t *testing.T) {
	flow := &domain.Flow{ID: "f", Name: "F", Version: 1, Nodes: []domain.Node{trigger("t", "ping")}}
	engine, _ := newEngine(sourceFor(t, flow))

	res := send(t, engine, "c", "ping")
	assert.True(t, res.Matched)
	assert.Empty(t, res.Actions)
	assert.Equal(t, domain.StatusIdle, res.Session.Status())
}

func TestEngine_RejectsMissingChatID(t *testing.T) {
	engine, _ := newEngine(sourceFor(t, holaFlow()))
	_, err := engine.HandleMessage(context.Background(), domain.InboundEvent{Text: "hola"})
	assert.Error(t, err)
}

func TestEngine_Fallback(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	var calls atomic.Int32
	responder := ports.ResponderFunc(func(_ context.Context, chatID, text string) (string, error) {
		calls.Add(1)
		return "AI: " + text, nil
	})

	var events []domain.FallbackEvent
	hooks := domain.LifecycleHooks{OnFallback: func(_ context.Context, e *domain.FallbackEvent) { events = append(events, *e) }}

	guard := cooldown.New(memory.NewCooldownStore(), cooldown.WithClock(clock))
	engine, _ := newEngine(sourceFor(t, holaFlow()),
		runtime.WithResponder(responder),
		runtime.WithCooldown(guard),
		runtime.WithLifecycleHooks(hooks),
		runtime.WithClock(clock),
	)

	res := send(t, engine, "c1", "what are your hours?")
	assert.True(t, res.Fallback)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, "AI: what are your hours?", res.Actions[0].Text)

	res = send(t, engine, "c1", "hello?")
	assert.False(t, res.Fallback, "second call inside the window is throttled")
	assert.Empty(t, res.Actions)

	res = send(t, engine, "c2", "hello?")
	assert.True(t, res.Fallback, "other chats have their own window")

	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, events, 3)
	assert.True(t, events[0].Answered)
	assert.True(t, events[1].Throttled)
}

func TestEngine_FallbackNotUsedInsideFlow(t *testing.T) {
	var calls atomic.Int32
	responder := ports.ResponderFunc(func(context.Context, string, string) (string, error) {
		calls.Add(1)
		return "AI", nil
	})
	engine, _ := newEngine(sourceFor(t, holaFlow()), runtime.WithResponder(responder))

	send(t, engine, "c1", "hola")
	res := send(t, engine, "c1", "something else")
	assert.False(t, res.Fallback)
	assert.Zero(t, calls.Load())
}

func TestEngine_ResponderErrorIsSwallowed(t *testing.T) {
	responder := ports.ResponderFunc(func(context.Context, string, string) (string, error) {
		return "", errors.New("quota exceeded")
	})
	engine, _ := newEngine(sourceFor(t, holaFlow()), runtime.WithResponder(responder))

	res := send(t, engine, "c1", "hi")
	assert.True(t, res.Fallback)
	assert.Empty(t, res.Actions)
}

func TestEngine_DispatchFailureDoesNotRollBack(t *testing.T) {
	flow := &domain.Flow{
		ID: "f", Name: "F", Version: 1,
		Nodes: []domain.Node{
			trigger("t", "hola"),
			message("m", "hi"),
			list("l", "a", "b"),
		},
		Connections: []domain.Connection{edge("t", 0, "m"), edge("m", 0, "l")},
	}
	rec := &recorder{failOn: domain.ActionSendInteractiveList}

	var failures []*domain.DispatchEvent
	hooks := domain.LifecycleHooks{OnDispatchError: func(_ context.Context, e *domain.DispatchEvent) { failures = append(failures, e) }}
	engine, mgr := newEngine(sourceFor(t, flow), runtime.WithDispatcher(rec), runtime.WithLifecycleHooks(hooks))

	res := send(t, engine, "c", "hola")
	require.Len(t, res.DispatchErrors, 1)
	assert.ErrorIs(t, res.DispatchErrors[0], domain.ErrRenderDispatch)
	var derr *domain.DispatchError
	require.ErrorAs(t, res.DispatchErrors[0], &derr)
	assert.Equal(t, "l", derr.NodeID)
	assert.Equal(t, "f", derr.FlowID)

	require.Len(t, rec.actions, 1, "the text before the failure was delivered")
	require.Len(t, failures, 1)

	stored, err := mgr.Load(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, "l", stored.CurrentNodeID, "session advanced despite the failure")
}

func TestEngine_Hooks(t *testing.T) {
	var entered []string
	var ended []domain.SessionEndReason
	hooks := domain.LifecycleHooks{
		OnNodeEnter:  func(_ context.Context, e *domain.NodeEvent) { entered = append(entered, e.NodeID) },
		OnSessionEnd: func(_ context.Context, e *domain.SessionEvent) { ended = append(ended, e.Reason) },
	}
	engine, _ := newEngine(sourceFor(t, holaFlow()), runtime.WithLifecycleHooks(hooks))

	send(t, engine, "c", "hola")
	send(t, engine, "c", "2")

	assert.Equal(t, []string{"networks", "tiktok"}, entered)
	assert.Equal(t, []domain.SessionEndReason{domain.EndTerminal}, ended)
}

func TestEngine_ResetAndInspectSessions(t *testing.T) {
	engine, _ := newEngine(sourceFor(t, holaFlow()))
	ctx := context.Background()
	send(t, engine, "c1", "hola")

	s, err := engine.GetSession(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "networks", s.CurrentNodeID)

	chats, err := engine.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, chats)

	require.NoError(t, engine.ResetSession(ctx, "c1"))
	require.NoError(t, engine.ResetSession(ctx, "c1"), "reset is idempotent")

	_, err = engine.GetSession(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestEngine_ConcurrentChats(t *testing.T) {
	engine, _ := newEngine(sourceFor(t, holaFlow()))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 50; i++ {
		chatID := fmt.Sprintf("chat-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.HandleMessage(ctx, domain.InboundEvent{ChatID: chatID, Text: "hola"}); err != nil {
				errs <- err
				return
			}
			res, err := engine.HandleMessage(ctx, domain.InboundEvent{ChatID: chatID, Text: "2"})
			if err != nil {
				errs <- err
				return
			}
			if !res.Matched || len(res.Actions) != 1 {
				errs <- fmt.Errorf("%s: unexpected result %+v", chatID, res)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestEngine_SameChatIsSerialized(t *testing.T) {
	engine, mgr := newEngine(sourceFor(t, holaFlow()))
	ctx := context.Background()

	// Each "hola" restarts nothing while the chat is parked: all but the
	// first are unmatched selections, so history must hold exactly one entry.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = engine.HandleMessage(ctx, domain.InboundEvent{ChatID: "c", Text: "hola"})
		}()
	}
	wg.Wait()

	s, err := mgr.Load(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"networks"}, s.History)
	assert.Equal(t, domain.StatusAtNode, s.Status())
}

func TestEngine_TracingSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	engine, _ := newEngine(sourceFor(t, holaFlow()), runtime.WithTracer(provider.Tracer("test")))
	send(t, engine, "c", "hola")

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "chatflow.HandleMessage", spans[0].Name)
}
