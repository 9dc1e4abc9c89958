package chatflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/chatflow"
	"github.com/aretw0/chatflow/pkg/adapters/file"
	"github.com/aretw0/chatflow/pkg/adapters/memory"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/ports"
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

func TestFacade_RestoresActiveFlow(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first := chatflow.New(chatflow.WithFlowStore(file.NewFlowStore(dir)))
	if _, err := first.SaveFlow(ctx, welcomeFlow()); err != nil {
		t.Fatalf("SaveFlow failed: %v", err)
	}
	if _, err := first.ActivateFlow(ctx, "welcome"); err != nil {
		t.Fatalf("ActivateFlow failed: %v", err)
	}

	// A new process over the same directory serves the flow after Load.
	second := chatflow.New(chatflow.WithFlowStore(file.NewFlowStore(dir)))
	res, err := second.HandleMessage(ctx, domain.InboundEvent{ChatID: "c", Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Matched {
		t.Fatal("expected no match before Load")
	}

	if second.Flows().Snapshot() != nil {
		t.Fatal("expected no snapshot before Load")
	}
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := second.Flows().Snapshot().FlowID(); got != "welcome" {
		t.Errorf("snapshot flow = %q, want welcome", got)
	}
	res, err = second.HandleMessage(ctx, domain.InboundEvent{ChatID: "c", Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Actions) != 1 || res.Actions[0].Text != "Welcome!" {
		t.Errorf("unexpected actions: %+v", res.Actions)
	}
}

func TestFacade_FallbackCooldown(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(0, 0)
	calls := 0
	responder := ports.ResponderFunc(func(context.Context, string, string) (string, error) {
		calls++
		return "I am a bot", nil
	})

	engine := chatflow.New(
		chatflow.WithResponder(responder),
		chatflow.WithCooldown(memory.NewCooldownStore(), time.Minute),
		chatflow.WithClock(func() time.Time { return now }),
	)
	if _, err := engine.SaveFlow(ctx, welcomeFlow()); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.ActivateFlow(ctx, "welcome"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, err := engine.HandleMessage(ctx, domain.InboundEvent{ChatID: "c", Text: "anyone there?"}); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 responder call inside the window, got %d", calls)
	}
}

func TestFacade_SessionOperations(t *testing.T) {
	ctx := context.Background()
	engine := chatflow.New()
	if _, err := engine.SaveFlow(ctx, welcomeFlow()); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.ActivateFlow(ctx, "welcome"); err != nil {
		t.Fatal(err)
	}
	if err := engine.DeleteFlow(ctx, "welcome"); !errors.Is(err, domain.ErrFlowInUse) {
		t.Errorf("expected ErrFlowInUse, got %v", err)
	}

	if _, err := engine.HandleMessage(ctx, domain.InboundEvent{ChatID: "c", Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	chats, err := engine.ListSessions(ctx)
	if err != nil || len(chats) != 1 {
		t.Fatalf("expected one session, got %v (%v)", chats, err)
	}
	if err := engine.ResetSession(ctx, "c"); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.GetSession(ctx, "c"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}
