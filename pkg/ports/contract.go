package ports

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionStoreContract runs a suite of tests to verify that a SessionStore implementation
// adheres to the defined interface contract.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	chatID := "contract-chat-" + time.Now().Format("20060102150405")
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("Save and Load", func(t *testing.T) {
		s := domain.NewSession(chatID, now)
		s.Start("flow-1", 2, "list")
		s.Park("list")
		s.Visit("welcome", 0)
		s.Visit("list", 0)

		require.NoError(t, store.Save(ctx, s), "Save should not return error")

		loaded, err := store.Load(ctx, chatID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, chatID, loaded.ChatID)
		assert.Equal(t, "flow-1", loaded.FlowID)
		assert.Equal(t, 2, loaded.FlowVersion)
		assert.Equal(t, "list", loaded.CurrentNodeID)
		assert.True(t, loaded.AwaitingReply)
		assert.Equal(t, []string{"welcome", "list"}, loaded.History)
		assert.True(t, now.Equal(loaded.LastActivityAt), "LastActivityAt should survive persistence")
	})

	t.Run("Load returns a copy", func(t *testing.T) {
		loaded, err := store.Load(ctx, chatID)
		require.NoError(t, err)
		loaded.CurrentNodeID = "mutated"

		again, err := store.Load(ctx, chatID)
		require.NoError(t, err)
		assert.Equal(t, "list", again.CurrentNodeID)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+chatID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, domain.NewSession(chatID, now)))

		require.NoError(t, store.Delete(ctx, chatID), "Delete should not return error")

		_, err := store.Load(ctx, chatID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")

		assert.NoError(t, store.Delete(ctx, chatID), "Delete should be idempotent")
	})

	t.Run("List", func(t *testing.T) {
		id1 := chatID + "-1"
		id2 := chatID + "-2"
		_ = store.Save(ctx, domain.NewSession(id1, now))
		_ = store.Save(ctx, domain.NewSession(id2, now))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		chats, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, chats, id1)
		assert.Contains(t, chats, id2)
	})
}

// RunFlowStoreContract verifies that a FlowStore implementation honors versioning,
// the single-active invariant and the not-found semantics.
// The store must be empty when the suite starts.
func RunFlowStoreContract(t *testing.T, store FlowStore) {
	ctx := context.Background()

	newFlow := func(id, name string) *domain.Flow {
		return &domain.Flow{
			ID:   id,
			Name: name,
			Nodes: []domain.Node{
				{ID: "t", Kind: domain.KindTrigger, Payload: domain.TriggerPayload{Phrase: "hola"}},
				{ID: "m", Kind: domain.KindMessage, Payload: domain.MessagePayload{Text: "hi"}, Position: domain.Position{X: 1, Y: 2}},
				{ID: "l", Kind: domain.KindList, Payload: domain.ListPayload{Title: "T", Body: "B", Button: "Go", Rows: []domain.ListRow{{Label: "A"}, {Label: "B"}}}},
			},
			Connections: []domain.Connection{
				{From: "t", FromPort: 0, To: "m"},
				{From: "m", FromPort: 0, To: "l"},
			},
		}
	}

	t.Run("No active flow initially", func(t *testing.T) {
		_, err := store.Active(ctx)
		assert.ErrorIs(t, err, domain.ErrNoActiveFlow)
	})

	t.Run("Save assigns version", func(t *testing.T) {
		saved, err := store.Save(ctx, newFlow("flow-a", "A"))
		require.NoError(t, err)
		assert.Equal(t, 1, saved.Version)
		assert.False(t, saved.Active, "new flows are inactive")
		assert.False(t, saved.CreatedAt.IsZero())

		again, err := store.Save(ctx, newFlow("flow-a", "A renamed"))
		require.NoError(t, err)
		assert.Equal(t, 2, again.Version)
		assert.Equal(t, "A renamed", again.Name)
	})

	t.Run("Get round trips nodes", func(t *testing.T) {
		got, err := store.Get(ctx, "flow-a")
		require.NoError(t, err)
		require.Len(t, got.Nodes, 3)
		assert.Equal(t, domain.ListPayload{Title: "T", Body: "B", Button: "Go", Rows: []domain.ListRow{{Label: "A"}, {Label: "B"}}}, got.Nodes[2].Payload)
		assert.Equal(t, domain.Position{X: 1, Y: 2}, got.Nodes[1].Position)
		assert.Len(t, got.Connections, 2)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrFlowNotFound)
	})

	t.Run("Activate swaps the flag", func(t *testing.T) {
		_, err := store.Save(ctx, newFlow("flow-b", "B"))
		require.NoError(t, err)

		require.NoError(t, store.Activate(ctx, "flow-a"))
		active, err := store.Active(ctx)
		require.NoError(t, err)
		assert.Equal(t, "flow-a", active.ID)
		assert.True(t, active.Active)

		require.NoError(t, store.Activate(ctx, "flow-b"))
		active, err = store.Active(ctx)
		require.NoError(t, err)
		assert.Equal(t, "flow-b", active.ID)

		a, err := store.Get(ctx, "flow-a")
		require.NoError(t, err)
		assert.False(t, a.Active, "previous flow must be deactivated")
	})

	t.Run("Save keeps the active flag", func(t *testing.T) {
		f := newFlow("flow-b", "B")
		f.Active = false
		saved, err := store.Save(ctx, f)
		require.NoError(t, err)
		assert.True(t, saved.Active)
	})

	t.Run("Activate Non-Existent", func(t *testing.T) {
		assert.ErrorIs(t, store.Activate(ctx, "missing"), domain.ErrFlowNotFound)
		active, err := store.Active(ctx)
		require.NoError(t, err)
		assert.Equal(t, "flow-b", active.ID, "failed activation must not change the active flow")
	})

	t.Run("Concurrent activation leaves exactly one active", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			id := "flow-a"
			if i%2 == 1 {
				id = "flow-b"
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = store.Activate(ctx, id)
			}()
		}
		wg.Wait()

		list, err := store.List(ctx)
		require.NoError(t, err)
		active := 0
		for _, s := range list {
			if s.Active {
				active++
			}
		}
		assert.Equal(t, 1, active)
	})

	t.Run("List and Delete", func(t *testing.T) {
		list, err := store.List(ctx)
		require.NoError(t, err)
		ids := make([]string, 0, len(list))
		for _, s := range list {
			ids = append(ids, s.ID)
		}
		assert.ElementsMatch(t, []string{"flow-a", "flow-b"}, ids)

		require.NoError(t, store.Activate(ctx, "flow-b"))
		assert.ErrorIs(t, store.Delete(ctx, "flow-b"), domain.ErrFlowInUse)
		active, err := store.Active(ctx)
		require.NoError(t, err)
		assert.Equal(t, "flow-b", active.ID, "the active flow must survive a rejected delete")

		require.NoError(t, store.Delete(ctx, "flow-a"))
		_, err = store.Get(ctx, "flow-a")
		assert.ErrorIs(t, err, domain.ErrFlowNotFound)
		assert.ErrorIs(t, store.Delete(ctx, "flow-a"), domain.ErrFlowNotFound)
	})
}

// RunCooldownStoreContract verifies Get/Set/Evict semantics of a CooldownStore.
func RunCooldownStoreContract(t *testing.T, store CooldownStore) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, ok, err := store.Get(ctx, "nobody")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Set and Get", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "chat-1", base, time.Hour))
		at, ok, err := store.Get(ctx, "chat-1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, base.Equal(at), "got %v want %v", at, base)
	})

	t.Run("Set overwrites", func(t *testing.T) {
		later := base.Add(10 * time.Second)
		require.NoError(t, store.Set(ctx, "chat-1", later, time.Hour))
		at, _, err := store.Get(ctx, "chat-1")
		require.NoError(t, err)
		assert.True(t, later.Equal(at))
	})

	t.Run("Evict", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "chat-old", base.Add(-time.Minute), time.Hour))
		_, err := store.Evict(ctx, base)
		require.NoError(t, err)

		_, ok, err := store.Get(ctx, "chat-old")
		require.NoError(t, err)
		assert.False(t, ok, "entries before cutoff should be evicted")

		_, ok, err = store.Get(ctx, "chat-1")
		require.NoError(t, err)
		assert.True(t, ok, "entries after cutoff should be kept")
	})
}
