package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/chatflow/pkg/adapters/redis"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newClient(t)
	store := redis.NewFromClient(client)
	ports.RunSessionStoreContract(t, store)
}

func TestRedisCooldownStore_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunCooldownStoreContract(t, redis.NewCooldownStore(client, "test:"))
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	mr, client := newClient(t)

	store := redis.NewFromClient(client, redis.WithTTL(1*time.Second))
	ctx := context.Background()
	chatID := "chat-ttl"

	require.NoError(t, store.Save(ctx, domain.NewSession(chatID, time.Now())))

	chats, err := store.List(ctx)
	assert.NoError(t, err)
	assert.Contains(t, chats, chatID)

	// Key expiration is driven by the miniredis clock.
	mr.FastForward(2 * time.Second)

	_, err = store.Load(ctx, chatID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	// Index pruning compares scores with time.Now, so wall time must pass the TTL.
	time.Sleep(1200 * time.Millisecond)

	chats, err = store.List(ctx)
	assert.NoError(t, err)
	assert.Empty(t, chats)
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, client := newClient(t)

	store := redis.NewFromClient(client, redis.WithPrefix("custom:app:"))
	ctx := context.Background()
	chatID := "my-chat"

	require.NoError(t, store.Save(ctx, domain.NewSession(chatID, time.Now())))

	assert.True(t, mr.Exists("custom:app:chat:my-chat"), "Expected key with custom prefix to exist")
	assert.True(t, mr.Exists("custom:app:index"), "Expected index with custom prefix to exist")

	list, err := store.List(ctx)
	assert.NoError(t, err)
	assert.Contains(t, list, chatID)
	assert.NoError(t, store.Ping(ctx))
}

func TestRedisCooldownStore_KeyTTL(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewCooldownStore(client, "")
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "c", time.Now(), 4*time.Second))
	assert.Equal(t, 4*time.Second, mr.TTL("chatflow:cooldown:c"))

	mr.FastForward(5 * time.Second)
	_, ok, err := store.Get(ctx, "c")
	require.NoError(t, err)
	assert.False(t, ok)
}
