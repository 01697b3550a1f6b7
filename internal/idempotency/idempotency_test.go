package idempotency

import (
	"context"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope(t *testing.T) {
	assert.Equal(t, "join:t-1:0xabc", Scope("join", " T-1", "0xABC "))
	assert.Equal(t, "create", Scope("create"))
}

func TestMemoryStoreReusesUntilExpiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	first, err := store.Key(ctx, "join:t-1:0xabc")
	require.NoError(t, err)
	again, _ := store.Key(ctx, "join:t-1:0xabc")
	assert.Equal(t, first, again)

	other, _ := store.Key(ctx, "join:t-2:0xabc")
	assert.NotEqual(t, first, other)

	now = now.Add(2 * time.Minute)
	expired, _ := store.Key(ctx, "join:t-1:0xabc")
	assert.NotEqual(t, first, expired)
}

func TestMemoryStoreRelease(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	first, _ := store.Key(ctx, "create:0xabc")
	require.NoError(t, store.Release(ctx, "create:0xabc"))
	second, _ := store.Key(ctx, "create:0xabc")
	assert.NotEqual(t, first, second)
}

// vanishingKey answers every SETNX as taken and every GET as missing, like a
// key that keeps expiring in between. No command reaches a server.
type vanishingKey struct {
	mu    sync.Mutex
	setNX int
	value string
}

func (h *vanishingKey) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *vanishingKey) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		switch c := cmd.(type) {
		case *redis.BoolCmd:
			h.setNX++
			c.SetVal(false)
			return nil
		case *redis.StringCmd:
			if h.value != "" {
				c.SetVal(h.value)
				return nil
			}
			c.SetErr(redis.Nil)
			return redis.Nil
		}
		return next(ctx, cmd)
	}
}

func (h *vanishingKey) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func hookedRedisStore(t *testing.T, hook redis.Hook) *RedisStore {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	client.AddHook(hook)
	store := NewRedisStore(client, time.Minute)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStoreGivesUpOnExpiringKey(t *testing.T) {
	hook := &vanishingKey{}
	store := hookedRedisStore(t, hook)

	_, err := store.Key(context.Background(), "join:t-1:0xabc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kept expiring")
	assert.Equal(t, keyAttempts, hook.setNX)
}

func TestRedisStoreReturnsExistingKey(t *testing.T) {
	hook := &vanishingKey{value: "existing-key"}
	store := hookedRedisStore(t, hook)

	key, err := store.Key(context.Background(), "join:t-1:0xabc")
	require.NoError(t, err)
	assert.Equal(t, "existing-key", key)
	assert.Equal(t, 1, hook.setNX)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("IDEMPOTENCY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("IDEMPOTENCY_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	store := NewRedisStore(client, time.Minute)
	t.Cleanup(func() { _ = store.Close() })

	scope := Scope("join", "t-redis", time.Now().Format(time.RFC3339Nano))
	first, err := store.Key(ctx, scope)
	require.NoError(t, err)
	again, err := store.Key(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	require.NoError(t, store.Release(ctx, scope))
	fresh, err := store.Key(ctx, scope)
	require.NoError(t, err)
	assert.NotEqual(t, first, fresh)
	_ = store.Release(ctx, scope)
}
