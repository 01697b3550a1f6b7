// Package idempotency hands out Idempotency-Key values that stay stable for
// one logical operation, so resubmitting the same create or join after a
// crash or a client retry reaches the backend with the same key.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Store interface {
	// Key returns the key bound to scope, minting one if none is live.
	Key(ctx context.Context, scope string) (string, error)
	// Release forgets scope so the next Key mints a fresh value.
	Release(ctx context.Context, scope string) error
}

// Scope joins the parts that identify one logical operation.
func Scope(operation string, parts ...string) string {
	clean := make([]string, 0, len(parts)+1)
	clean = append(clean, operation)
	for _, p := range parts {
		clean = append(clean, strings.ToLower(strings.TrimSpace(p)))
	}
	return strings.Join(clean, ":")
}

type memoryEntry struct {
	key     string
	expires time.Time
}

type MemoryStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	keys map[string]memoryEntry
	now  func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, keys: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryStore) Key(_ context.Context, scope string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.keys[scope]; ok && now.Before(e.expires) {
		return e.key, nil
	}

	// sweep expired keys while we hold the lock
	for s, e := range m.keys {
		if !now.Before(e.expires) {
			delete(m.keys, s)
		}
	}

	key := uuid.NewString()
	m.keys[scope] = memoryEntry{key: key, expires: now.Add(m.ttl)}
	return key, nil
}

func (m *MemoryStore) Release(_ context.Context, scope string) error {
	m.mu.Lock()
	delete(m.keys, scope)
	m.mu.Unlock()
	return nil
}

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(scope string) string {
	return fmt.Sprintf("kana:idempotency:%s", scope)
}

// keyAttempts bounds how often Key retries a key that expired between SETNX
// and GET.
const keyAttempts = 3

func (r *RedisStore) Key(ctx context.Context, scope string) (string, error) {
	k := redisKey(scope)

	for i := 0; i < keyAttempts; i++ {
		candidate := uuid.NewString()
		ok, err := r.client.SetNX(ctx, k, candidate, r.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("failed to reserve idempotency key: %w", err)
		}
		if ok {
			return candidate, nil
		}

		val, err := r.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to read idempotency key: %w", err)
		}
		return val, nil
	}
	return "", fmt.Errorf("idempotency key for %s kept expiring after %d attempts", scope, keyAttempts)
}

func (r *RedisStore) Release(ctx context.Context, scope string) error {
	if err := r.client.Del(ctx, redisKey(scope)).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// Close shuts the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
