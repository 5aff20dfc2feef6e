package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore persists the last-call timestamp.
type StateStore interface {
	LastCall(ctx context.Context) (time.Time, error)
	SetLastCall(ctx context.Context, t time.Time) error
}

// MemoryStore keeps the last-call timestamp in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	last time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// LastCall implements StateStore.
func (m *MemoryStore) LastCall(_ context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, nil
}

// SetLastCall implements StateStore.
func (m *MemoryStore) SetLastCall(_ context.Context, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = t
	return nil
}

// RedisStore shares the last-call timestamp between processes.
type RedisStore struct {
	redis *redis.Client
	key   string
}

// NewRedisStore creates a store backed by redisClient.
// Panics if redisClient is nil.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client must not be nil")
	}
	return &RedisStore{redis: redisClient, key: RedisKeyLastCall}
}

// LastCall implements StateStore. A missing key means no call yet.
func (r *RedisStore) LastCall(ctx context.Context) (time.Time, error) {
	nanos, err := r.redis.Get(ctx, r.key).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get last call: %w", err)
	}
	return time.Unix(0, nanos), nil
}

// SetLastCall implements StateStore. Timestamps never move backwards so a
// slower process cannot shorten the interval for a faster one.
func (r *RedisStore) SetLastCall(ctx context.Context, t time.Time) error {
	prev, err := r.LastCall(ctx)
	if err != nil {
		return err
	}
	if !prev.IsZero() && prev.After(t) {
		return nil
	}
	if err := r.redis.Set(ctx, r.key, t.UnixNano(), 0).Err(); err != nil {
		return fmt.Errorf("store last call in redis: %w", err)
	}
	return nil
}
