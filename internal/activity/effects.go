package activity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// EffectStore remembers the effect id produced for a key so a replayed
// activity returns the original id instead of acting twice.
type EffectStore interface {
	// Claim stores effectID under key unless a value exists, and returns
	// whichever value is stored afterwards.
	Claim(ctx context.Context, key, effectID string) (string, error)
}

type RedisEffectStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisEffectStore(rdb *redis.Client, ttl time.Duration) *RedisEffectStore {
	return &RedisEffectStore{rdb: rdb, ttl: ttl}
}

func (s *RedisEffectStore) Claim(ctx context.Context, key, effectID string) (string, error) {
	ok, err := s.rdb.SetNX(ctx, key, effectID, s.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("Claim: %w", err)
	}
	if ok {
		return effectID, nil
	}
	stored, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("Claim: get %s: %w", key, err)
	}
	return stored, nil
}

// MemoryEffectStore is a process-local EffectStore for tests and for running
// without Redis.
type MemoryEffectStore struct {
	mu      sync.Mutex
	effects map[string]string
}

func NewMemoryEffectStore() *MemoryEffectStore {
	return &MemoryEffectStore{effects: make(map[string]string)}
}

func (s *MemoryEffectStore) Claim(_ context.Context, key, effectID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.effects[key]; ok {
		return v, nil
	}
	s.effects[key] = effectID
	return effectID, nil
}

// NewRedisClient parses url, connects and pings.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("NewRedisClient: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("NewRedisClient: ping: %w", err)
	}
	return rdb, nil
}
