package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

func cacheKey(userID, date string) string {
	return userID + "|" + date
}

// MemoryCache is a bounded in-process LRU. Keys include the date, so a
// session id cached yesterday can never be returned today.
type MemoryCache struct {
	lru *lru.Cache[string, string]
}

func NewMemoryCache(size int) (*MemoryCache, error) {
	if size < 1 {
		size = 1024
	}
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("creating session cache: %w", err)
	}
	return &MemoryCache{lru: c}, nil
}

func (m *MemoryCache) Get(_ context.Context, userID, date string) (string, bool, error) {
	id, ok := m.lru.Get(cacheKey(userID, date))
	return id, ok, nil
}

func (m *MemoryCache) Put(_ context.Context, userID, date, sessionID string) error {
	m.lru.Add(cacheKey(userID, date), sessionID)
	return nil
}

// RedisCache shares the session mapping across router replicas. Entries
// expire after ttl, which only needs to outlive one calendar day.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "airouter:session:"
	}
	if ttl <= 0 {
		ttl = 26 * time.Hour
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, userID, date string) (string, bool, error) {
	id, err := r.client.Get(ctx, r.prefix+cacheKey(userID, date)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get session: %w", err)
	}
	return id, true, nil
}

func (r *RedisCache) Put(ctx context.Context, userID, date, sessionID string) error {
	if err := r.client.Set(ctx, r.prefix+cacheKey(userID, date), sessionID, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}
