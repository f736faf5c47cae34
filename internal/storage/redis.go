package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"yakkl-background/internal/domain"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "yakkl"

// RedisStore persists JSON values in Redis under "yakkl:<area>:<key>"
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing Redis client
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(area domain.StorageArea, key string) string {
	return keyPrefix + ":" + string(area) + ":" + key
}

func (s *RedisStore) Get(ctx context.Context, area domain.StorageArea, key string, dst any) (bool, error) {
	raw, err := s.client.Get(ctx, redisKey(area, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s/%s: %w", area, key, err)
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s/%s: %w", area, key, err)
	}
	return true, nil
}

func (s *RedisStore) Set(ctx context.Context, area domain.StorageArea, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", area, key, err)
	}

	if err := s.client.Set(ctx, redisKey(area, key), raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", area, key, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, area domain.StorageArea, key string) error {
	if err := s.client.Del(ctx, redisKey(area, key)).Err(); err != nil {
		return fmt.Errorf("failed to remove %s/%s: %w", area, key, err)
	}
	return nil
}

// Ping reports whether Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
