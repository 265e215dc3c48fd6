package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gigsync/internal/client"

	"github.com/redis/go-redis/v9"
)

var _ client.Cache = (*RedisCache)(nil)

// scanBatch is the COUNT hint passed to SCAN while clearing.
const scanBatch = 200

// RedisCache keeps GET payloads in Redis so a restarted process starts warm.
// Staleness is decided by the client from Entry.StoredAt; the Redis expiry is
// only a retention bound.
type RedisCache struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(redisAddr, password string, db int, prefix string, retention time.Duration) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: password,
		DB:       db,
	})
	return NewRedisCacheFromClient(rdb, prefix, retention)
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(rdb *redis.Client, prefix string, retention time.Duration) *RedisCache {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisCache{client: rdb, prefix: prefix, retention: retention}
}

// Ping checks connectivity.
func (r *RedisCache) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// Get retrieves an entry. A miss returns nil, nil.
func (r *RedisCache) Get(ctx context.Context, key string) (*client.Entry, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}

	var entry client.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decoding cache entry: %w", err)
	}
	return &entry, nil
}

// Set stores an entry.
func (r *RedisCache) Set(ctx context.Context, entry *client.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+entry.Key, data, r.retention).Err(); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Clear deletes entries under the prefix whose key matches pattern.
func (r *RedisCache) Clear(ctx context.Context, pattern *regexp.Regexp) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("scanning cache keys: %w", err)
		}

		var doomed []string
		for _, k := range keys {
			if pattern == nil || pattern.MatchString(strings.TrimPrefix(k, r.prefix)) {
				doomed = append(doomed, k)
			}
		}
		if len(doomed) > 0 {
			if err := r.client.Del(ctx, doomed...).Err(); err != nil {
				return fmt.Errorf("deleting cache keys: %w", err)
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close closes the Redis connection.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
