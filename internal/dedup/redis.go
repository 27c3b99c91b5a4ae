package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "reminder:dedup:"

// RedisCache keeps delivered keys in Redis so they survive restarts.
type RedisCache struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(ctx context.Context, redisURL string, retention time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisCacheWithClient(client, retention), nil
}

func NewRedisCacheWithClient(client *redis.Client, retention time.Duration) *RedisCache {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisCache{client: client, retention: retention}
}

func (r *RedisCache) HasSent(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (r *RedisCache) MarkSent(ctx context.Context, key string, at time.Time, hold time.Duration) error {
	if err := r.client.Set(ctx, redisKeyPrefix+key, encodeStamp(at, hold), ttl(r.retention, hold)).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// PurgeOlderThan complements key TTLs for entries written with a longer
// retention by an earlier configuration.
func (r *RedisCache) PurgeOlderThan(ctx context.Context, horizon time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-horizon)
	dropped := 0
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return dropped, fmt.Errorf("redis get: %w", err)
		}
		if stale(raw, cutoff, now) {
			if err := r.client.Del(ctx, key).Err(); err != nil {
				return dropped, fmt.Errorf("redis del: %w", err)
			}
			dropped++
		}
	}
	if err := iter.Err(); err != nil {
		return dropped, fmt.Errorf("redis scan: %w", err)
	}
	return dropped, nil
}

func (r *RedisCache) Len(ctx context.Context) (int, error) {
	count := 0
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}
	return count, nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
