package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "marketpulse/internal/errors"
)

// RedisStore implements the cache on top of redis
type RedisStore struct {
	client *redis.Client

	hits   int64
	misses int64
}

// NewRedisStore connects to redis and verifies the connection
func NewRedisStore(cfg *Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeCacheConnection, "failed to connect to redis")
	}

	return &RedisStore{client: client}, nil
}

// Get retrieves a value; the second return reports presence
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		atomic.AddInt64(&r.misses, 1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.WrapError(err, apperrors.ErrCodeCacheOperation, "redis get failed")
	}
	atomic.AddInt64(&r.hits, 1)
	return value, true, nil
}

// Set stores a value with a TTL
func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeCacheOperation, "redis set failed")
	}
	return nil
}

// Delete removes a key
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeCacheOperation, "redis del failed")
	}
	return nil
}

// Stats returns local hit/miss counters; redis keyspace size is not tracked
func (r *RedisStore) Stats() Stats {
	return Stats{
		Backend: "redis",
		Hits:    atomic.LoadInt64(&r.hits),
		Misses:  atomic.LoadInt64(&r.misses),
	}
}

// Close closes the redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}
