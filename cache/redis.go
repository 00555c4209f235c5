package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"stock-anomaly/logging"
)

// ErrUnavailable is returned by a nil client
var ErrUnavailable = errors.New("redis client not initialized")

// RedisClient wraps redis.Client. A nil *RedisClient is valid and behaves as an empty cache.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client, returning nil when the server does not answer
func NewRedisClient(host string, port int, password string, db int) *RedisClient {
	logger := logging.Component("cache")
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", addr).Msg("Failed to connect to Redis, caching disabled")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", addr).Msg("Connected to Redis")
	return &RedisClient{client: client}
}

// NewFromClient wraps an existing client
func NewFromClient(client *redis.Client) *RedisClient {
	return &RedisClient{client: client}
}

func (r *RedisClient) ready() bool {
	return r != nil && r.client != nil
}

// Set stores a value in Redis with expiration
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if !r.ready() {
		return ErrUnavailable
	}

	jsonBytes, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, key, jsonBytes, expiration).Err()
}

// Get retrieves a value from Redis. A missing key returns redis.Nil.
func (r *RedisClient) Get(ctx context.Context, key string, dest interface{}) error {
	if !r.ready() {
		return ErrUnavailable
	}

	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}

	return json.Unmarshal(val, dest)
}

// Delete removes keys from Redis
func (r *RedisClient) Delete(ctx context.Context, keys ...string) error {
	if !r.ready() {
		return ErrUnavailable
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// DeletePattern removes every key matching a glob pattern and returns how many were deleted
func (r *RedisClient) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if !r.ready() {
		return 0, ErrUnavailable
	}

	deleted := 0
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return deleted, err
			}
			deleted += len(batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return deleted, err
		}
		deleted += len(batch)
	}
	return deleted, nil
}

// Exists checks if a key exists in Redis
func (r *RedisClient) Exists(ctx context.Context, key string) bool {
	if !r.ready() {
		return false
	}

	result, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false
	}

	return result > 0
}

// Publish sends a message to a channel
func (r *RedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	if !r.ready() {
		return ErrUnavailable
	}

	jsonBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	return r.client.Publish(ctx, channel, jsonBytes).Err()
}

// Subscribe subscribes to a channel. Returns nil when Redis is unavailable.
func (r *RedisClient) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	if !r.ready() {
		return nil
	}
	return r.client.Subscribe(ctx, channel)
}

// Ping checks the connection
func (r *RedisClient) Ping(ctx context.Context) error {
	if !r.ready() {
		return ErrUnavailable
	}
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	if r.ready() {
		return r.client.Close()
	}
	return nil
}

// IsMiss reports whether err means the key was absent or the cache is disabled
func IsMiss(err error) bool {
	return errors.Is(err, redis.Nil) || errors.Is(err, ErrUnavailable)
}
