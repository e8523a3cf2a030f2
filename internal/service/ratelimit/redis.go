package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var incrementScript = redis.NewScript(`
local key = KEYS[1]
local ttl = tonumber(ARGV[1])
local current = redis.call('INCR', key)
if current == 1 then
  redis.call('PEXPIRE', key, ttl)
end
return current
`)

var acquireScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local current = tonumber(redis.call('GET', key) or '0')
if limit <= 0 or current < limit then
  current = redis.call('INCR', key)
  if ttl > 0 then
    redis.call('PEXPIRE', key, ttl)
  end
  return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
local key = KEYS[1]
local current = tonumber(redis.call('GET', key) or '0')
if current <= 1 then
  redis.call('DEL', key)
  return 0
end
return redis.call('DECR', key)
`)

// RedisWindow shares the per-business rate window across engine instances.
type RedisWindow struct {
	client *redis.Client
	prefix string
}

func NewRedisWindow(client *redis.Client, prefix string) *RedisWindow {
	return &RedisWindow{client: client, prefix: prefix}
}

func (w *RedisWindow) key(key string) string {
	return fmt.Sprintf("%s:ratelimit:%s", w.prefix, key)
}

// Allow reads the counter without touching it.
func (w *RedisWindow) Allow(ctx context.Context, key string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	raw, err := w.client.Get(ctx, w.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("ratelimit allow: %w", err)
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return false, fmt.Errorf("ratelimit allow: parse counter: %w", err)
	}
	return count < limit, nil
}

// Increment counts one call. The first hit of a window sets its expiry.
func (w *RedisWindow) Increment(ctx context.Context, key string) error {
	if err := incrementScript.Run(ctx, w.client, []string{w.key(key)}, Period.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("ratelimit increment: %w", err)
	}
	return nil
}

// RedisConcurrency coordinates per-business concurrent calls using Redis counters.
type RedisConcurrency struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisConcurrency constructs the limiter. The ttl bounds how long a slot
// leaked by a crashed instance stays held.
func NewRedisConcurrency(client *redis.Client, prefix string, ttl time.Duration) *RedisConcurrency {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisConcurrency{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisConcurrency) key(key string) string {
	return fmt.Sprintf("%s:outbound:%s:active", c.prefix, key)
}

// Acquire attempts to reserve a slot for the key.
func (c *RedisConcurrency) Acquire(ctx context.Context, key string, limit int) (bool, error) {
	res, err := acquireScript.Run(ctx, c.client, []string{c.key(key)}, limit, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("concurrency acquire: %w", err)
	}
	return res == 1, nil
}

// Release frees a previously acquired slot.
func (c *RedisConcurrency) Release(ctx context.Context, key string) error {
	if _, err := releaseScript.Run(ctx, c.client, []string{c.key(key)}).Int(); err != nil {
		return fmt.Errorf("concurrency release: %w", err)
	}
	return nil
}
