package lockstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store against a shared Redis instance. Locks are
// hashes of holder → expiry-millis so AllLocks can enumerate holders;
// atomicity of AcquireLock comes from server-side script execution.
type RedisStore struct {
	client *redis.Client
}

// acquireScript claims the lock iff no live claim by another holder
// exists. Expired fields are pruned first; the key TTL is pushed out to
// cover the newest claim. EVAL runs atomically on the server.
var acquireScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local expires = tonumber(ARGV[2])
local holder = ARGV[3]
local ttl_ms = tonumber(ARGV[4])

local fields = redis.call('HGETALL', KEYS[1])
for i = 1, #fields, 2 do
	if tonumber(fields[i+1]) <= now then
		redis.call('HDEL', KEYS[1], fields[i])
	end
end

local n = redis.call('HLEN', KEYS[1])
if n == 0 or (n == 1 and redis.call('HEXISTS', KEYS[1], holder) == 1) then
	redis.call('HSET', KEYS[1], holder, expires)
	redis.call('PEXPIRE', KEYS[1], ttl_ms)
	return 1
end
return 0
`)

// NewRedisStore connects to Redis at addr and verifies connectivity.
func NewRedisStore(addr string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }

// Get returns the value at key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

// Set writes key=value with the given TTL.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// SetNX writes key=value with the given TTL only if key is absent.
func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// Expire refreshes the TTL of an existing key.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis expire %s: %w", key, err)
	}
	return ok, nil
}

// Del removes a key.
func (s *RedisStore) Del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// AcquireLock atomically claims key for holder via the server-side script.
func (s *RedisStore) AcquireLock(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := acquireScript.Run(ctx, s.client, []string{key},
		now.UnixMilli(),
		now.Add(ttl).UnixMilli(),
		holder,
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis acquire %s: %w", key, err)
	}
	return res == 1, nil
}

// ReleaseLock drops holder's claim on key.
func (s *RedisStore) ReleaseLock(ctx context.Context, key, holder string) error {
	if err := s.client.HDel(ctx, key, holder).Err(); err != nil {
		return fmt.Errorf("redis release %s: %w", key, err)
	}
	return nil
}

// LockHolders enumerates unexpired claims on key.
func (s *RedisStore) LockHolders(ctx context.Context, key string) (map[string]time.Time, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis holders %s: %w", key, err)
	}

	now := time.Now()
	out := make(map[string]time.Time, len(fields))
	for holder, raw := range fields {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		exp := time.UnixMilli(ms)
		if exp.After(now) {
			out[holder] = exp
		}
	}
	return out, nil
}
