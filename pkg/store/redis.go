package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrContention is returned when Update cannot take the key lock within the
// lock wait, or loses it before committing.
var ErrContention = errors.New("store: too much contention on key")

// commitScript writes the new value only while the caller still holds the
// key lock, then releases it.
// KEYS[1] = lock key, KEYS[2] = value key
// ARGV[1] = lock token, ARGV[2] = value, ARGV[3] = ttl in milliseconds (0 = none)
var commitScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
    return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
    redis.call("SET", KEYS[2], ARGV[2], "PX", ttl)
else
    redis.call("SET", KEYS[2], ARGV[2])
end
redis.call("DEL", KEYS[1])
return 1
`)

// releaseScript deletes the key lock if the caller still holds it.
// KEYS[1] = lock key, ARGV[1] = lock token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	lockPollMin = 2 * time.Millisecond
	lockPollMax = 50 * time.Millisecond
)

// RedisStore implements Store on Redis. Expiry is delegated to Redis key
// TTLs, so Cleanup is a no-op. Update serializes writers per key with a
// short-lived lock.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	lockTTL  time.Duration
	lockWait time.Duration
	logger   *slog.Logger
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	// URL is a redis:// or rediss:// connection URL.
	URL string

	// KeyPrefix is prepended to every key. Default: "relay:"
	KeyPrefix string

	// DialTimeout bounds the initial connectivity check. Default: 5 seconds
	DialTimeout time.Duration

	// LockTTL expires a key lock whose holder died. Default: 5 seconds
	LockTTL time.Duration

	// LockWait bounds how long Update waits for a key lock. Default: 2 seconds
	LockWait time.Duration
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	opts.DialTimeout = cfg.DialTimeout

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	s := NewRedisStoreFromClient(client, cfg.KeyPrefix)
	if cfg.LockTTL > 0 {
		s.lockTTL = cfg.LockTTL
	}
	if cfg.LockWait > 0 {
		s.lockWait = cfg.LockWait
	}
	s.logger.Info("redis store connected", "addr", opts.Addr, "db", opts.DB, "prefix", s.prefix)
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "relay:"
	}
	return &RedisStore{
		client:   client,
		prefix:   prefix,
		lockTTL:  5 * time.Second,
		lockWait: 2 * time.Second,
		logger:   slog.Default().With("component", "store.redis"),
	}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

// Get returns the value of key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &OpError{Backend: "redis", Op: "get", Key: key, Err: err}
	}
	return val, nil
}

// Put stores value under key.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return &OpError{Backend: "redis", Op: "put", Key: key, Err: err}
	}
	return nil
}

// PutIfAbsent stores value with SET NX.
func (s *RedisStore) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, &OpError{Backend: "redis", Op: "put_if_absent", Key: key, Err: err}
	}
	return ok, nil
}

// Update applies fn while holding the key lock. The value is written by
// commitScript, which refuses the write if the lock expired in between.
func (s *RedisStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	k := s.key(key)
	lock := k + ":lock"
	token := uuid.NewString()

	if err := s.acquire(ctx, key, lock, token); err != nil {
		return err
	}

	current, err := s.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		current = nil
	} else if err != nil {
		s.release(lock, token)
		return &OpError{Backend: "redis", Op: "update", Key: key, Err: err}
	}

	next, err := fn(current)
	if err != nil {
		s.release(lock, token)
		// Errors from fn pass through unchanged.
		return err
	}

	ok, err := commitScript.Run(ctx, s.client, []string{lock, k}, token, next, ttl.Milliseconds()).Int()
	if err != nil {
		s.release(lock, token)
		return &OpError{Backend: "redis", Op: "update", Key: key, Err: err}
	}
	if ok != 1 {
		s.logger.Warn("key lock expired before commit", "key", key, "lock_ttl", s.lockTTL)
		return &OpError{Backend: "redis", Op: "update", Key: key, Err: ErrContention}
	}
	return nil
}

// acquire takes the key lock, polling with backoff until lockWait elapses.
func (s *RedisStore) acquire(ctx context.Context, key, lock, token string) error {
	deadline := time.Now().Add(s.lockWait)
	wait := lockPollMin
	for {
		ok, err := s.client.SetNX(ctx, lock, token, s.lockTTL).Result()
		if err != nil {
			return &OpError{Backend: "redis", Op: "update", Key: key, Err: err}
		}
		if ok {
			return nil
		}
		if time.Now().Add(wait).After(deadline) {
			return &OpError{Backend: "redis", Op: "update", Key: key, Err: ErrContention}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &OpError{Backend: "redis", Op: "update", Key: key, Err: ctx.Err()}
		case <-timer.C:
		}
		wait = min(wait*2, lockPollMax)
	}
}

// release drops the key lock. It runs on a fresh context so a cancelled
// request does not leave the lock held until it expires.
func (s *RedisStore) release(lock, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, s.client, []string{lock}, token).Err(); err != nil {
		s.logger.Warn("failed to release key lock", "lock", lock, "error", err)
	}
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return &OpError{Backend: "redis", Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Cleanup is a no-op; Redis expires keys itself.
func (s *RedisStore) Cleanup(ctx context.Context) (int, error) {
	return 0, nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
