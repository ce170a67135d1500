package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotAcquired is returned when a lock cannot be acquired
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when trying to release a lock not held
	ErrLockNotHeld = errors.New("lock not held")
)

const defaultWait = 30 * time.Second

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Lock represents a held distributed lock
type Lock struct {
	client *Client
	key    string
	value  string
}

// Locker hands out SET NX locks with owner tokens.
type Locker struct {
	client    *Client
	keyPrefix string
	wait      time.Duration
}

// NewLocker creates a Locker. wait bounds how long Lock retries; zero means 30s.
func NewLocker(client *Client, keyPrefix string, wait time.Duration) *Locker {
	if keyPrefix == "" {
		keyPrefix = "lock:"
	}
	if wait <= 0 {
		wait = defaultWait
	}
	return &Locker{client: client, keyPrefix: keyPrefix, wait: wait}
}

// Acquire makes a single attempt.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	lockKey := l.keyPrefix + key
	lockValue := uuid.NewString()

	ok, err := l.client.rdb.SetNX(ctx, lockKey, lockValue, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired lock: %s", key)
	return &Lock{client: l.client, key: lockKey, value: lockValue}, nil
}

// TryAcquire retries with capped exponential backoff until timeout.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl, timeout time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)
	backoff := 10 * time.Millisecond

	for time.Now().Before(deadline) {
		lock, err := l.Acquire(ctx, key, ttl)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 500*time.Millisecond {
				backoff = 500 * time.Millisecond
			}
		}
	}
	return nil, ErrLockNotAcquired
}

// Lock blocks up to the locker's wait and returns the release function.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.TryAcquire(ctx, key, ttl, l.wait)
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}

// Release deletes the lock if this holder still owns it.
func (lock *Lock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.value).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	lock.client.logger.WithContext(ctx).Debugf("Released lock: %s", lock.key)
	return nil
}

// Extend resets the TTL if this holder still owns the lock.
func (lock *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := extendScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}
