package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrUnavailable wraps every failure to reach the backing store.
	ErrUnavailable = errors.New("key-value store unavailable")

	// ErrLockTimeout is returned when the advisory lock could not be acquired
	// within the configured wait. It also matches ErrUnavailable.
	ErrLockTimeout = fmt.Errorf("%w: lock acquisition timed out", ErrUnavailable)

	// ErrLockLost is returned on release when the lease lapsed and the lock
	// was taken over by another holder before the critical section finished.
	ErrLockLost = errors.New("lock lease lost before release")
)

const (
	defaultLockLease = 5 * time.Second
	defaultLockWait  = 2 * time.Second
	defaultLockRetry = 10 * time.Millisecond
)

// Only the holder that set the token may delete the lock.
const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseLockLua = redis.NewScript(releaseLockScript)

// Lock is a lease-based advisory lock stored in Redis. It serializes only the
// callers that acquire it; it does not guard keys against direct writes.
type Lock struct {
	redis redis.UniversalClient
	key   string
	lease time.Duration
	wait  time.Duration
	retry time.Duration
}

// Lease is a held [Lock]. Release it exactly once.
type Lease struct {
	lock  *Lock
	token string
}

// NewLock returns a lock on key. Non-positive durations fall back to
// defaults (5s lease, 2s wait, 10ms retry interval).
func NewLock(client redis.UniversalClient, key string, lease, wait, retry time.Duration) *Lock {
	if lease <= 0 {
		lease = defaultLockLease
	}
	if wait <= 0 {
		wait = defaultLockWait
	}
	if retry <= 0 {
		retry = defaultLockRetry
	}
	return &Lock{
		redis: client,
		key:   key,
		lease: lease,
		wait:  wait,
		retry: retry,
	}
}

// Key returns the Redis key backing the lock.
func (l *Lock) Key() string {
	return l.key
}

// Acquire blocks until the lock is held, the wait budget is exhausted
// ([ErrLockTimeout]) or ctx is done.
func (l *Lock) Acquire(ctx context.Context) (*Lease, error) {
	token := uuid.NewString()

	deadline := time.NewTimer(l.wait)
	defer deadline.Stop()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.redis.SetNX(ctx, l.key, token, l.lease).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if ok {
			return &Lease{lock: l, token: token}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-deadline.C:
			return nil, ErrLockTimeout
		case <-ticker.C:
		}
	}
}

// Release frees the lock if this lease still owns it.
func (ls *Lease) Release(ctx context.Context) error {
	if ls == nil || ls.lock == nil {
		return nil
	}

	released, err := releaseLockLua.Run(ctx, ls.lock.redis, []string{ls.lock.key}, ls.token).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if released == 0 {
		return ErrLockLost
	}
	return nil
}

// WithLock runs fn while holding the lock. The lock is released on every
// exit path, including panics in fn; release runs even if ctx was cancelled.
func (l *Lock) WithLock(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	lease, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		releaseErr := lease.Release(context.WithoutCancel(ctx))
		if err == nil {
			err = releaseErr
		}
	}()

	return fn(ctx)
}
