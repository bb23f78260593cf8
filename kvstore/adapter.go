package kvstore

import (
	"context"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const registryKey = "_dbs"

// Config controls key namespacing and lock timing for an [Adapter].
type Config struct {
	Prefix      string
	Environment string
	LockLease   time.Duration
	LockWait    time.Duration
	LockRetry   time.Duration
}

// Adapter is one named collection in the shared store. It holds no
// in-process state beyond key names; any number of adapters, in any number of
// processes, may share a collection.
type Adapter struct {
	redis      redis.UniversalClient
	collection string
	namespace  string
	varPrefix  string
	keylistKey string
	lock       *Lock
}

// New returns the adapter for collection. It performs no I/O; call
// [Adapter.Register] to record the namespace in the store registry.
func New(client redis.UniversalClient, cfg Config, collection string) *Adapter {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "bluquist"
	}
	env := cfg.Environment
	if env == "" {
		env = "dev"
	}

	namespace := prefix + "_" + env + "_" + collection
	mgmtPrefix := namespace + "_m_"
	keylistKey := mgmtPrefix + "keys"

	return &Adapter{
		redis:      client,
		collection: collection,
		namespace:  namespace,
		varPrefix:  namespace + "_v_",
		keylistKey: keylistKey,
		lock:       NewLock(client, keylistKey+"_lock", cfg.LockLease, cfg.LockWait, cfg.LockRetry),
	}
}

// Collection returns the logical collection name.
func (a *Adapter) Collection() string {
	return a.collection
}

// Namespace returns the fully qualified collection namespace.
func (a *Adapter) Namespace() string {
	return a.namespace
}

// Lock returns the collection's advisory lock.
func (a *Adapter) Lock() *Lock {
	return a.lock
}

func (a *Adapter) valueKey(key string) string {
	return a.varPrefix + key
}

// Register records the collection namespace in the shared registry set.
func (a *Adapter) Register(ctx context.Context) error {
	if err := a.redis.SAdd(ctx, registryKey, a.namespace).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Set serializes value under key and adds key to the membership index.
// Any expiry previously scheduled on the key is cleared.
func (a *Adapter) Set(ctx context.Context, key string, value any) error {
	data, err := marshalValue(value)
	if err != nil {
		return fmt.Errorf("kvstore: encode %s/%s: %w", a.collection, key, err)
	}

	return a.lock.WithLock(ctx, func(ctx context.Context) error {
		_, err := a.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SAdd(ctx, a.keylistKey, key)
			pipe.Set(ctx, a.valueKey(key), data, 0)
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	})
}

// Get decodes the value stored under key into dst. It reports false, and
// leaves dst untouched, when the key is absent.
func (a *Adapter) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := a.redis.Get(ctx, a.valueKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := unmarshalValue(data, dst); err != nil {
		return false, fmt.Errorf("kvstore: decode %s/%s: %w", a.collection, key, err)
	}
	return true, nil
}

// Unset removes the value and its index entry. Unsetting an absent key is
// not an error.
func (a *Adapter) Unset(ctx context.Context, key string) error {
	return a.lock.WithLock(ctx, func(ctx context.Context) error {
		_, err := a.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SRem(ctx, a.keylistKey, key)
			pipe.Del(ctx, a.valueKey(key))
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	})
}

// Expire schedules deletion of the value at the absolute time at. Redis
// expiry bypasses the index, so the key leaves the index now and Exists
// reports false even while Get still returns the value.
func (a *Adapter) Expire(ctx context.Context, key string, at time.Time) error {
	return a.lock.WithLock(ctx, func(ctx context.Context) error {
		_, err := a.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.PExpireAt(ctx, a.valueKey(key), at)
			pipe.SRem(ctx, a.keylistKey, key)
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	})
}

// Replace overwrites the value under key only if it still exists and
// schedules its deletion at at, like Set followed by Expire. It reports false
// and writes nothing when the key is absent, so a value removed by a
// concurrent Unset is never brought back.
func (a *Adapter) Replace(ctx context.Context, key string, value any, at time.Time) (bool, error) {
	data, err := marshalValue(value)
	if err != nil {
		return false, fmt.Errorf("kvstore: encode %s/%s: %w", a.collection, key, err)
	}

	var replaced bool
	err = a.lock.WithLock(ctx, func(ctx context.Context) error {
		var set *redis.BoolCmd
		_, err := a.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			set = pipe.SetXX(ctx, a.valueKey(key), data, 0)
			pipe.PExpireAt(ctx, a.valueKey(key), at)
			pipe.SRem(ctx, a.keylistKey, key)
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		replaced = set.Val()
		return nil
	})
	return replaced, err
}

// Exists is a membership-index lookup only.
func (a *Adapter) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := a.redis.SIsMember(ctx, a.keylistKey, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

// Ping checks store reachability and reports the round-trip latency.
func (a *Adapter) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}

func marshalValue(value any) ([]byte, error) {
	if m, ok := value.(encoding.BinaryMarshaler); ok {
		return m.MarshalBinary()
	}
	return json.Marshal(value)
}

func unmarshalValue(data []byte, dst any) error {
	if u, ok := dst.(encoding.BinaryUnmarshaler); ok {
		return u.UnmarshalBinary(data)
	}
	return json.Unmarshal(data, dst)
}
