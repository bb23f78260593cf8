package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bluquist/bluquist/kvstore"
	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	Namespace             string
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
}

// Limiter enforces per-account and per-IP failed-login budgets using Redis
// counters shared by every instance.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Namespace == "" {
		cfg.Namespace = "bluquist"
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Enabled reports whether a login budget is configured.
func (l *Limiter) Enabled() bool {
	return l != nil && l.config.MaxLoginAttempts > 0
}

func (l *Limiter) loginUserKey(mail string) string {
	return l.config.Namespace + "_rl_login_" + strings.ToLower(mail)
}

func (l *Limiter) loginIPKey(ip string) string {
	return l.config.Namespace + "_rl_ip_" + ip
}

// CheckLogin returns ErrRateLimited when the account, or the client IP with
// IP throttling enabled, has used up its failed-login budget.
func (l *Limiter) CheckLogin(ctx context.Context, mail, ip string) error {
	if !l.Enabled() {
		return nil
	}
	if err := l.checkCounter(ctx, l.loginUserKey(mail)); err != nil {
		return err
	}

	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, l.loginIPKey(ip)); err != nil {
			return err
		}
	}

	return nil
}

// IncrementLogin records a failed login attempt for the account and IP.
func (l *Limiter) IncrementLogin(ctx context.Context, mail, ip string) error {
	if !l.Enabled() {
		return nil
	}
	if _, err := l.incrementWithTTL(ctx, l.loginUserKey(mail), l.config.LoginCooldownDuration); err != nil {
		return err
	}

	if l.config.EnableIPThrottle && ip != "" {
		if _, err := l.incrementWithTTL(ctx, l.loginIPKey(ip), l.config.LoginCooldownDuration); err != nil {
			return err
		}
	}

	return nil
}

// ResetLogin clears the account counter after a successful login. The IP
// counter is left to its window so one valid account cannot launder an
// address that is guessing others.
func (l *Limiter) ResetLogin(ctx context.Context, mail string) error {
	if !l.Enabled() {
		return nil
	}
	if err := l.redis.Del(ctx, l.loginUserKey(mail)).Err(); err != nil {
		return fmt.Errorf("%w: %v", kvstore.ErrUnavailable, err)
	}
	return nil
}

// LoginAttempts returns the current failed-attempt counter for an account.
func (l *Limiter) LoginAttempts(ctx context.Context, mail string) (int, error) {
	count, err := l.redis.Get(ctx, l.loginUserKey(mail)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", kvstore.ErrUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", kvstore.ErrUnavailable, err)
	}

	if count >= int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", kvstore.ErrUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", kvstore.ErrUnavailable, err)
		}
	}

	return count, nil
}
