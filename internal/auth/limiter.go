package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const failureKeyPrefix = "login_failures:"

// LoginLimiter wraps Redis to count failed logins per email. Once an email
// reaches max failures it is locked out until the window since its first
// failure expires.
type LoginLimiter struct {
	rdb    *redis.Client
	max    int
	window time.Duration
}

func NewLoginLimiter(rdb *redis.Client, max int, window time.Duration) *LoginLimiter {
	return &LoginLimiter{rdb: rdb, max: max, window: window}
}

// Allowed reports whether another login attempt may be made for email.
func (l *LoginLimiter) Allowed(ctx context.Context, email string) (bool, error) {
	n, err := l.rdb.Get(ctx, failureKeyPrefix+email).Int()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failures: %w", err)
	}
	return n < l.max, nil
}

// Failed records one failed attempt. The window starts at the first failure.
func (l *LoginLimiter) Failed(ctx context.Context, email string) error {
	key := failureKeyPrefix + email
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, l.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis record failure: %w", err)
	}
	return nil
}

// Reset forgets the failures of email after a successful login.
func (l *LoginLimiter) Reset(ctx context.Context, email string) error {
	return l.rdb.Del(ctx, failureKeyPrefix+email).Err()
}
