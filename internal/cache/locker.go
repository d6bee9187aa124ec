package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
)

// AccountLocker serializes sync runs of one account across processes.
type AccountLocker struct {
	locks  *redislock.Client
	redis  *Redis
	ttl    time.Duration
	prefix string
}

// NewAccountLocker returns a locker whose locks expire after ttl.
func NewAccountLocker(r *Redis, ttl time.Duration) *AccountLocker {
	if ttl <= 0 {
		ttl = 3 * time.Hour
	}
	return &AccountLocker{
		locks:  redislock.New(r.Client()),
		redis:  r,
		ttl:    ttl,
		prefix: "sync:lock:account:",
	}
}

// Acquire takes the account lock. ok is false when another process holds it.
func (l *AccountLocker) Acquire(ctx context.Context, accountID string) (release func(), ok bool, err error) {
	lock, err := l.locks.Obtain(ctx, l.redis.key(l.prefix+accountID), l.ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("obtain account lock: %w", err)
	}
	release = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.redis.logger.Warn("release account lock failed", "account_id", accountID, "error", err)
		}
	}
	return release, true, nil
}
