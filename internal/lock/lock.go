// Package lock provides a cross-process guard around period runs. It sits in
// front of the database row lock so contended runs fail fast instead of
// queueing on the row.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payroll-closing-backend/internal/apperr"

	"github.com/bsm/redislock"
)

// Release frees an acquired lock.
type Release func(ctx context.Context) error

type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// Noop never contends. Used when no redis address is configured.
type Noop struct{}

func (Noop) Acquire(context.Context, string) (Release, error) {
	return func(context.Context) error { return nil }, nil
}

// PeriodKey is the lock key of a closing period.
func PeriodKey(periodID string) string {
	return fmt.Sprintf("lock:closing-period:%s", periodID)
}

type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
}

func NewRedisLocker(rdb redislock.RedisClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl}
}

// Acquire obtains key without retrying. A held key is a CONCURRENCY error.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	lk, err := l.client.Obtain(ctx, key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, apperr.Concurrency(key, err)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		if err := lk.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}
