// Package lock serializes mutations of one owner's workspace.
package lock

import (
	"context"
	"sync"
	"time"

	"contractlab/internal/common/cache"
	appErr "contractlab/pkg/errors"
	"contractlab/pkg/utils/logger"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

const (
	defaultWait  = 30 * time.Second
	defaultTTL   = 5 * time.Minute
	pollInterval = 100 * time.Millisecond
	keyPrefix    = "contractlab:workspace:lock:"
)

// Locker hands out one exclusive hold per key. The returned func releases it
// and is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker holds per-key semaphores in process memory.
type LocalLocker struct {
	slots *xsync.MapOf[string, chan struct{}]
	wait  time.Duration
}

// NewLocalLocker creates a locker that gives up after wait.
func NewLocalLocker(wait time.Duration) *LocalLocker {
	if wait <= 0 {
		wait = defaultWait
	}
	return &LocalLocker{slots: xsync.NewMapOf[string, chan struct{}](), wait: wait}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	slot, _ := l.slots.LoadOrCompute(key, func() chan struct{} {
		return make(chan struct{}, 1)
	})
	timer := time.NewTimer(l.wait)
	defer timer.Stop()
	select {
	case slot <- struct{}{}:
	case <-timer.C:
		return nil, appErr.Newf(appErr.LockFailed, "workspace %s is busy", key)
	case <-ctx.Done():
		return nil, appErr.Wrapf(ctx.Err(), appErr.LockFailed, "wait for workspace %s cancelled", key)
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-slot })
	}, nil
}

// RedisConfig tunes RedisLocker.
type RedisConfig struct {
	TTL  time.Duration `yaml:"ttl"`
	Wait time.Duration `yaml:"wait"`
}

// RedisLocker uses a token-owned Redis key so several service replicas can
// share one workspace volume. The key is refreshed while held.
type RedisLocker struct {
	ops  cache.LockOps
	ttl  time.Duration
	wait time.Duration
}

// NewRedisLocker creates a Redis-backed locker.
func NewRedisLocker(ops cache.LockOps, cfg RedisConfig) *RedisLocker {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Wait <= 0 {
		cfg.Wait = defaultWait
	}
	return &RedisLocker{ops: ops, ttl: cfg.TTL, wait: cfg.Wait}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.ops.TryLock(ctx, redisKey, token, l.ttl)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.LockFailed, "acquire workspace lock failed")
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, appErr.Newf(appErr.LockFailed, "workspace %s is busy", key)
		}
		select {
		case <-ctx.Done():
			return nil, appErr.Wrapf(ctx.Err(), appErr.LockFailed, "wait for workspace %s cancelled", key)
		case <-time.After(pollInterval):
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(context.WithoutCancel(ctx), redisKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			bg := context.WithoutCancel(ctx)
			if err := l.ops.Unlock(bg, redisKey, token); err != nil {
				logger.Warn(bg, "release workspace lock failed", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

func (l *RedisLocker) keepAlive(ctx context.Context, key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := l.ops.ExtendLock(ctx, key, token, l.ttl); err != nil {
				logger.Warn(ctx, "extend workspace lock failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
}
