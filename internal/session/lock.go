package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"flowbot/internal/model"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Locker serializes turns per session key. Acquire blocks until the lock
// is held or ctx is done, in which case it fails with model.ErrTimeout.
type Locker interface {
	Acquire(ctx context.Context, key model.SessionKey) (release func(), err error)
}

func lockTimeout(key model.SessionKey, err error) error {
	return model.E("session.Acquire", model.ErrTimeout, fmt.Errorf("waiting for lock on %s: %w", key, err))
}

type localLock struct {
	ch      chan struct{}
	waiters int
}

// LocalLocker is an in-process per-key mutex that honours context deadlines.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[model.SessionKey]*localLock
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[model.SessionKey]*localLock)}
}

func (l *LocalLocker) Acquire(ctx context.Context, key model.SessionKey) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.waiters++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.done(key, lk)
		return nil, lockTimeout(key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.ch
			l.done(key, lk)
		})
	}, nil
}

func (l *LocalLocker) done(key model.SessionKey, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.waiters--
	if lk.waiters == 0 {
		delete(l.locks, key)
	}
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a lease-based lock shared by every engine instance using
// the same Redis. The lease must outlive the longest turn.
type RedisLocker struct {
	rdb   *redis.Client
	lease time.Duration
	retry time.Duration
	log   *zap.Logger
}

// NewRedisLocker creates a RedisLocker; a lease of 0 means 30s.
func NewRedisLocker(rdb *redis.Client, lease time.Duration, log *zap.Logger) *RedisLocker {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &RedisLocker{rdb: rdb, lease: lease, retry: 20 * time.Millisecond, log: log}
}

func lockKey(key model.SessionKey) string {
	return "lock:session:" + key.String()
}

func (l *RedisLocker) Acquire(ctx context.Context, key model.SessionKey) (func(), error) {
	redisKey := lockKey(key)
	token := ulid.Make().String()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, redisKey, token, l.lease).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, lockTimeout(key, ctx.Err())
			}
			return nil, model.E("session.Acquire", model.ErrStoreUnavailable, err)
		}
		if ok {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, lockTimeout(key, ctx.Err())
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			released, err := unlockScript.Run(releaseCtx, l.rdb, []string{redisKey}, token).Int64()
			switch {
			case err != nil:
				l.log.Warn("Failed to release session lock, waiting for lease expiry",
					zap.String("key", redisKey), zap.Duration("lease", l.lease), zap.Error(err))
			case released == 0:
				l.log.Warn("Session lock lease expired before release", zap.String("key", redisKey))
			}
		})
	}, nil
}
