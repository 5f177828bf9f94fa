package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when a session lock could not be taken within
// the wait budget.
var ErrLockTimeout = errors.New("session lock wait timed out")

const (
	DefaultLockLease   = 2 * time.Minute
	defaultRetryPeriod = 50 * time.Millisecond
	lockKeyPrefix      = "rewindify:lock:"
)

// Locker serializes writers of one session.
type Locker interface {
	// Acquire blocks up to wait. The returned release func is idempotent.
	Acquire(ctx context.Context, key string, wait time.Duration) (func(), error)
	// TryAcquire never blocks.
	TryAcquire(ctx context.Context, key string) (func(), bool, error)
}

type memoryLock struct {
	ch   chan struct{}
	refs int
}

// MemoryLocker is an in-process lock table. Entries are dropped once no
// goroutine holds or waits for them.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*memoryLock
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*memoryLock)}
}

func (l *MemoryLocker) ref(key string) *memoryLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &memoryLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	return lk
}

func (l *MemoryLocker) unref(key string, lk *memoryLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *MemoryLocker) releaser(key string, lk *memoryLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.ch
			l.unref(key, lk)
		})
	}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	lk := l.ref(key)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case lk.ch <- struct{}{}:
		return l.releaser(key, lk), nil
	case <-timer.C:
		l.unref(key, lk)
		return nil, ErrLockTimeout
	case <-ctx.Done():
		l.unref(key, lk)
		return nil, ctx.Err()
	}
}

func (l *MemoryLocker) TryAcquire(_ context.Context, key string) (func(), bool, error) {
	lk := l.ref(key)
	select {
	case lk.ch <- struct{}{}:
		return l.releaser(key, lk), true, nil
	default:
		l.unref(key, lk)
		return nil, false, nil
	}
}

// Held reports the number of keys currently tracked.
func (l *MemoryLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a lease lock shared by every instance pointing at the same
// Redis. A holder that dies loses the lock when the lease expires.
type RedisLocker struct {
	client redis.UniversalClient
	lease  time.Duration
	retry  time.Duration
}

func NewRedisLocker(client redis.UniversalClient, lease time.Duration) *RedisLocker {
	if lease <= 0 {
		lease = DefaultLockLease
	}
	return &RedisLocker{client: client, lease: lease, retry: defaultRetryPeriod}
}

func (l *RedisLocker) key(key string) string {
	return lockKeyPrefix + key
}

func (l *RedisLocker) tryLock(ctx context.Context, key, token string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(key), token, l.lease).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

func (l *RedisLocker) releaser(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's context may already be cancelled
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = unlockScript.Run(ctx, l.client, []string{l.key(key)}, token).Err()
		})
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.tryLock(ctx, key, token)
		if err != nil {
			return nil, err
		}
		if ok {
			return l.releaser(key, token), nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.tryLock(ctx, key, token)
	if err != nil || !ok {
		return nil, false, err
	}
	return l.releaser(key, token), true, nil
}

var (
	_ Locker = (*MemoryLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)
