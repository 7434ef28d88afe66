package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrRefreshInProgress is returned when another caller holds the payout's refresh lock for too long.
var ErrRefreshInProgress = errors.New("payout refresh already in progress")

// PayoutLocker serializes read-modify-write cycles on a single payout.
type PayoutLocker interface {
	LockPayout(ctx context.Context, payoutID int64) (unlock func(), err error)
}

// RedisPayoutLocker holds a redsync mutex per payout so refreshes are serialized
// across every instance sharing the Redis.
type RedisPayoutLocker struct {
	rs         *redsync.Redsync
	prefix     string
	expiry     time.Duration
	tries      int
	retryDelay time.Duration
}

// NewRedisPayoutLocker creates a distributed locker. ttl bounds how long a crashed holder can block others.
func NewRedisPayoutLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisPayoutLocker {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "payouts"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisPayoutLocker{
		rs:         redsync.New(goredis.NewPool(client)),
		prefix:     trimmedPrefix,
		expiry:     ttl,
		tries:      40,
		retryDelay: 250 * time.Millisecond,
	}
}

func (l *RedisPayoutLocker) key(payoutID int64) string {
	return fmt.Sprintf("%s:lock:payout:%d", l.prefix, payoutID)
}

// LockPayout blocks until the lock is acquired, the retries run out or ctx is done.
func (l *RedisPayoutLocker) LockPayout(ctx context.Context, payoutID int64) (func(), error) {
	key := l.key(payoutID)
	mutex := l.rs.NewMutex(
		key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(l.tries),
		redsync.WithRetryDelay(l.retryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		msg := err.Error()
		if errors.Is(err, redsync.ErrFailed) ||
			strings.Contains(msg, "lock already taken") ||
			strings.Contains(msg, "failed to acquire lock") {
			log.Printf("level=warn component=payout_locker msg=\"lock contention\" key=%s", key)
			return nil, ErrRefreshInProgress
		}
		return nil, fmt.Errorf("acquire payout lock: %w", err)
	}

	return func() {
		// Release with a fresh context so a cancelled request still frees the lock.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(releaseCtx); !ok || err != nil {
			log.Printf("level=warn component=payout_locker msg=\"unlock failed\" key=%s err=%v", key, err)
		}
	}, nil
}

// LocalPayoutLocker is an in-process keyed mutex used when Redis is not configured.
type LocalPayoutLocker struct {
	mu    sync.Mutex
	locks map[int64]*localLock
}

type localLock struct {
	sem  chan struct{}
	refs int
}

// NewLocalPayoutLocker creates an in-process locker.
func NewLocalPayoutLocker() *LocalPayoutLocker {
	return &LocalPayoutLocker{locks: make(map[int64]*localLock)}
}

// LockPayout blocks until the payout's lock is free or ctx is done.
func (l *LocalPayoutLocker) LockPayout(ctx context.Context, payoutID int64) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[payoutID]
	if !ok {
		entry = &localLock{sem: make(chan struct{}, 1)}
		l.locks[payoutID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(payoutID, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			l.release(payoutID, entry)
		})
	}, nil
}

func (l *LocalPayoutLocker) release(payoutID int64, entry *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, payoutID)
	}
}
