package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// UserLocker serialises work per user across goroutines (and, with Redis,
// across instances)
type UserLocker interface {
	Lock(ctx context.Context, userID string) (unlock func(), err error)
}

// localUserLocker keeps one mutex per user in this process
type localUserLocker struct {
	mu    sync.Mutex
	locks map[string]*userMutex
}

type userMutex struct {
	ch   chan struct{}
	refs int
}

// NewLocalUserLocker creates an in-process per-user lock
func NewLocalUserLocker() UserLocker {
	return &localUserLocker{locks: make(map[string]*userMutex)}
}

func (l *localUserLocker) Lock(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[userID]
	if !ok {
		m = &userMutex{ch: make(chan struct{}, 1)}
		l.locks[userID] = m
	}
	m.refs++
	l.mu.Unlock()

	select {
	case m.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, m)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-m.ch
			l.release(userID, m)
		})
	}, nil
}

func (l *localUserLocker) release(userID string, m *userMutex) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m.refs--
	if m.refs == 0 {
		delete(l.locks, userID)
	}
}

// redisUserLocker uses SET NX with a TTL so a crashed holder cannot block a
// user forever
type redisUserLocker struct {
	redis *RedisService
	ttl   time.Duration
	poll  time.Duration
}

// NewRedisUserLocker creates a distributed per-user lock
func NewRedisUserLocker(redis *RedisService, ttl time.Duration) UserLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &redisUserLocker{redis: redis, ttl: ttl, poll: 100 * time.Millisecond}
}

func (l *redisUserLocker) Lock(ctx context.Context, userID string) (func(), error) {
	key := "learning:lock:" + userID
	token := uuid.NewString()

	for {
		ok, err := l.redis.AcquireLock(ctx, key, token, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire learning lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-time.After(l.poll):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if released, err := l.redis.ReleaseLock(ctx, key, token); err != nil || !released {
			log.Printf("⚠️ [LEARNING] Lock for user %s expired before release (err: %v)", userID, err)
		}
	}, nil
}
