// Package exporter turns durably stored signals into batches and ships
// them to the ingestion server over multipart HTTP.
package exporter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	pkerrors "github.com/pulsekit/pulsekit/pkg/errors"
)

// Locker guards batch creation so only one creator runs at a time.
// The local implementation covers a single process; the Redis one
// covers multiple processes sharing a database.
type Locker interface {
	// TryAcquire attempts to take the lock without blocking. Returns a
	// release func on success, or a CodeLockHeld error when held.
	TryAcquire(ctx context.Context) (release func(), err error)
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu   sync.Mutex
	held bool
}

// NewLocalLocker creates a process-local lock.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

// TryAcquire implements Locker.
func (l *LocalLocker) TryAcquire(ctx context.Context) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, pkerrors.New(pkerrors.CodeLockHeld, "batch creation already in progress")
	}
	l.held = true
	return func() {
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
	}, nil
}

// RedisLocker coordinates batch creation across processes via SET NX.
type RedisLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLocker creates a distributed lock on the given client.
func NewRedisLocker(client *redis.Client, key string, ttl time.Duration) *RedisLocker {
	if key == "" {
		key = "pulsekit:lock:batch_creation"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, key: key, ttl: ttl}
}

// TryAcquire implements Locker. The release only deletes the key when
// it still holds this acquisition's token.
func (l *RedisLocker) TryAcquire(ctx context.Context) (func(), error) {
	token := fmt.Sprintf("%d", time.Now().UnixNano())

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, pkerrors.Wrap(err, pkerrors.CodeLockHeld, "failed to reach lock server")
	}
	if !ok {
		return nil, pkerrors.New(pkerrors.CodeLockHeld, "batch creation lock held by peer")
	}

	release := func() {
		script := redis.NewScript(`
			if redis.call("get", KEYS[1]) == ARGV[1] then
				return redis.call("del", KEYS[1])
			else
				return 0
			end
		`)
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		script.Run(releaseCtx, l.client, []string{l.key}, token)
	}
	return release, nil
}
