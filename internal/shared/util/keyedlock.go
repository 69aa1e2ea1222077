package util

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"disclosure-backend/internal/shared/apperr"
)

const (
	lockAcquireTimeout = 5 * time.Second
	lockRetryJitterMax = 250 * time.Millisecond
)

// KeyedLock provides an exclusive lock per string key. File-backed stores
// wrap every read-modify-write in one of these so updates to different
// records never contend.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewKeyedLock constructs an empty lock table.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]chan struct{})}
}

func (kl *KeyedLock) sem(key string) chan struct{} {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	sem, ok := kl.locks[key]
	if !ok {
		sem = make(chan struct{}, 1)
		kl.locks[key] = sem
	}
	return sem
}

// Acquire takes the lock for key, retrying once with jitter on timeout.
// The returned function releases the lock.
func (kl *KeyedLock) Acquire(ctx context.Context, key string) (func(), error) {
	release, err := kl.tryAcquire(ctx, key)
	if err == nil {
		return release, nil
	}
	if !apperr.Is(err, apperr.KindConcurrency) {
		return nil, err
	}

	jitter := time.Duration(rand.Int63n(int64(lockRetryJitterMax)))
	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return kl.tryAcquire(ctx, key)
}

func (kl *KeyedLock) tryAcquire(ctx context.Context, key string) (func(), error) {
	sem := kl.sem(key)
	timer := time.NewTimer(lockAcquireTimeout)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-timer.C:
		return nil, apperr.Concurrency("lock acquisition timed out for key %q", key)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
