package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalLocker is an in-process Locker used when Redis is not configured
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]localLock
	clock func() time.Time
}

type localLock struct {
	token   string
	expires time.Time
}

// NewLocalLocker creates an empty LocalLocker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held:  make(map[string]localLock),
		clock: time.Now,
	}
}

// AcquireLock takes key if it is free or its previous holder expired
func (l *LocalLocker) AcquireLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = localLock{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

// ReleaseLock frees key if token still owns it
func (l *LocalLocker) ReleaseLock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.held[key]; ok && cur.token == token {
		delete(l.held, key)
	}
	return nil
}
