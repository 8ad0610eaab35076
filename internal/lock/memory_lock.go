package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLock is a single-process Lock used by tests and local runs without
// redis. Expiry is checked lazily on access, which is enough for the bounded
// retry loops that sit on top of it.
type MemoryLock struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	token    string
	expireAt time.Time
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{entries: make(map[string]memoryEntry), now: time.Now}
}

func (l *MemoryLock) TryAcquire(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok && l.now().Before(e.expireAt) {
		return false, nil
	}
	l.entries[key] = memoryEntry{token: token, expireAt: l.now().Add(ttl)}
	return true, nil
}

func (l *MemoryLock) Release(_ context.Context, key, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return false, nil
	}
	if !l.now().Before(e.expireAt) {
		delete(l.entries, key)
		return false, nil
	}
	if e.token != token {
		return false, nil
	}
	delete(l.entries, key)
	return true, nil
}

func (l *MemoryLock) ForceRelease(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}

func (l *MemoryLock) Get(_ context.Context, key string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok || !l.now().Before(e.expireAt) {
		return "", false, nil
	}
	return e.token, true, nil
}
