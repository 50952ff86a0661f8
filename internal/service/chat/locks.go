package chat

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// SessionLocks serializes mutating work per session id while leaving
// different sessions free to run in parallel. An entry lives only while some
// caller holds or waits for it.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewSessionLocks creates an empty lock table.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[string]*sessionLock)}
}

// Lock blocks until the session's exclusive section is free or ctx is done.
// The returned func releases it.
func (l *SessionLocks) Lock(ctx context.Context, sessionID string) (func(), error) {
	entry := l.acquireRef(sessionID)
	if err := entry.sem.Acquire(ctx, 1); err != nil {
		l.releaseRef(sessionID, entry)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			entry.sem.Release(1)
			l.releaseRef(sessionID, entry)
		})
	}, nil
}

// Len reports how many sessions currently have a lock entry.
func (l *SessionLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *SessionLocks) acquireRef(sessionID string) *sessionLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[sessionID]
	if !ok {
		entry = &sessionLock{sem: semaphore.NewWeighted(1)}
		l.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

func (l *SessionLocks) releaseRef(sessionID string, entry *sessionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 && l.locks[sessionID] == entry {
		delete(l.locks, sessionID)
	}
}
