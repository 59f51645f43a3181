package services

import "sync"

// userLocks hands out one mutex per key and frees it when the last holder
// releases it, so the map does not grow with the user base.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*keyedLock)}
}

// lock blocks until key is free and returns the matching unlock.
func (l *userLocks) lock(key string) func() {
	l.mu.Lock()
	k, ok := l.locks[key]
	if !ok {
		k = &keyedLock{}
		l.locks[key] = k
	}
	k.refs++
	l.mu.Unlock()

	k.mu.Lock()
	return func() {
		k.mu.Unlock()
		l.mu.Lock()
		k.refs--
		if k.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
