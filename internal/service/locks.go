package service

import "sync"

type matchLock struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex serializes operations per match while leaving different matches
// free to proceed concurrently. Entries are refcounted and removed when the
// last holder releases, so the map does not grow with completed matches.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*matchLock
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*matchLock)}
}

// Acquire blocks until the lock for key is held and returns the release func
func (k *keyedMutex) Acquire(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &matchLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
