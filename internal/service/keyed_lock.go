package service

import "sync"

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// keyedLock serialises work per key inside one process. Entries are dropped once
// no goroutine holds or waits for them.
type keyedLock struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

func newKeyedLock() *keyedLock {
	return &keyedLock{entries: map[string]*keyedEntry{}}
}

// Lock acquires every key in the given order and returns the release function.
// Callers must pass keys in a globally consistent order.
func (l *keyedLock) Lock(keys ...string) func() {
	acquired := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup || key == "" {
			continue
		}
		seen[key] = struct{}{}
		l.acquire(key)
		acquired = append(acquired, key)
	}
	return func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			l.release(acquired[i])
		}
	}
}

func (l *keyedLock) acquire(key string) {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &keyedEntry{}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()
	entry.mu.Lock()
}

func (l *keyedLock) release(key string) {
	l.mu.Lock()
	entry := l.entries[key]
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
	entry.mu.Unlock()
}

func (l *keyedLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
