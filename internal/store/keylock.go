package store

import "sync"

// KeyLocks is an advisory per-key lock table. Acquire blocks while the key
// is held by another caller; plain reads are never blocked. The locks only
// serialise callers that go through Acquire, which is what the typed store's
// write guards do for multi-step read-modify-write sequences.
type KeyLocks struct {
	mu   sync.Mutex
	cond *sync.Cond
	held map[string]struct{}
}

// NewKeyLocks returns an empty lock table.
func NewKeyLocks() *KeyLocks {
	l := &KeyLocks{held: make(map[string]struct{})}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire blocks until the key is free, then marks it held.
func (l *KeyLocks) Acquire(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if _, taken := l.held[key]; !taken {
			l.held[key] = struct{}{}
			return
		}
		l.cond.Wait()
	}
}

// Release frees the key and wakes waiters. Releasing an unheld key is a no-op.
func (l *KeyLocks) Release(key string) {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
	l.cond.Broadcast()
}

// Held reports whether the key is currently locked. Intended for tests.
func (l *KeyLocks) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, taken := l.held[key]
	return taken
}
