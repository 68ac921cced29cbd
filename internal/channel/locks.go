// ABOUTME: Arena of lightweight locks keyed by external chat id
// ABOUTME: Serializes processing of one chat's consecutive messages

package channel

import "sync"

// lockArena hands out one mutex per key. Entries live for the process
// lifetime; the population is bounded by the number of distinct chats.
type lockArena struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockArena() *lockArena {
	return &lockArena{locks: make(map[string]*sync.Mutex)}
}

func (a *lockArena) get(key string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	lock, ok := a.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[key] = lock
	}
	return lock
}
