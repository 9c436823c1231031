package mutex

import "sync"

// KeyedMutex hands out one mutex per key. Entries are reference counted and
// dropped once nobody holds or waits for them, so the map does not grow with
// the key space.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (km *KeyedMutex) Lock(key string) {
	km.mu.Lock()
	if km.locks == nil {
		km.locks = make(map[string]*keyedLock)
	}
	l, ok := km.locks[key]
	if !ok {
		l = &keyedLock{}
		km.locks[key] = l
	}
	l.refs++
	km.mu.Unlock()

	l.mu.Lock()
}

func (km *KeyedMutex) Unlock(key string) {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		km.mu.Unlock()
		return
	}
	l.refs--
	if l.refs == 0 {
		delete(km.locks, key)
	}
	km.mu.Unlock()

	l.mu.Unlock()
}

func (km *KeyedMutex) size() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.locks)
}
