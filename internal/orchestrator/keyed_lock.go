package orchestrator

import "sync"

// keyedLock serializes operations per key with FIFO fairness: operations
// submitted for the same key run one at a time in submission order, while
// operations on different keys proceed independently. Each waiter chains
// on its predecessor's done channel, and the registry entry is deleted
// once the last queued operation finishes, so the map never grows without
// bound.
type keyedLock struct {
	mu    sync.Mutex
	tails map[string]*lockWaiter
}

type lockWaiter struct {
	done chan struct{}
}

func newKeyedLock() *keyedLock {
	return &keyedLock{tails: make(map[string]*lockWaiter)}
}

// Do runs fn exclusively among all operations for key. The lock is
// released even when fn panics; the panic propagates after release.
func (l *keyedLock) Do(key string, fn func() error) error {
	l.mu.Lock()
	prev := l.tails[key]
	me := &lockWaiter{done: make(chan struct{})}
	l.tails[key] = me
	l.mu.Unlock()

	if prev != nil {
		<-prev.done
	}

	defer func() {
		close(me.done)
		l.mu.Lock()
		if l.tails[key] == me {
			delete(l.tails, key)
		}
		l.mu.Unlock()
	}()

	return fn()
}

// pending reports whether any operation is queued or running for key
func (l *keyedLock) pending(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.tails[key]
	return ok
}
