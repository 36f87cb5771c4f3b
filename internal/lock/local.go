// Package lock serializes mutations of a single order or stock item, either
// within one process or across replicas sharing a Redis instance.
package lock

import (
	"context"
	"sync"

	"github.com/xenking/orderflow/internal/domain/order"
)

var _ order.Locker = (*Local)(nil)

// Local is an in-process keyed mutex. A second Lock on the same key blocks
// until the holder unlocks or the waiter's context ends.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// NewLocal returns a ready Local locker.
func NewLocal() *Local {
	return &Local{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key. Giving up because ctx ended yields
// *order.ConflictError wrapping the context error.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, &order.ConflictError{OrderID: key, Err: ctx.Err()}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(key, e)
		})
	}, nil
}

// release drops a reference and forgets idle keys.
func (l *Local) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// Len reports the number of keys currently held or awaited.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
