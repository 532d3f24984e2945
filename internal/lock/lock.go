// Package lock serializes admission work per computer. The local locker
// covers a single process; the redis locker extends the guarantee across
// replicas sharing one store.
package lock

import (
	"context"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Locker hands out exclusive access to a key until the returned release
// func is called.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// LocalLocker is an in-process keyed mutex. Entries are never evicted; the
// key space is the set of registered computers.
type LocalLocker struct {
	slots cmap.ConcurrentMap[string, chan struct{}]
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: cmap.New[chan struct{}]()}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	return l.slots.Upsert(key, nil, func(exist bool, inMap chan struct{}, _ chan struct{}) chan struct{} {
		if exist {
			return inMap
		}
		return make(chan struct{}, 1)
	})
}

// Lock blocks until key is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	s := l.slot(key)
	select {
	case s <- struct{}{}:
		return func() { <-s }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
