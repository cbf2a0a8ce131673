package core

import (
	"context"
	"sync"
	"sync/atomic"

	"pluginhost/pkg/domain"
)

// keyedLocker hands out one exclusive lock per plugin key. Entries are
// refcounted and dropped once no caller holds or waits on them.
type keyedLocker struct {
	mu    sync.Mutex
	locks map[domain.Key]*keyLock
}

type keyLock struct {
	slot chan struct{}
	refs int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[domain.Key]*keyLock)}
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the lock and panics with ErrLockContention if called twice.
func (l *keyedLocker) Lock(ctx context.Context, key domain.Key) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kl := l.acquireRef(key)
	select {
	case kl.slot <- struct{}{}:
	case <-ctx.Done():
		l.releaseRef(key, kl)
		return nil, ctx.Err()
	}
	var released atomic.Bool
	return func() {
		if !released.CompareAndSwap(false, true) {
			panic(&domain.PluginError{Op: "unlock", Key: key, Kind: domain.ErrLockContention})
		}
		select {
		case <-kl.slot:
		default:
			panic(&domain.PluginError{Op: "unlock", Key: key, Kind: domain.ErrLockContention})
		}
		l.releaseRef(key, kl)
	}, nil
}

func (l *keyedLocker) acquireRef(key domain.Key) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{slot: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *keyedLocker) releaseRef(key domain.Key, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// size reports how many keys currently have holders or waiters.
func (l *keyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
