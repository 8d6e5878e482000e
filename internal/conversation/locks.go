// ABOUTME: Per-session mutual exclusion so one user's turns never interleave
// ABOUTME: Entries are reference counted and dropped when the last holder leaves

package conversation

import (
	"context"
	"sync"

	"github.com/marksk1/chatmarket-mvp/internal/store"
)

type keyLock struct {
	sem  chan struct{}
	refs int
}

// keyedMutex serializes work per session key. Different keys never contend.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[store.SessionKey]*keyLock
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[store.SessionKey]*keyLock)}
}

// lock blocks until key is free or ctx is done. The returned func releases it.
func (k *keyedMutex) lock(ctx context.Context, key store.SessionKey) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			k.release(key, l)
		}, nil
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}
}

func (k *keyedMutex) release(key store.SessionKey, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
