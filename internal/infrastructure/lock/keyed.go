// Package lock provides the in-process implementation of progression.Locker,
// used when a single engine instance owns the store.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

// Keyed hands out one mutex per key. Entries are dropped once no holder or
// waiter references them.
type Keyed struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

var _ progression.Locker = (*Keyed)(nil)

// NewKeyed creates an empty Keyed lock.
func NewKeyed() *Keyed {
	return &Keyed{slots: make(map[string]*slot)}
}

// Acquire waits up to timeout for key. It returns shared.ErrBusy when the
// timeout elapses and ctx.Err() when ctx is cancelled first.
func (k *Keyed) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	s := k.ref(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				k.unref(key)
			})
		}, nil
	case <-timer.C:
		k.unref(key)
		return nil, shared.ErrBusy
	case <-ctx.Done():
		k.unref(key)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, shared.ErrBusy
		}
		return nil, ctx.Err()
	}
}

// Len returns the number of keys currently held or awaited.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}

func (k *Keyed) ref(key string) *slot {
	k.mu.Lock()
	defer k.mu.Unlock()

	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	return s
}

func (k *Keyed) unref(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	s := k.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}
