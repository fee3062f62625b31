// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"sync"
)

// keyLocks hands out one writer lock per key. Locks are reference counted
// and dropped when the last holder releases them, so the map only holds
// keys with a writer in flight.
type keyLocks struct {
	mu    sync.Mutex
	locks map[Key]*keyLock
}

type keyLock struct {
	ch   chan struct{} // buffered(1); holding the token holds the lock
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[Key]*keyLock)}
}

// lock acquires the writer lock for k, or returns the context error.
// The returned func releases it.
func (l *keyLocks) lock(ctx context.Context, k Key) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[k]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[k] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(k, kl)
		return nil, ctx.Err()
	}
	return func() {
		<-kl.ch
		l.release(k, kl)
	}, nil
}

func (l *keyLocks) release(k Key, kl *keyLock) {
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, k)
	}
	l.mu.Unlock()
}

// held returns the number of keys with a holder or waiter.
func (l *keyLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
