// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package xsync // import "go.opentelemetry.io/clr-profiler/internal/xsync"

import "sync"

// RWMutex guards a value of type T. The value is only reachable through the
// pointer returned by RLock or WLock, and the unlock functions clear that
// pointer so it cannot be used after the lock is released.
//
//	type registry struct {
//		entries xsync.RWMutex[map[string]int]
//	}
//
//	func (r *registry) lookup(key string) int {
//		entries := r.entries.RLock()
//		defer r.entries.RUnlock(&entries)
//		return (*entries)[key]
//	}
type RWMutex[T any] struct {
	guarded T
	mutex   sync.RWMutex
}

// NewRWMutex returns a mutex guarding the given value.
func NewRWMutex[T any](guarded T) RWMutex[T] {
	return RWMutex[T]{guarded: guarded}
}

// RLock locks for reading. The caller must not write through the returned
// pointer or keep it beyond the matching RUnlock.
func (mtx *RWMutex[T]) RLock() *T {
	mtx.mutex.RLock()
	return &mtx.guarded
}

// RUnlock releases a read lock and clears the reference obtained from RLock.
func (mtx *RWMutex[T]) RUnlock(ref **T) {
	*ref = nil
	mtx.mutex.RUnlock()
}

// WLock locks for writing. The caller must not keep the returned pointer
// beyond the matching WUnlock.
func (mtx *RWMutex[T]) WLock() *T {
	mtx.mutex.Lock()
	return &mtx.guarded
}

// WUnlock releases a write lock and clears the reference obtained from WLock.
func (mtx *RWMutex[T]) WUnlock(ref **T) {
	*ref = nil
	mtx.mutex.Unlock()
}
