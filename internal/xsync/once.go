// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package xsync // import "go.opentelemetry.io/clr-profiler/internal/xsync"

import (
	"sync"
	"sync/atomic"
)

// Once holds a value that is initialized at most once. The zero value is ready
// for use.
type Once[T any] struct {
	done atomic.Bool
	mu   sync.Mutex
	data T
}

// GetOrInit returns the value, calling init if no earlier call succeeded.
//
// A failing init leaves the Once uninitialized and its error is returned, so a
// later call retries. Concurrent callers are serialized while init runs.
func (l *Once[T]) GetOrInit(init func() (T, error)) (*T, error) {
	if l.done.Load() {
		return &l.data, nil
	}
	return l.initSlow(init)
}

func (l *Once[T]) initSlow(init func() (T, error)) (*T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done.Load() {
		return &l.data, nil
	}
	data, err := init()
	if err != nil {
		return nil, err
	}
	l.data = data
	l.done.Store(true)
	return &l.data, nil
}

// Get returns the initialized value or nil.
func (l *Once[T]) Get() *T {
	if !l.done.Load() {
		return nil
	}
	return &l.data
}
