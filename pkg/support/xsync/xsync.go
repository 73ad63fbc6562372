// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements some extra synchronization tools used by the buffer backends.
package xsync

import (
	"iter"
	"sync"
)

// LatchWithValue is a one-shot signal carrying a value: it can be waited for until it is triggered,
// and once triggered it never changes.
type LatchWithValue[T any] struct {
	mu        sync.Mutex
	triggered chan struct{}
	value     T
}

// NewLatchWithValue returns an un-triggered latch.
func NewLatchWithValue[T any]() *LatchWithValue[T] {
	return &LatchWithValue[T]{triggered: make(chan struct{})}
}

// Trigger the latch with value. Only the first call delivers its value: it returns false if the latch
// was already triggered.
func (l *LatchWithValue[T]) Trigger(value T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Test() {
		return false
	}
	l.value = value
	close(l.triggered)
	return true
}

// Wait for the latch to be triggered and return its value.
func (l *LatchWithValue[T]) Wait() T {
	<-l.triggered
	return l.value
}

// Test returns whether the latch was triggered, without blocking.
func (l *LatchWithValue[T]) Test() bool {
	select {
	case <-l.triggered:
		return true
	default:
		return false
	}
}

// WaitChan returns the channel closed when the latch is triggered.
func (l *LatchWithValue[T]) WaitChan() <-chan struct{} {
	return l.triggered
}

// Latch is a LatchWithValue without a value.
type Latch struct {
	latch *LatchWithValue[struct{}]
}

// NewLatch returns an un-triggered latch.
func NewLatch() *Latch {
	return &Latch{latch: NewLatchWithValue[struct{}]()}
}

// Trigger the latch. It returns false if it was already triggered.
func (l *Latch) Trigger() bool { return l.latch.Trigger(struct{}{}) }

// Wait for the latch to be triggered.
func (l *Latch) Wait() { l.latch.Wait() }

// Test returns whether the latch was triggered, without blocking.
func (l *Latch) Test() bool { return l.latch.Test() }

// WaitChan returns the channel closed when the latch is triggered.
func (l *Latch) WaitChan() <-chan struct{} { return l.latch.WaitChan() }

// SyncMap is a typed sync.Map.
//
// The zero value is ready to use, and it should not be copied once used.
type SyncMap[K comparable, V any] struct {
	m sync.Map
}

// Load returns the value stored for key, and whether it was found.
func (m *SyncMap[K, V]) Load(key K) (value V, found bool) {
	v, found := m.m.Load(key)
	if !found {
		return value, false
	}
	return v.(V), true
}

// LoadOrStore returns the value stored for key if present (loaded is true), otherwise it stores value and returns it.
func (m *SyncMap[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	v, loaded := m.m.LoadOrStore(key, value)
	return v.(V), loaded
}

// All iterates over the keys and values of the map, with the same consistency guarantees as sync.Map.Range.
func (m *SyncMap[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		m.m.Range(func(key, value any) bool {
			return yield(key.(K), value.(V))
		})
	}
}

// Clear removes all entries.
func (m *SyncMap[K, V]) Clear() {
	m.m.Clear()
}
