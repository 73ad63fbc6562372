// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync"

	"github.com/gomlx/exceptions"
)

// DynamicWaitGroup counts operations in flight, like a sync.WaitGroup, but new operations can be added
// while someone is waiting.
//
// The staged backends use it to track in-flight maps, so they can be drained before closing.
type DynamicWaitGroup struct {
	mu    sync.Mutex
	zero  *sync.Cond
	count int
}

// NewDynamicWaitGroup creates a new DynamicWaitGroup with a zero count.
func NewDynamicWaitGroup() *DynamicWaitGroup {
	g := &DynamicWaitGroup{}
	g.zero = sync.NewCond(&g.mu)
	return g
}

// Add delta to the count. It panics if the count becomes negative.
func (g *DynamicWaitGroup) Add(delta int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count += delta
	switch {
	case g.count < 0:
		exceptions.Panicf("xsync.DynamicWaitGroup: negative count %d", g.count)
	case g.count == 0:
		g.zero.Broadcast()
	}
}

// Done decrements the count by one.
func (g *DynamicWaitGroup) Done() {
	g.Add(-1)
}

// Count returns the current count.
func (g *DynamicWaitGroup) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// Wait blocks until the count is zero.
func (g *DynamicWaitGroup) Wait() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.count > 0 {
		g.zero.Wait()
	}
}
