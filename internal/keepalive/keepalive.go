// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package keepalive is a registry of live references: while acquired, a reference is reachable from
// the registry, so it can be listed (e.g.: to report leaked shared buffers) and is not collected.
//
//	ref := keepalive.Acquire(resource)
//	defer ref.Release()
package keepalive

import (
	"sync"

	"github.com/gomlx/exceptions"
)

// KeepAlive is the handle of an acquired reference.
type KeepAlive int

// InitialSlots is the number of slots reserved at start. The registry grows as needed.
const InitialSlots = 128

type slot struct {
	reference any
	live      bool
}

var (
	mu sync.Mutex

	// slots indexed by KeepAlive. Released slots are reused, most recently released first.
	slots    = make([]slot, 0, InitialSlots)
	freeList []KeepAlive
	numLive  int
)

// Acquire stores reference and returns the handle to release it.
func Acquire(reference any) KeepAlive {
	mu.Lock()
	defer mu.Unlock()
	numLive++
	if n := len(freeList); n > 0 {
		k := freeList[n-1]
		freeList = freeList[:n-1]
		slots[k] = slot{reference: reference, live: true}
		return k
	}
	slots = append(slots, slot{reference: reference, live: true})
	return KeepAlive(len(slots) - 1)
}

// Release the reference, making its slot available again.
// Releasing a handle twice panics.
func (k KeepAlive) Release() {
	mu.Lock()
	defer mu.Unlock()
	if int(k) < 0 || int(k) >= len(slots) || !slots[k].live {
		exceptions.Panicf("keepalive: releasing handle %d that is not acquired", k)
	}
	slots[k] = slot{}
	freeList = append(freeList, k)
	numLive--
}

// NumAcquired returns the number of references currently acquired.
func NumAcquired() int {
	mu.Lock()
	defer mu.Unlock()
	return numLive
}

// ListAcquired returns the references currently acquired, in slot order.
func ListAcquired() []any {
	mu.Lock()
	defer mu.Unlock()
	refs := make([]any, 0, numLive)
	for _, s := range slots {
		if s.live {
			refs = append(refs, s.reference)
		}
	}
	return refs
}
