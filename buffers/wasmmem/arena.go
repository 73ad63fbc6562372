// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package wasmmem

import (
	"slices"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/vmbbc/plaidml/buffers"
)

// Alignment of the regions handed out by Arena.
const Alignment = 16

// span is a contiguous range of the linear memory.
type span struct {
	offset, length uint64
}

func (s span) end() uint64 { return s.offset + s.length }

// Arena manages the regions of a linear memory with a first-fit free list.
//
// It is safe for concurrent use.
type Arena struct {
	mu   sync.Mutex
	size uint64
	used uint64
	free []span // Sorted by offset, never adjacent (always coalesced).
}

// NewArena returns an arena managing [0, size).
func NewArena(size uint64) *Arena {
	a := &Arena{size: size}
	if size > 0 {
		a.free = []span{{0, size}}
	}
	return a
}

func alignUp(n uint64) uint64 {
	return (n + Alignment - 1) &^ (Alignment - 1)
}

// Alloc reserves a region of n bytes (rounded up to Alignment) and returns its offset.
// Zero sized regions take no space.
func (a *Arena) Alloc(n uint64) (offset uint64, err error) {
	if n == 0 {
		return 0, nil
	}
	length := alignUp(n)
	if length < n {
		return 0, errors.Wrapf(buffers.ErrAllocationFailed, "arena: %d bytes overflows", n)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for ii, s := range a.free {
		if s.length < length {
			continue
		}
		offset = s.offset
		if s.length == length {
			a.free = slices.Delete(a.free, ii, ii+1)
		} else {
			a.free[ii] = span{s.offset + length, s.length - length}
		}
		a.used += length
		return offset, nil
	}
	return 0, errors.Wrapf(buffers.ErrAllocationFailed, "arena: no free region of %s (%s used of %s)",
		humanize.IBytes(length), humanize.IBytes(a.used), humanize.IBytes(a.size))
}

// Free returns the region at offset, previously allocated with Alloc(n).
func (a *Arena) Free(offset, n uint64) {
	if n == 0 {
		return
	}
	released := span{offset, alignUp(n)}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.used -= released.length
	idx, _ := slices.BinarySearchFunc(a.free, released.offset, func(s span, offset uint64) int {
		switch {
		case s.offset < offset:
			return -1
		case s.offset > offset:
			return 1
		}
		return 0
	})
	a.free = slices.Insert(a.free, idx, released)
	a.coalesce(idx)
}

// Extend grows the managed memory to newSize. It's a no-op if newSize is not larger than the current size.
func (a *Arena) Extend(newSize uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if newSize <= a.size {
		return
	}
	a.free = append(a.free, span{a.size, newSize - a.size})
	a.size = newSize
	a.coalesce(len(a.free) - 1)
}

// coalesce the free span at idx with its neighbors.
// It must be called with a.mu held.
func (a *Arena) coalesce(idx int) {
	if idx+1 < len(a.free) && a.free[idx].end() == a.free[idx+1].offset {
		a.free[idx].length += a.free[idx+1].length
		a.free = slices.Delete(a.free, idx+1, idx+2)
	}
	if idx > 0 && a.free[idx-1].end() == a.free[idx].offset {
		a.free[idx-1].length += a.free[idx].length
		a.free = slices.Delete(a.free, idx, idx+1)
	}
}

// Size returns the number of bytes managed by the arena.
func (a *Arena) Size() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Used returns the number of bytes allocated, including alignment padding.
func (a *Arena) Used() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

// TailFree returns the length of the free region ending at the end of the managed memory, 0 if none.
func (a *Arena) TailFree() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.free); n > 0 && a.free[n-1].end() == a.size {
		return a.free[n-1].length
	}
	return 0
}

// LargestFree returns the size of the largest free region.
func (a *Arena) LargestFree() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var largest uint64
	for _, s := range a.free {
		largest = max(largest, s.length)
	}
	return largest
}
