// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simple

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/vmbbc/plaidml/buffers"
	"github.com/vmbbc/plaidml/pkg/support/xsync"
	"k8s.io/klog/v2"
)

// PoolAllocator allocates host buffers reusing the storage of finalized buffers of the same size.
//
// Buffers are returned to the pool by Buffer.Finalize (directly, or when the last reference of a
// buffers.Shared is released). The contents of a reused buffer are whatever was left in it.
type PoolAllocator struct {
	pools xsync.SyncMap[uint64, *sync.Pool]

	// limit of bytes in use (allocated and not finalized), 0 for no limit.
	limit uint64
	inUse atomic.Uint64

	hits, misses atomic.Uint64
}

var _ buffers.Allocator = (*PoolAllocator)(nil)

// NewPoolAllocator returns a PoolAllocator that fails allocations that would bring the number of bytes
// in use above limit. A limit of 0 means no limit.
func NewPoolAllocator(limit uint64) *PoolAllocator {
	return &PoolAllocator{limit: limit}
}

// PoolStats reports the usage of a PoolAllocator.
type PoolStats struct {
	// InUse is the number of bytes allocated and not yet finalized.
	InUse uint64

	// Hits and Misses count allocations served from the pool or newly allocated.
	Hits, Misses uint64
}

// Stats returns the current statistics.
func (p *PoolAllocator) Stats() PoolStats {
	return PoolStats{
		InUse:  p.inUse.Load(),
		Hits:   p.hits.Load(),
		Misses: p.misses.Load(),
	}
}

// getPool for given size.
func (p *PoolAllocator) getPool(size uint64) *sync.Pool {
	pool, ok := p.pools.Load(size)
	if !ok {
		pool, _ = p.pools.LoadOrStore(size, &sync.Pool{})
	}
	return pool
}

// reserve size bytes against the limit.
func (p *PoolAllocator) reserve(size uint64) error {
	for {
		current := p.inUse.Load()
		if p.limit != 0 && (size > p.limit || current > p.limit-size) {
			return errors.Wrapf(buffers.ErrAllocationFailed, "%s pool: allocating %s with %s in use would exceed limit of %s",
				BackendName, humanize.IBytes(size), humanize.IBytes(current), humanize.IBytes(p.limit))
		}
		if p.inUse.CompareAndSwap(current, current+size) {
			return nil
		}
	}
}

func (p *PoolAllocator) allocate(size uint64) (*Buffer, error) {
	if size > math.MaxInt {
		return nil, errors.Wrapf(buffers.ErrAllocationFailed, "%s buffer of %s larger than the address space",
			BackendName, humanize.IBytes(size))
	}
	if err := p.reserve(size); err != nil {
		return nil, err
	}
	var data []byte
	if pooled, ok := p.getPool(size).Get().(*[]byte); ok {
		data = *pooled
		p.hits.Add(1)
	} else {
		data = make([]byte, size)
		p.misses.Add(1)
	}
	if klog.V(2).Enabled() {
		klog.Infof("%s pool: allocated %s, %s in use", BackendName, humanize.IBytes(size), humanize.IBytes(p.inUse.Load()))
	}
	return &Buffer{data: data, pool: p}, nil
}

// Allocate implements buffers.Allocator.
func (p *PoolAllocator) Allocate(size uint64) (buffers.Buffer, error) {
	buf, err := p.allocate(size)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// release data back into the pool for its size.
// After this any references to data should be dropped.
func (p *PoolAllocator) release(data []byte) {
	size := uint64(len(data))
	p.getPool(size).Put(&data)
	p.inUse.Add(^(size - 1))
}
