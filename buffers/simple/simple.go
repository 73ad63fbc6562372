// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simple implements the reference buffers backend: buffers stored in host memory.
//
// Views map the buffer storage directly, so WriteBack has nothing to copy, and MapCurrent is
// always resolved immediately.
//
// It registers the "simple" allocator, with the following configuration options
// (comma-separated, e.g. "simple:pool,limit=256MiB"):
//
//   - pool: reuse the storage of finalized buffers of the same size.
//   - limit=<size>: maximum number of bytes allocated and not yet finalized (only with pool).
package simple

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/vmbbc/plaidml/buffers"
	"github.com/vmbbc/plaidml/pkg/support/xsync"
)

// BackendName to be used in buffers.NewAllocatorWithConfig.
const BackendName = "simple"

func init() {
	buffers.Register(BackendName, NewAllocatorWithConfig)
}

// NewAllocatorWithConfig parses the configuration options and returns the corresponding allocator.
func NewAllocatorWithConfig(config string) (buffers.Allocator, error) {
	options := buffers.ParseOptions(config)
	_, pooled := options["pool"]
	var limit uint64
	for key, value := range options {
		switch key {
		case "pool":
		case "limit":
			var err error
			limit, err = humanize.ParseBytes(value)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing %q allocator option limit=%q", BackendName, value)
			}
		default:
			return nil, errors.Errorf("unknown %q allocator option %q in config %q", BackendName, key, config)
		}
	}
	if !pooled {
		if limit != 0 {
			return nil, errors.Errorf("%q allocator option limit requires pool, in config %q", BackendName, config)
		}
		return Allocator{}, nil
	}
	return NewPoolAllocator(limit), nil
}

// Buffer is a buffers.Buffer stored in host memory.
type Buffer struct {
	data      []byte
	guard     buffers.ViewGuard
	pool      *PoolAllocator // Set if storage came from a PoolAllocator.
	finalized atomic.Bool
}

// Compile-time check:
var (
	_ buffers.Buffer       = (*Buffer)(nil)
	_ buffers.CloneCapable = (*Buffer)(nil)
	_ buffers.Finalizer    = (*Buffer)(nil)
	_ buffers.ViewCounter  = (*Buffer)(nil)
)

// New returns a buffer of size bytes, all zero.
func New(size uint64) *Buffer {
	if size > math.MaxInt {
		exceptions.Panicf("simple.New(%d): size larger than the address space", size)
	}
	return &Buffer{data: make([]byte, size)}
}

// FromBytes returns a buffer with a copy of data.
func FromBytes(data []byte) *Buffer {
	b := &Buffer{data: make([]byte, len(data))}
	copy(b.data, data)
	return b
}

// View of a simple Buffer: it maps the buffer storage directly.
type View struct {
	buffers.BaseView
}

// Size implements buffers.Buffer.
func (b *Buffer) Size() uint64 {
	return uint64(len(b.data))
}

func (b *Buffer) checkValid(method string) {
	if b.finalized.Load() {
		exceptions.Panicf("simple.Buffer.%s(%p): buffer was already finalized", method, b)
	}
}

// newView maps the whole storage, if there is no other live view.
func (b *Buffer) newView() (*View, error) {
	if err := b.guard.Acquire(); err != nil {
		return nil, errors.WithMessagef(err, "mapping %s buffer of %d bytes", BackendName, len(b.data))
	}
	return &View{
		BaseView: buffers.NewBaseView(b.data, 0, len(b.data), buffers.ViewHooks{Release: b.guard.Release}),
	}, nil
}

// MapCurrent implements buffers.Buffer. The returned future is always already resolved.
func (b *Buffer) MapCurrent(ctx context.Context) *xsync.Future[buffers.View] {
	b.checkValid("MapCurrent")
	view, err := b.newView()
	if err != nil {
		return xsync.Failed[buffers.View](err)
	}
	return xsync.Ready[buffers.View](view)
}

// MapDiscard implements buffers.Buffer. The contents are not cleared: the view shows the current ones.
func (b *Buffer) MapDiscard(ctx context.Context) (buffers.View, error) {
	b.checkValid("MapDiscard")
	view, err := b.newView()
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Clone implements buffers.Buffer, with a deep copy of the contents.
//
// Clones of pooled buffers are taken from the same pool.
func (b *Buffer) Clone() (buffers.Buffer, error) {
	b.checkValid("Clone")
	if b.pool == nil {
		return FromBytes(b.data), nil
	}
	clone, err := b.pool.allocate(uint64(len(b.data)))
	if err != nil {
		return nil, errors.WithMessage(err, "cloning buffer")
	}
	copy(clone.data, b.data)
	return clone, nil
}

// CanClone implements buffers.CloneCapable.
func (b *Buffer) CanClone() bool {
	return true
}

// LiveViews implements buffers.ViewCounter.
func (b *Buffer) LiveViews() int {
	return b.guard.LiveViews()
}

// Finalize implements buffers.Finalizer: it releases the storage immediately, returning it to its pool if any.
//
// A finalized buffer should never be used again.
func (b *Buffer) Finalize() error {
	if b.guard.LiveViews() > 0 {
		return errors.Wrapf(buffers.ErrViewLive, "Finalize(%p)", b)
	}
	if !b.finalized.CompareAndSwap(false, true) {
		return errors.Errorf("Finalize(%p): buffer was already finalized", b)
	}
	if b.pool != nil {
		b.pool.release(b.data)
	}
	b.data = nil
	return nil
}

// Allocator allocates new zero-initialized buffers.
type Allocator struct{}

var _ buffers.Allocator = Allocator{}

// Allocate implements buffers.Allocator.
func (Allocator) Allocate(size uint64) (buffers.Buffer, error) {
	if size > math.MaxInt {
		return nil, errors.Wrapf(buffers.ErrAllocationFailed, "%s buffer of %s larger than the address space",
			BackendName, humanize.IBytes(size))
	}
	return New(size), nil
}
