// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package wasmmem

import (
	"context"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/vmbbc/plaidml/buffers"
	"github.com/vmbbc/plaidml/pkg/support/xsync"
	"k8s.io/klog/v2"
)

// Buffer is a region of a Device's linear memory.
type Buffer struct {
	device       *Device
	offset, size uint32
	guard        buffers.ViewGuard
	finalized    atomic.Bool
}

// Compile-time check:
var (
	_ buffers.Buffer       = (*Buffer)(nil)
	_ buffers.CloneCapable = (*Buffer)(nil)
	_ buffers.Finalizer    = (*Buffer)(nil)
	_ buffers.ViewCounter  = (*Buffer)(nil)
)

// View is a host staging copy of a Buffer: WriteBack copies it back into the linear memory.
type View struct {
	buffers.BaseView
}

// Size implements buffers.Buffer.
func (b *Buffer) Size() uint64 {
	return uint64(b.size)
}

// Offset returns the position of the buffer in the linear memory.
func (b *Buffer) Offset() uint32 {
	return b.offset
}

func (b *Buffer) checkValid(method string) {
	if b.finalized.Load() {
		exceptions.Panicf("wasmmem.Buffer.%s(offset=%d): buffer was already finalized", method, b.offset)
	}
}

// newView over the staging data, committing it back to the buffer on WriteBack.
// The view guard must have been acquired.
func (b *Buffer) newView(staging []byte) *View {
	return &View{
		BaseView: buffers.NewBaseView(staging, 0, len(staging), buffers.ViewHooks{
			Commit: func(_ context.Context, data []byte) error {
				return b.device.write(b.offset, data)
			},
			Release: b.guard.Release,
		}),
	}
}

// MapCurrent implements buffers.Buffer.
//
// The copy-out runs in the device's pool of workers. If ctx is done before the copy is delivered,
// the future resolves with an error matching buffers.ErrCanceled.
func (b *Buffer) MapCurrent(ctx context.Context) *xsync.Future[buffers.View] {
	b.checkValid("MapCurrent")
	if ctx.Err() != nil {
		return xsync.Failed[buffers.View](buffers.Canceled(ctx))
	}
	if b.device.closed.Test() {
		return xsync.Failed[buffers.View](errors.Wrapf(buffers.ErrDeviceFailure, "wasmmem: mapping buffer of a closed device"))
	}
	if err := b.guard.Acquire(); err != nil {
		return xsync.Failed[buffers.View](errors.WithMessagef(err, "mapping %s buffer at offset %d", BackendName, b.offset))
	}

	// Whoever resolves the future with an error releases the guard. If the view is delivered, the guard
	// is released by its WriteBack.
	future := xsync.NewFuture[buffers.View]()
	fail := func(err error) {
		if future.Resolve(nil, err) {
			b.guard.Release()
		}
	}
	stopWatching := context.AfterFunc(ctx, func() { fail(buffers.Canceled(ctx)) })
	b.device.inFlight.Add(1)
	b.device.pool.Submit(func() {
		defer b.device.inFlight.Done()
		defer stopWatching()
		if future.IsReady() {
			return
		}
		staging, err := b.device.readStaged(b.offset, b.size)
		if err != nil {
			fail(err)
			return
		}
		if !future.Resolve(b.newView(staging), nil) {
			klog.V(2).Infof("wasmmem: view of buffer at offset %d discarded after cancellation", b.offset)
		}
	})
	return future
}

// MapDiscard implements buffers.Buffer: the view starts zeroed, without copying the buffer contents.
func (b *Buffer) MapDiscard(ctx context.Context) (buffers.View, error) {
	b.checkValid("MapDiscard")
	if b.device.closed.Test() {
		return nil, errors.Wrapf(buffers.ErrDeviceFailure, "wasmmem: mapping buffer of a closed device")
	}
	if err := b.guard.Acquire(); err != nil {
		return nil, errors.WithMessagef(err, "mapping %s buffer at offset %d", BackendName, b.offset)
	}
	return b.newView(make([]byte, b.size)), nil
}

// Clone implements buffers.Buffer, copying the contents to a new region of the same device.
func (b *Buffer) Clone() (buffers.Buffer, error) {
	b.checkValid("Clone")
	staging, err := b.device.readStaged(b.offset, b.size)
	if err != nil {
		return nil, errors.WithMessage(err, "cloning buffer")
	}
	clone, err := b.device.Allocate(uint64(b.size))
	if err != nil {
		return nil, errors.WithMessage(err, "cloning buffer")
	}
	cloneBuf := clone.(*Buffer)
	if err := b.device.write(cloneBuf.offset, staging); err != nil {
		_ = cloneBuf.Finalize()
		return nil, errors.WithMessage(err, "cloning buffer")
	}
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

// Finalize implements buffers.Finalizer, returning the region to the device.
func (b *Buffer) Finalize() error {
	if b.guard.LiveViews() > 0 {
		return errors.Wrapf(buffers.ErrViewLive, "Finalize(offset=%d)", b.offset)
	}
	if !b.finalized.CompareAndSwap(false, true) {
		return errors.Errorf("Finalize(offset=%d): buffer was already finalized", b.offset)
	}
	b.device.arena.Free(uint64(b.offset), uint64(b.size))
	return nil
}
