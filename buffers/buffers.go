// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package buffers defines the device-agnostic memory contract used by the tile runtime.
//
// A Buffer is an opaque, fixed-size handle to storage that may live on the host, on an accelerator
// or on a remote device. Host code accesses its bytes only through a View: a mapped window obtained
// with Buffer.MapCurrent (asynchronous, preserves the contents) or Buffer.MapDiscard (synchronous,
// contents undefined), and finalized with View.WriteBack.
//
// The rules every backend relies on:
//
//   - A View is owned by whoever mapped it, and must be finalized with WriteBack exactly once.
//     After WriteBack its data must not be accessed.
//   - At most one View of a Buffer is live at a time. All Views must be finalized before the Buffer
//     is handed to the execution pipeline (see EnsureUnmapped).
//   - Errors are distinguishable by kind (see Kind and KindOf): allocation failures, device failures,
//     cancellations and unsupported capabilities.
//
// A backend that doesn't support an optional capability (like Clone) returns ErrNotImplemented, see
// package github.com/vmbbc/plaidml/buffers/notimplemented.
package buffers

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vmbbc/plaidml/pkg/support/xsync"
	"k8s.io/klog/v2"
)

// Buffer represents memory residing on some device.
//
// Its size never changes, and its contents are only mutated through a View.
type Buffer interface {
	// Size returns the number of bytes of the buffer, fixed at construction.
	Size() uint64

	// MapCurrent asynchronously maps a read/write View of the buffer, with its current contents.
	//
	// Errors may be detected synchronously (e.g.: out of staging memory) or only when the backend
	// operation completes (e.g.: a device fault): both are delivered by resolving the returned future
	// with the error.
	MapCurrent(ctx context.Context) *xsync.Future[View]

	// MapDiscard synchronously maps a read/write View of the buffer, whose initial contents are undefined.
	//
	// Backends may use it to skip reading back the current contents. Callers must not depend on them.
	MapDiscard(ctx context.Context) (View, error)

	// Clone returns a new independently owned Buffer with the same contents.
	//
	// It's an optional capability: backends that can't duplicate buffers return an error matching ErrNotImplemented.
	Clone() (Buffer, error)
}

// CloneCapable is implemented by buffers that declare whether Clone is supported.
type CloneCapable interface {
	CanClone() bool
}

// CanClone reports whether b declared support for Clone.
// Buffers that don't implement CloneCapable are assumed not to support it.
func CanClone(b Buffer) bool {
	if c, ok := b.(CloneCapable); ok {
		return c.CanClone()
	}
	return false
}

// Finalizer is implemented by buffers whose backend storage can be released immediately, as opposed to waiting for a GC.
//
// A finalized buffer should never be used again.
type Finalizer interface {
	Finalize() error
}

// ViewCounter is implemented by buffers that track their live views.
type ViewCounter interface {
	LiveViews() int
}

// EnsureUnmapped returns an error matching ErrViewLive if b reports live views.
//
// It should be called before handing a buffer to execution. Buffers that don't implement ViewCounter
// can't be checked, and are assumed unmapped.
func EnsureUnmapped(b Buffer) error {
	vc, ok := b.(ViewCounter)
	if !ok {
		return nil
	}
	if n := vc.LiveViews(); n > 0 {
		return errors.Wrapf(ErrViewLive, "buffer of %d bytes has %d live view(s)", b.Size(), n)
	}
	return nil
}

// Allocator creates new Buffers.
type Allocator interface {
	// Allocate returns a new Buffer of exactly size bytes, with unspecified contents.
	//
	// If the memory can't be allocated it returns an error matching ErrAllocationFailed: it never
	// returns a smaller buffer.
	Allocate(size uint64) (Buffer, error)
}

// AllocatorFunc adapts a function to the Allocator interface.
type AllocatorFunc func(size uint64) (Buffer, error)

// Allocate implements Allocator.
func (fn AllocatorFunc) Allocate(size uint64) (Buffer, error) {
	return fn(size)
}

// MapCurrentSync maps the current contents of b and waits for the view.
//
// If ctx is done before the view is delivered, it returns a cancellation error, and the view
// delivered later (if any) is finalized so the buffer doesn't remain mapped.
func MapCurrentSync(ctx context.Context, b Buffer) (View, error) {
	future := b.MapCurrent(ctx)
	select {
	case <-future.Done():
		return future.Wait()
	case <-ctx.Done():
		future.Then(func(view View, err error) {
			if err != nil || view == nil {
				return
			}
			if err := view.WriteBack(context.Background()); err != nil {
				klog.Warningf("finalizing view delivered after cancellation: %+v", err)
			}
		})
		return nil, Canceled(ctx)
	}
}

// ReadAll returns a copy of the current contents of b.
func ReadAll(ctx context.Context, b Buffer) ([]byte, error) {
	view, err := MapCurrentSync(ctx, b)
	if err != nil {
		return nil, errors.WithMessage(err, "mapping buffer for reading")
	}
	contents := make([]byte, view.Size())
	copy(contents, view.Data())
	if err := view.WriteBack(ctx); err != nil {
		return nil, errors.WithMessage(err, "finalizing read view")
	}
	return contents, nil
}

// Write replaces the whole contents of b with data, which must have exactly b.Size() bytes.
func Write(ctx context.Context, b Buffer, data []byte) error {
	if uint64(len(data)) != b.Size() {
		return errors.Wrapf(ErrInvalidSize, "writing %d bytes to a buffer of %d bytes", len(data), b.Size())
	}
	view, err := b.MapDiscard(ctx)
	if err != nil {
		return errors.WithMessage(err, "mapping buffer for writing")
	}
	copy(view.Data(), data)
	return view.WriteBack(ctx)
}
