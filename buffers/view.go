// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package buffers

import (
	"context"
	"iter"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// View is a mapped window over the bytes of a Buffer.
//
// It doesn't own the memory: it borrows it between its creation and the call to WriteBack.
// A View is owned by a single caller and shouldn't be shared.
type View interface {
	// Data returns the mapped bytes. It returns nil after WriteBack.
	Data() []byte

	// Size returns the number of mapped bytes.
	Size() int

	// At returns the byte at position pos.
	At(pos int) byte

	// Set the byte at position pos.
	Set(pos int, value byte)

	// All iterates over the positions and values of the mapped bytes.
	All() iter.Seq2[int, byte]

	// String returns the contents of the view as a string.
	String() string

	// WriteBack writes the contents of the view back to the device (if necessary).
	//
	// After this call, the caller may immediately issue subsequent operations that will observe the
	// view's contents, and must discard the view: its data is no longer valid.
	// It can only be called once, further calls return ErrViewReleased.
	WriteBack(ctx context.Context) error
}

// ViewHooks are the backend specific parts of a BaseView.
type ViewHooks struct {
	// Commit copies the (possibly staged) data back into the buffer's storage. Optional: views
	// that map the storage directly have nothing to commit.
	Commit func(ctx context.Context, data []byte) error

	// Release is called after Commit, whether it succeeded or not, when the view is finalized.
	Release func()
}

// BaseView implements View over a byte slice, delegating to ViewHooks what is backend specific.
//
// Backends embed it in their own view type.
type BaseView struct {
	data     []byte
	size     int
	hooks    ViewHooks
	released atomic.Bool
}

var _ View = (*BaseView)(nil)

// NewBaseView returns a view over storage[offset:offset+size].
//
// An offset or size not contained in storage is a programming error, and it panics.
func NewBaseView(storage []byte, offset, size int, hooks ViewHooks) BaseView {
	if offset < 0 || size < 0 || offset+size > len(storage) {
		exceptions.Panicf("buffers.NewBaseView: invalid range [%d, %d) for storage of %d bytes",
			offset, offset+size, len(storage))
	}
	return BaseView{
		data:  storage[offset : offset+size : offset+size],
		size:  size,
		hooks: hooks,
	}
}

// Data implements View.
func (v *BaseView) Data() []byte { return v.data }

// Size implements View.
func (v *BaseView) Size() int { return v.size }

// At implements View.
func (v *BaseView) At(pos int) byte { return v.data[pos] }

// Set implements View.
func (v *BaseView) Set(pos int, value byte) { v.data[pos] = value }

// All implements View.
func (v *BaseView) All() iter.Seq2[int, byte] {
	return func(yield func(int, byte) bool) {
		for ii, value := range v.data {
			if !yield(ii, value) {
				return
			}
		}
	}
}

// String implements View and fmt.Stringer.
func (v *BaseView) String() string { return string(v.data) }

// WriteBack implements View.
func (v *BaseView) WriteBack(ctx context.Context) error {
	if !v.released.CompareAndSwap(false, true) {
		return errors.WithStack(ErrViewReleased)
	}
	var err error
	if v.hooks.Commit != nil {
		err = v.hooks.Commit(ctx, v.data)
	}
	v.data = nil
	if v.hooks.Release != nil {
		v.hooks.Release()
	}
	return err
}

// IsReleased returns whether WriteBack was already called.
func (v *BaseView) IsReleased() bool {
	return v.released.Load()
}

// ViewGuard enforces that at most one view of a buffer is live at a time.
//
// Backends call Acquire before creating a view, and Release when the view is finalized.
// The zero value is ready to use.
type ViewGuard struct {
	live atomic.Int32
}

// Acquire marks a view as live. It returns an error matching ErrViewLive if there is one already.
func (g *ViewGuard) Acquire() error {
	if !g.live.CompareAndSwap(0, 1) {
		return errors.WithStack(ErrViewLive)
	}
	return nil
}

// Release marks the live view as finalized. Releasing a guard without a live view panics.
func (g *ViewGuard) Release() {
	if !g.live.CompareAndSwap(1, 0) {
		exceptions.Panicf("buffers.ViewGuard.Release: no live view to release")
	}
}

// LiveViews returns the number of live views: 0 or 1.
func (g *ViewGuard) LiveViews() int {
	return int(g.live.Load())
}
