// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package buffers

import (
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/vmbbc/plaidml/internal/keepalive"
	"k8s.io/klog/v2"
)

// Shared is a reference counted Buffer, owned jointly by the subsystems holding a reference (compiler
// output, executor input, ...).
//
// It embeds the Buffer, so it can be used as one. When the last reference is released, the
// buffer is finalized (see Finalizer), releasing its backend storage.
// It is safe for concurrent use.
type Shared struct {
	Buffer

	id   uuid.UUID
	refs atomic.Int64
	keep keepalive.KeepAlive
}

// Share returns a Shared buffer with one reference, owned by the caller.
func Share(buffer Buffer) *Shared {
	s := &Shared{
		Buffer: buffer,
		id:     uuid.New(),
	}
	s.refs.Store(1)
	s.keep = keepalive.Acquire(s)
	if klog.V(2).Enabled() {
		klog.Infof("buffers.Share(%s): %d bytes", s.id, buffer.Size())
	}
	return s
}

// ID uniquely identifies the shared buffer, for logging and leak reports.
func (s *Shared) ID() uuid.UUID {
	return s.id
}

// Refs returns the current number of references.
func (s *Shared) Refs() int {
	return int(s.refs.Load())
}

// Retain adds a reference, to be released with Release. It returns s for convenience.
//
// Retaining a buffer whose references were all released panics.
func (s *Shared) Retain() *Shared {
	for {
		current := s.refs.Load()
		if current <= 0 {
			exceptions.Panicf("buffers.Shared(%s).Retain: buffer already released", s.id)
		}
		if s.refs.CompareAndSwap(current, current+1) {
			return s
		}
	}
}

// Release drops a reference. Releasing the last one finalizes the underlying buffer and returns
// the error of its Finalize, if any.
//
// Releasing more times than retained panics.
func (s *Shared) Release() error {
	remaining := s.refs.Add(-1)
	if remaining > 0 {
		return nil
	}
	if remaining < 0 {
		exceptions.Panicf("buffers.Shared(%s).Release: released more times than retained", s.id)
	}
	s.keep.Release()
	if klog.V(2).Enabled() {
		klog.Infof("buffers.Shared(%s): last reference released", s.id)
	}
	if f, ok := s.Buffer.(Finalizer); ok {
		return f.Finalize()
	}
	return nil
}

// LiveShared returns the Shared buffers that still have references, useful to investigate leaks.
func LiveShared() []*Shared {
	refs := keepalive.ListAcquired()
	live := make([]*Shared, 0, len(refs))
	for _, ref := range refs {
		if s, ok := ref.(*Shared); ok {
			live = append(live, s)
		}
	}
	return live
}

// CanClone implements CloneCapable, delegating to the underlying buffer.
func (s *Shared) CanClone() bool {
	return CanClone(s.Buffer)
}

// LiveViews implements ViewCounter, delegating to the underlying buffer.
// It returns 0 if the underlying buffer doesn't track its views.
func (s *Shared) LiveViews() int {
	if vc, ok := s.Buffer.(ViewCounter); ok {
		return vc.LiveViews()
	}
	return 0
}
