// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package notimplemented implements a buffers.Buffer and a buffers.Allocator that return a
// "not implemented" error for all operations.
//
// Backends embed Buffer to get the default behavior of optional capabilities (Clone),
// and override the methods they do implement. This can help bootstrap any backend implementation.
package notimplemented

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vmbbc/plaidml/buffers"
	"github.com/vmbbc/plaidml/pkg/support/xsync"
)

// NotImplementedError is returned by every method.
//
// It doesn't contain a stack, attach a stack to with with errors.Wrapf(NotImplementedError, "...") when using it.
var NotImplementedError = buffers.ErrNotImplemented

// Buffer is a dummy buffer that can be embedded to create partial or mock buffers.
type Buffer struct{}

var (
	_ buffers.Buffer       = Buffer{}
	_ buffers.CloneCapable = Buffer{}
)

// Size returns 0.
func (Buffer) Size() uint64 {
	return 0
}

// MapCurrent returns a future resolved with NotImplementedError.
func (Buffer) MapCurrent(ctx context.Context) *xsync.Future[buffers.View] {
	return xsync.Failed[buffers.View](errors.Wrapf(NotImplementedError, "in MapCurrent()"))
}

// MapDiscard returns NotImplementedError.
func (Buffer) MapDiscard(ctx context.Context) (buffers.View, error) {
	return nil, errors.Wrapf(NotImplementedError, "in MapDiscard()")
}

// Clone returns NotImplementedError.
func (Buffer) Clone() (buffers.Buffer, error) {
	return nil, errors.Wrapf(NotImplementedError, "in Clone()")
}

// CanClone returns false.
func (Buffer) CanClone() bool {
	return false
}

// Allocator is a dummy allocator whose Allocate returns NotImplementedError.
type Allocator struct{}

var _ buffers.Allocator = Allocator{}

// Allocate returns NotImplementedError.
func (Allocator) Allocate(size uint64) (buffers.Buffer, error) {
	return nil, errors.Wrapf(NotImplementedError, "in Allocate(%d)", size)
}
