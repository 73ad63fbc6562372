// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package buffers

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors, one per kind of failure. Backends wrap them (errors.Wrapf) with details,
// and callers test them with errors.Is or KindOf.
var (
	// ErrNotImplemented is returned for optional capabilities a backend doesn't support (e.g.: Clone).
	ErrNotImplemented = errors.New("not implemented")

	// ErrAllocationFailed is returned when the memory for a buffer (or a staging copy) can't be allocated.
	ErrAllocationFailed = errors.New("allocation failed")

	// ErrDeviceFailure is returned when the device fails to execute a transfer.
	ErrDeviceFailure = errors.New("device failure")

	// ErrCanceled is returned when an operation is abandoned because its context was done.
	ErrCanceled = errors.New("canceled")

	// ErrViewReleased is returned by View.WriteBack when the view was already finalized.
	ErrViewReleased = errors.New("view already released")

	// ErrViewLive is returned when mapping a buffer that already has a live view, or
	// when a mapped buffer is about to be handed to execution.
	ErrViewLive = errors.New("buffer has a live view")

	// ErrInvalidSize is returned when sizes don't match what a buffer or allocator supports.
	ErrInvalidSize = errors.New("invalid size")

	// ErrDuplicateName is returned when registering a constant buffer name twice.
	ErrDuplicateName = errors.New("duplicate constant buffer name")
)

// Kind classifies errors so callers can choose a recovery strategy.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotImplemented
	KindAllocation
	KindDevice
	KindCanceled
	// KindUsage covers violations of the mapping protocol by the caller.
	KindUsage
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindNotImplemented:
		return "NotImplemented"
	case KindAllocation:
		return "Allocation"
	case KindDevice:
		return "Device"
	case KindCanceled:
		return "Canceled"
	case KindUsage:
		return "Usage"
	default:
		return "Unknown"
	}
}

// KindOf returns the Kind of err. A nil error or one that doesn't wrap any of the sentinel
// errors of this package is KindUnknown.
//
// A cancellation coming directly from a context (context.Canceled or context.DeadlineExceeded)
// is also KindCanceled.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrNotImplemented):
		return KindNotImplemented
	case errors.Is(err, ErrAllocationFailed):
		return KindAllocation
	case errors.Is(err, ErrDeviceFailure):
		return KindDevice
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, ErrViewReleased), errors.Is(err, ErrViewLive),
		errors.Is(err, ErrInvalidSize), errors.Is(err, ErrDuplicateName):
		return KindUsage
	}
	return KindUnknown
}

// Canceled returns an error matching both ErrCanceled and the cause of ctx being done.
func Canceled(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}
