// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"context"

	"github.com/pkg/errors"
)

// result is what a Future resolves to: either a value or an error.
type result[T any] struct {
	value T
	err   error
}

// Future holds the result of an asynchronous operation, that may be delivered later or may already
// be available.
//
// Errors share the same channel as values: an operation that fails synchronously returns a Future
// already resolved with the error (see Failed), and one that fails later resolves it with the error.
// A Future is resolved only once, subsequent calls to Resolve are ignored.
type Future[T any] struct {
	latch *LatchWithValue[result[T]]
}

// NewFuture returns an unresolved Future. Call Resolve to deliver its result.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{latch: NewLatchWithValue[result[T]]()}
}

// Ready returns a Future already resolved with value.
func Ready[T any](value T) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(value, nil)
	return f
}

// Failed returns a Future already resolved with err.
func Failed[T any](err error) *Future[T] {
	f := NewFuture[T]()
	var zero T
	f.Resolve(zero, err)
	return f
}

// Resolve delivers the result of the Future.
//
// It returns false if the Future had already been resolved, in which case value is not delivered
// to anyone, and it is up to the caller to dispose of it.
func (f *Future[T]) Resolve(value T, err error) bool {
	return f.latch.Trigger(result[T]{value: value, err: err})
}

// IsReady returns whether the Future has been resolved.
func (f *Future[T]) IsReady() bool {
	return f.latch.Test()
}

// Done returns a channel that is closed when the Future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.latch.WaitChan()
}

// Wait blocks until the Future is resolved and returns its result.
func (f *Future[T]) Wait() (T, error) {
	r := f.latch.Wait()
	return r.value, r.err
}

// Await is like Wait, but gives up if ctx is done first, returning the context error.
//
// Giving up doesn't cancel the underlying operation: the result, when delivered, is lost.
// If the value needs disposing, use Then instead.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.Done():
		return f.Wait()
	case <-ctx.Done():
		var zero T
		return zero, errors.Wrap(ctx.Err(), "while waiting for future")
	}
}

// Then calls fn with the result of the Future once it is resolved.
//
// If the Future is already resolved fn is called immediately, in the current goroutine.
// Otherwise, it is called in a separate goroutine.
func (f *Future[T]) Then(fn func(value T, err error)) {
	if f.IsReady() {
		fn(f.Wait())
		return
	}
	go func() {
		fn(f.Wait())
	}()
}

// Map returns a Future resolved with the result of fn applied to the value of f.
// Errors of f are propagated without calling fn.
func Map[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	mapped := NewFuture[U]()
	f.Then(func(value T, err error) {
		if err != nil {
			var zero U
			mapped.Resolve(zero, err)
			return
		}
		mapped.Resolve(fn(value))
	})
	return mapped
}
