// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package buffers

import (
	"encoding/binary"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// Number are the Go types whose values can be read or written in place through a View with Flat.
type Number interface {
	constraints.Integer | constraints.Float
}

// Flat returns the mapped bytes of view reinterpreted as a slice of T, sharing the view's memory.
//
// It's only valid until the view is finalized. It panics if the view size is not a multiple
// of the size of T, or if its data is not aligned for T.
func Flat[T Number](view View) []T {
	data := view.Data()
	var t T
	elementSize := int(unsafe.Sizeof(t))
	if len(data)%elementSize != 0 {
		exceptions.Panicf("buffers.Flat: view of %d bytes is not a multiple of the element size %d", len(data), elementSize)
	}
	if len(data) == 0 {
		return nil
	}
	pointer := unsafe.Pointer(unsafe.SliceData(data))
	if uintptr(pointer)%unsafe.Alignof(t) != 0 {
		exceptions.Panicf("buffers.Flat: view data is not aligned to %d bytes", unsafe.Alignof(t))
	}
	return unsafe.Slice((*T)(pointer), len(data)/elementSize)
}

// PutFloat16 encodes values as little-endian half precision floats into view, starting at byte 0.
//
// It panics if the view is too small to hold len(values)*2 bytes.
func PutFloat16(view View, values []float32) {
	data := view.Data()
	if len(data) < 2*len(values) {
		exceptions.Panicf("buffers.PutFloat16: %d values don't fit in view of %d bytes", len(values), len(data))
	}
	for ii, value := range values {
		binary.LittleEndian.PutUint16(data[2*ii:], float16.Fromfloat32(value).Bits())
	}
}

// Float16Values decodes the contents of view as little-endian half precision floats.
func Float16Values(view View) []float32 {
	data := view.Data()
	values := make([]float32, len(data)/2)
	for ii := range values {
		values[ii] = float16.Frombits(binary.LittleEndian.Uint16(data[2*ii:])).Float32()
	}
	return values
}
