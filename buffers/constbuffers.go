// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package buffers

import (
	"context"
	"maps"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ConstBufferManager pairs an Allocator with a registry of named buffers. Compilers use it to
// materialize constant data, and to avoid materializing the same named constant twice during
// a compilation.
//
// It's a plain aggregate: the fields can be used directly. It's not safe for concurrent use.
type ConstBufferManager struct {
	Allocator Allocator
	Buffers   map[string]Buffer
}

// NewConstBufferManager returns an empty manager that materializes new buffers with allocator.
func NewConstBufferManager(allocator Allocator) *ConstBufferManager {
	return &ConstBufferManager{
		Allocator: allocator,
		Buffers:   make(map[string]Buffer),
	}
}

// Lookup returns the buffer registered under name.
func (m *ConstBufferManager) Lookup(name string) (Buffer, bool) {
	buf, found := m.Buffers[name]
	return buf, found
}

// Register buffer under name. Names are unique: registering a name twice returns an error
// matching ErrDuplicateName.
func (m *ConstBufferManager) Register(name string, buffer Buffer) error {
	if m.Buffers == nil {
		m.Buffers = make(map[string]Buffer)
	}
	if _, found := m.Buffers[name]; found {
		return errors.Wrapf(ErrDuplicateName, "constant %q", name)
	}
	m.Buffers[name] = buffer
	return nil
}

// Materialize returns the buffer registered under name, or creates it with the manager's Allocator,
// fills it with data and registers it.
//
// reused reports whether an existing buffer was returned. If a buffer is registered under name with a
// different size, it returns an error matching ErrDuplicateName.
func (m *ConstBufferManager) Materialize(ctx context.Context, name string, data []byte) (buffer Buffer, reused bool, err error) {
	if existing, found := m.Buffers[name]; found {
		if existing.Size() != uint64(len(data)) {
			return nil, false, errors.Wrapf(ErrDuplicateName, "constant %q registered with %d bytes, materializing %d bytes",
				name, existing.Size(), len(data))
		}
		return existing, true, nil
	}
	if m.Allocator == nil {
		return nil, false, errors.Errorf("ConstBufferManager has no Allocator to materialize constant %q", name)
	}
	buffer, err = m.Allocator.Allocate(uint64(len(data)))
	if err != nil {
		return nil, false, errors.WithMessagef(err, "allocating %s for constant %q", humanize.IBytes(uint64(len(data))), name)
	}
	if err = Write(ctx, buffer, data); err != nil {
		if f, ok := buffer.(Finalizer); ok {
			if finalizeErr := f.Finalize(); finalizeErr != nil {
				klog.Warningf("ConstBufferManager: finalizing buffer of constant %q: %v", name, finalizeErr)
			}
		}
		return nil, false, errors.WithMessagef(err, "writing constant %q", name)
	}
	if err = m.Register(name, buffer); err != nil {
		return nil, false, err
	}
	klog.V(1).Infof("ConstBufferManager: materialized %q (%s)", name, humanize.IBytes(uint64(len(data))))
	return buffer, false, nil
}

// Names returns the registered names, sorted.
func (m *ConstBufferManager) Names() []string {
	return slices.Sorted(maps.Keys(m.Buffers))
}

// TotalBytes returns the sum of the sizes of the registered buffers.
func (m *ConstBufferManager) TotalBytes() uint64 {
	var total uint64
	for _, buf := range m.Buffers {
		total += buf.Size()
	}
	return total
}
