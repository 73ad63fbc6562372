package buffers_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
	"github.com/vmbbc/plaidml/buffers"
	"github.com/vmbbc/plaidml/buffers/notimplemented"
	"github.com/vmbbc/plaidml/buffers/simple"
)

func TestConstBufferManager_Materialize(t *testing.T) {
	ctx := context.Background()
	allocations := 0
	m := buffers.NewConstBufferManager(buffers.AllocatorFunc(func(size uint64) (buffers.Buffer, error) {
		allocations++
		return simple.Allocator{}.Allocate(size)
	}))

	weights, reused, err := m.Materialize(ctx, "weights", []byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.False(t, reused)
	require.Equal(t, []byte{1, 2, 3, 4}, must.M1(buffers.ReadAll(ctx, weights)))

	again, reused, err := m.Materialize(ctx, "weights", []byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.True(t, reused)
	require.Same(t, weights, again)
	require.Equal(t, 1, allocations)

	_, _, err = m.Materialize(ctx, "weights", []byte{1, 2})
	require.ErrorIs(t, err, buffers.ErrDuplicateName)

	_, _, err = m.Materialize(ctx, "bias", []byte{9})
	require.NoError(t, err)
	require.Equal(t, []string{"bias", "weights"}, m.Names())
	require.Equal(t, uint64(5), m.TotalBytes())
	require.NoError(t, buffers.EnsureUnmapped(weights))
}

func TestConstBufferManager_Register(t *testing.T) {
	var m buffers.ConstBufferManager // Zero value is usable.
	require.NoError(t, m.Register("a", simple.New(1)))
	require.ErrorIs(t, m.Register("a", simple.New(1)), buffers.ErrDuplicateName)
	buf, found := m.Lookup("a")
	require.True(t, found)
	require.Equal(t, uint64(1), buf.Size())
	_, found = m.Lookup("b")
	require.False(t, found)

	// Without an allocator nothing new can be materialized.
	_, _, err := m.Materialize(context.Background(), "b", []byte{1})
	require.Error(t, err)
}

func TestConstBufferManager_AllocationFailure(t *testing.T) {
	m := buffers.NewConstBufferManager(notimplemented.Allocator{})
	_, _, err := m.Materialize(context.Background(), "c", []byte{1})
	require.Equal(t, buffers.KindNotImplemented, buffers.KindOf(err))
	require.Empty(t, m.Names())

	m.Allocator = simple.NewPoolAllocator(2)
	_, _, err = m.Materialize(context.Background(), "c", []byte{1, 2, 3})
	require.ErrorIs(t, err, buffers.ErrAllocationFailed)
	require.Empty(t, m.Names())
}

// unmappableBuffer fails every MapDiscard, and records whether it was finalized.
type unmappableBuffer struct {
	buffers.Buffer
	finalized bool
}

func (b *unmappableBuffer) MapDiscard(context.Context) (buffers.View, error) {
	return nil, errors.Wrap(buffers.ErrDeviceFailure, "unmappable")
}

func (b *unmappableBuffer) Finalize() error {
	b.finalized = true
	return nil
}

func TestConstBufferManager_WriteFailureFinalizes(t *testing.T) {
	var allocated []*unmappableBuffer
	m := buffers.NewConstBufferManager(buffers.AllocatorFunc(func(size uint64) (buffers.Buffer, error) {
		b := &unmappableBuffer{Buffer: simple.New(size)}
		allocated = append(allocated, b)
		return b, nil
	}))
	_, _, err := m.Materialize(context.Background(), "weights", []byte{1, 2, 3})
	require.ErrorIs(t, err, buffers.ErrDeviceFailure)
	require.Len(t, allocated, 1)
	require.True(t, allocated[0].finalized)
	require.Empty(t, m.Names())

	// The pool limit is given back to the allocator.
	pool := simple.NewPoolAllocator(4)
	m.Allocator = buffers.AllocatorFunc(func(size uint64) (buffers.Buffer, error) {
		b, err := pool.Allocate(size)
		if err != nil {
			return nil, err
		}
		return &poolUnmappable{b}, nil
	})
	for range 3 {
		_, _, err = m.Materialize(context.Background(), "bias", []byte{1, 2, 3, 4})
		require.ErrorIs(t, err, buffers.ErrDeviceFailure)
	}
	require.Zero(t, pool.Stats().InUse)
}

// poolUnmappable forwards Finalize to the wrapped pool buffer.
type poolUnmappable struct {
	buffers.Buffer
}

func (b *poolUnmappable) MapDiscard(context.Context) (buffers.View, error) {
	return nil, errors.Wrap(buffers.ErrDeviceFailure, "unmappable")
}

func (b *poolUnmappable) Finalize() error {
	return b.Buffer.(buffers.Finalizer).Finalize()
}
