package simple

import (
	"bytes"
	"context"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmbbc/plaidml/buffers"
)

func TestAllocate_Size(t *testing.T) {
	for _, alloc := range []buffers.Allocator{Allocator{}, NewPoolAllocator(0)} {
		for _, size := range []uint64{0, 1, 7, 16, 4096} {
			buf, err := alloc.Allocate(size)
			require.NoError(t, err)
			require.Equal(t, size, buf.Size())
		}
	}
}

func TestNew_ZeroInitialized(t *testing.T) {
	ctx := context.Background()
	buf := New(64)
	view := must.M1(buf.MapCurrent(ctx).Wait())
	require.Equal(t, 64, view.Size())
	for pos, value := range view.All() {
		require.Zerof(t, value, "byte %d not zero", pos)
	}
	require.NoError(t, view.WriteBack(ctx))
}

func TestMapCurrent_AlreadyResolved(t *testing.T) {
	ctx := context.Background()
	buf := FromBytes([]byte("abc"))
	future := buf.MapCurrent(ctx)
	require.True(t, future.IsReady())
	view, err := future.Wait()
	require.NoError(t, err)
	assert.Equal(t, "abc", view.String())
	assert.Equal(t, byte('b'), view.At(1))
	require.NoError(t, view.WriteBack(ctx))
}

func TestHelloWorldScenario(t *testing.T) {
	ctx := context.Background()
	buf := must.M1(Allocator{}.Allocate(16))

	view := must.M1(buffers.MapCurrentSync(ctx, buf))
	for ii, c := range []byte("HELLO, WORLD!!!!") {
		view.Set(ii, c)
	}
	require.NoError(t, view.WriteBack(ctx))

	view = must.M1(buffers.MapCurrentSync(ctx, buf))
	require.Equal(t, "HELLO, WORLD!!!!", view.String())
	require.NoError(t, view.WriteBack(ctx))
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	pattern := make([]byte, 257)
	for ii := range pattern {
		pattern[ii] = byte(ii * 31)
	}
	buf := New(uint64(len(pattern)))
	view := must.M1(buffers.MapCurrentSync(ctx, buf))
	copy(view.Data(), pattern)
	require.NoError(t, view.WriteBack(ctx))
	require.Equal(t, pattern, must.M1(buffers.ReadAll(ctx, buf)))
}

func TestMapDiscard_TwoCycles(t *testing.T) {
	ctx := context.Background()
	buf := New(8)
	for _, payload := range [][]byte{[]byte("AAAAAAAA"), []byte("bbbbbbbb")} {
		view, err := buf.MapDiscard(ctx)
		require.NoError(t, err)
		copy(view.Data(), payload)
		require.NoError(t, view.WriteBack(ctx))
		require.Equal(t, payload, must.M1(buffers.ReadAll(ctx, buf)))
	}
}

func TestClone_Independent(t *testing.T) {
	ctx := context.Background()
	for _, alloc := range []buffers.Allocator{Allocator{}, NewPoolAllocator(0)} {
		original := must.M1(alloc.Allocate(4))
		require.NoError(t, buffers.Write(ctx, original, []byte("orig")))
		require.True(t, buffers.CanClone(original))

		clone, err := original.Clone()
		require.NoError(t, err)
		require.Equal(t, []byte("orig"), must.M1(buffers.ReadAll(ctx, clone)))

		require.NoError(t, buffers.Write(ctx, clone, []byte("XXXX")))
		require.Equal(t, []byte("orig"), must.M1(buffers.ReadAll(ctx, original)))
		require.Equal(t, []byte("XXXX"), must.M1(buffers.ReadAll(ctx, clone)))
	}
}

func TestView_Lifecycle(t *testing.T) {
	ctx := context.Background()
	buf := New(4)
	view := must.M1(buf.MapDiscard(ctx))
	require.Equal(t, 1, buf.LiveViews())
	require.ErrorIs(t, buffers.EnsureUnmapped(buf), buffers.ErrViewLive)

	// A second view while one is live is refused, synchronously or through the future.
	_, err := buf.MapDiscard(ctx)
	require.ErrorIs(t, err, buffers.ErrViewLive)
	_, err = buf.MapCurrent(ctx).Wait()
	require.ErrorIs(t, err, buffers.ErrViewLive)
	require.Equal(t, buffers.KindUsage, buffers.KindOf(err))

	require.NoError(t, view.WriteBack(ctx))
	require.Nil(t, view.Data())
	require.ErrorIs(t, view.WriteBack(ctx), buffers.ErrViewReleased)
	require.NoError(t, buffers.EnsureUnmapped(buf))
}

func TestPoolAllocator_Reuse(t *testing.T) {
	ctx := context.Background()
	pool := NewPoolAllocator(0)
	first := must.M1(pool.Allocate(32))
	require.NoError(t, buffers.Write(ctx, first, bytes.Repeat([]byte{7}, 32)))
	require.Equal(t, uint64(32), pool.Stats().InUse)
	require.NoError(t, first.(buffers.Finalizer).Finalize())
	require.Equal(t, uint64(0), pool.Stats().InUse)
	require.Error(t, first.(buffers.Finalizer).Finalize())

	// sync.Pool may drop entries at any time, so only the accounting is checked.
	second := must.M1(pool.Allocate(32))
	require.Equal(t, uint64(32), second.Size())
	stats := pool.Stats()
	require.Equal(t, uint64(2), stats.Hits+stats.Misses)
}

func TestPoolAllocator_Limit(t *testing.T) {
	pool := NewPoolAllocator(100)
	a := must.M1(pool.Allocate(60))
	_, err := pool.Allocate(60)
	require.ErrorIs(t, err, buffers.ErrAllocationFailed)
	require.Equal(t, buffers.KindAllocation, buffers.KindOf(err))

	// Releasing the shared reference finalizes the buffer, returning its bytes.
	shared := buffers.Share(a)
	require.NoError(t, shared.Release())
	b, err := pool.Allocate(60)
	require.NoError(t, err)
	require.Equal(t, uint64(60), b.Size())
}

func TestFinalize_WithLiveView(t *testing.T) {
	ctx := context.Background()
	buf := New(4)
	view := must.M1(buf.MapDiscard(ctx))
	require.ErrorIs(t, buf.Finalize(), buffers.ErrViewLive)
	require.NoError(t, view.WriteBack(ctx))
	require.NoError(t, buf.Finalize())
	require.Panics(t, func() { _, _ = buf.MapDiscard(ctx) })
}

func TestNewAllocatorWithConfig(t *testing.T) {
	alloc, err := buffers.NewAllocatorWithConfig("simple")
	require.NoError(t, err)
	require.IsType(t, Allocator{}, alloc)

	alloc, err = buffers.NewAllocatorWithConfig("simple:pool,limit=1KiB")
	require.NoError(t, err)
	pool, ok := alloc.(*PoolAllocator)
	require.True(t, ok)
	require.Equal(t, uint64(1024), pool.limit)

	_, err = buffers.NewAllocatorWithConfig("simple:limit=1KiB")
	require.Error(t, err)
	_, err = buffers.NewAllocatorWithConfig("simple:bogus")
	require.Error(t, err)
	_, err = buffers.NewAllocatorWithConfig("nonexistent:")
	require.Error(t, err)
}
