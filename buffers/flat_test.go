package buffers_test

import (
	"context"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
	"github.com/vmbbc/plaidml/buffers"
	"github.com/vmbbc/plaidml/buffers/simple"
)

func TestFlat(t *testing.T) {
	ctx := context.Background()
	buf := simple.New(12)
	view := must.M1(buf.MapDiscard(ctx))
	values := buffers.Flat[int32](view)
	require.Len(t, values, 3)
	values[0], values[1], values[2] = 1, 7, 3
	require.Equal(t, []byte{1, 0, 0, 0, 7, 0, 0, 0, 3, 0, 0, 0}, view.Data())
	require.Panics(t, func() { buffers.Flat[float64](view) })
	require.NoError(t, view.WriteBack(ctx))

	view = must.M1(simple.New(0).MapDiscard(ctx))
	require.Empty(t, buffers.Flat[float32](view))
	require.NoError(t, view.WriteBack(ctx))
}

func TestFloat16(t *testing.T) {
	ctx := context.Background()
	buf := simple.New(6)
	view := must.M1(buf.MapDiscard(ctx))
	buffers.PutFloat16(view, []float32{1, -2.5, 0.25})
	require.NoError(t, view.WriteBack(ctx))

	view = must.M1(buffers.MapCurrentSync(ctx, buf))
	require.Equal(t, []float32{1, -2.5, 0.25}, buffers.Float16Values(view))
	require.Panics(t, func() { buffers.PutFloat16(view, make([]float32, 4)) })
	require.NoError(t, view.WriteBack(ctx))
}
