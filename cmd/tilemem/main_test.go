package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmbbc/plaidml/buffers"
	"github.com/vmbbc/plaidml/buffers/notimplemented"
	"github.com/vmbbc/plaidml/buffers/wasmmem"
)

func TestRunScenarios(t *testing.T) {
	ctx := context.Background()
	opts := options{Size: 4096, Iterations: 2, Parallel: 4}
	for _, config := range []string{"simple", "simple:pool,limit=1MiB", "wasm:pages=1,max_pages=64,workers=2"} {
		t.Run(config, func(t *testing.T) {
			alloc := must.M1(buffers.NewAllocatorWithConfig(config))
			if d, ok := alloc.(*wasmmem.Device); ok {
				defer func() { require.NoError(t, d.Close(ctx)) }()
			}
			results := runScenarios(ctx, alloc, must.M1(selectScenarios(nil)), opts, nil)
			require.Len(t, results, len(scenarios))
			for _, r := range results {
				require.NoError(t, r.Err, r.Name)
			}
			if d, ok := alloc.(*wasmmem.Device); ok {
				assert.Zero(t, d.Stats().UsedBytes)
			}
			assert.Contains(t, report(results), "constants")
		})
	}
}

func TestRunScenarios_CacheFile(t *testing.T) {
	opts := options{Size: 256, Iterations: 1, Parallel: 1, CachePath: filepath.Join(t.TempDir(), "constants.bin")}
	results := runScenarios(context.Background(), must.M1(buffers.NewAllocatorWithConfig("simple")),
		must.M1(selectScenarios([]string{"constants"})), opts, nil)
	require.Len(t, results, 1)
	for _, r := range results {
		require.NoError(t, r.Err, r.Name)
	}
	require.FileExists(t, opts.CachePath)
}

func TestRunScenarios_Failures(t *testing.T) {
	var done int
	results := runScenarios(context.Background(), notimplemented.Allocator{}, must.M1(selectScenarios(nil)),
		options{Size: 16, Iterations: 1, Parallel: 1}, func(r result) { done++ })
	for _, r := range results {
		require.True(t, r.Failed(), r.Name)
		require.ErrorIs(t, r.Err, buffers.ErrNotImplemented, r.Name)
	}
	require.Equal(t, len(scenarios), done)
	require.Contains(t, report(results), "hello-world")
}

func TestSelectScenarios(t *testing.T) {
	selected, err := selectScenarios([]string{"clone", "hello-world"})
	require.NoError(t, err)
	require.Len(t, selected, 2)
	require.True(t, selected.Has("clone"))

	_, err = selectScenarios([]string{"clone", "warp-drive"})
	require.ErrorContains(t, err, "warp-drive")
}

func TestReport(t *testing.T) {
	results := []result{
		{Name: "hello-world", Bytes: 16, Elapsed: time.Millisecond},
		{Name: "clone", Err: errors.Wrap(errSkipped, "allocator can't clone")},
		{Name: "constants", Err: errors.New("checksum mismatch"), Notes: "hidden"},
	}
	require.Equal(t, []status{statusPassed, statusSkipped, statusFailed},
		[]status{statusOf(results[0]), statusOf(results[1]), statusOf(results[2])})
	require.False(t, results[1].Failed())
	require.True(t, results[2].Failed())

	out := report(results)
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "skipped")
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "checksum mismatch")
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "KiB/s")
}
