// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/vmbbc/plaidml/buffers"
	"github.com/vmbbc/plaidml/buffers/constcache"
	"github.com/vmbbc/plaidml/pkg/support/sets"
	"github.com/vmbbc/plaidml/pkg/support/xsync"
	"k8s.io/klog/v2"
)

// errSkipped is returned by scenarios that don't apply to the allocator.
var errSkipped = errors.New("skipped")

// options of the scenarios.
type options struct {
	Size       uint64
	Iterations int
	Parallel   int
	CachePath  string
}

// result of one scenario.
type result struct {
	Name    string
	Err     error
	Elapsed time.Duration
	Bytes   uint64
	Notes   string
}

func (r result) Failed() bool {
	return statusOf(r) == statusFailed
}

type scenario struct {
	name string
	run  func(ctx context.Context, alloc buffers.Allocator, opts options, r *result) error
}

var scenarios = []scenario{
	{"hello-world", helloWorld},
	{"round-trip", roundTrip},
	{"discard-cycles", discardCycles},
	{"clone", cloneIndependence},
	{"concurrent-maps", concurrentMaps},
	{"constants", constants},
}

// scenarioNames returns the names of all scenarios.
func scenarioNames() []string {
	names := make([]string, len(scenarios))
	for ii, s := range scenarios {
		names[ii] = s.name
	}
	return names
}

// selectScenarios returns the names of the scenarios to run, or an error listing the unknown names.
// Empty names select all scenarios.
func selectScenarios(names []string) (sets.Set[string], error) {
	if len(names) == 0 {
		return sets.Of(scenarioNames()...), nil
	}
	selected := sets.Of(names...)
	if unknown := selected.Difference(sets.Of(scenarioNames()...)); len(unknown) > 0 {
		return nil, errors.Errorf("unknown scenarios %q, valid scenarios: %q", sets.Sorted(unknown), scenarioNames())
	}
	return selected, nil
}

// runScenarios runs the selected scenarios against alloc, in order. A failing scenario doesn't stop the others.
// If onDone is not nil, it's called after each scenario.
func runScenarios(ctx context.Context, alloc buffers.Allocator, selected sets.Set[string], opts options,
	onDone func(r result)) []result {
	results := make([]result, 0, len(selected))
	for _, s := range scenarios {
		if !selected.Has(s.name) {
			continue
		}
		r := result{Name: s.name}
		start := time.Now()
		r.Err = s.run(ctx, alloc, opts, &r)
		r.Elapsed = time.Since(start)
		if r.Failed() {
			klog.Errorf("scenario %q failed: %+v", s.name, r.Err)
		} else {
			klog.V(1).Infof("scenario %q: %s", s.name, r.Elapsed)
		}
		results = append(results, r)
		if onDone != nil {
			onDone(r)
		}
	}
	return results
}

// release checks that the buffers have no live views and finalizes them through a Shared handle.
func release(bufs ...buffers.Buffer) error {
	for _, buf := range bufs {
		if err := buffers.EnsureUnmapped(buf); err != nil {
			return err
		}
		if err := buffers.Share(buf).Release(); err != nil {
			return err
		}
	}
	return nil
}

func helloWorld(ctx context.Context, alloc buffers.Allocator, _ options, r *result) error {
	const message = "HELLO, WORLD!!!!"
	buf, err := alloc.Allocate(uint64(len(message)))
	if err != nil {
		return err
	}
	view, err := buf.MapDiscard(ctx)
	if err != nil {
		return err
	}
	copy(view.Data(), message)
	if err := view.WriteBack(ctx); err != nil {
		return err
	}
	view, err = buffers.MapCurrentSync(ctx, buf)
	if err != nil {
		return err
	}
	got := view.String()
	if err := view.WriteBack(ctx); err != nil {
		return err
	}
	if got != message {
		return errors.Errorf("read %q, wrote %q", got, message)
	}
	r.Bytes = uint64(len(message))
	return release(buf)
}

func roundTrip(ctx context.Context, alloc buffers.Allocator, opts options, r *result) error {
	buf, err := alloc.Allocate(opts.Size)
	if err != nil {
		return err
	}
	data := make([]byte, opts.Size)
	for range opts.Iterations {
		if _, err := rand.Read(data); err != nil {
			return errors.Wrap(err, "generating random data")
		}
		if err := buffers.Write(ctx, buf, data); err != nil {
			return err
		}
		got, err := buffers.ReadAll(ctx, buf)
		if err != nil {
			return err
		}
		if !bytes.Equal(got, data) {
			return errors.New("contents read differ from contents written")
		}
		r.Bytes += 2 * opts.Size
	}
	return release(buf)
}

func discardCycles(ctx context.Context, alloc buffers.Allocator, opts options, r *result) error {
	buf, err := alloc.Allocate(opts.Size)
	if err != nil {
		return err
	}
	for cycle := range 2 {
		fill := bytes.Repeat([]byte{byte('a' + cycle)}, int(opts.Size))
		view, err := buf.MapDiscard(ctx)
		if err != nil {
			return err
		}
		copy(view.Data(), fill)
		if err := view.WriteBack(ctx); err != nil {
			return err
		}
		got, err := buffers.ReadAll(ctx, buf)
		if err != nil {
			return err
		}
		if !bytes.Equal(got, fill) {
			return errors.Errorf("discard cycle #%d: contents differ from the last write", cycle)
		}
		r.Bytes += opts.Size
	}
	return release(buf)
}

func cloneIndependence(ctx context.Context, alloc buffers.Allocator, opts options, r *result) error {
	original, err := alloc.Allocate(opts.Size)
	if err != nil {
		return err
	}
	if !buffers.CanClone(original) {
		_ = release(original)
		return errSkipped
	}
	data := bytes.Repeat([]byte{1}, int(opts.Size))
	if err := buffers.Write(ctx, original, data); err != nil {
		return err
	}
	clone, err := original.Clone()
	if err != nil {
		return err
	}
	if err := buffers.Write(ctx, clone, bytes.Repeat([]byte{2}, int(opts.Size))); err != nil {
		return err
	}
	got, err := buffers.ReadAll(ctx, original)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, data) {
		return errors.New("writing to the clone changed the original")
	}
	r.Bytes = 2 * opts.Size
	return release(original, clone)
}

// concurrentMaps requests opts.Parallel maps at once, and waits for all of them.
func concurrentMaps(ctx context.Context, alloc buffers.Allocator, opts options, r *result) error {
	bufs := make([]buffers.Buffer, opts.Parallel)
	futures := make([]*xsync.Future[buffers.View], opts.Parallel)
	for ii := range bufs {
		var err error
		bufs[ii], err = alloc.Allocate(opts.Size)
		if err != nil {
			return err
		}
		if err := buffers.Write(ctx, bufs[ii], bytes.Repeat([]byte{byte(ii)}, int(opts.Size))); err != nil {
			return err
		}
	}
	for ii, buf := range bufs {
		futures[ii] = buf.MapCurrent(ctx)
	}
	var firstErr error
	for ii, future := range futures {
		view, err := future.Await(ctx)
		if err != nil {
			firstErr = cmpErr(firstErr, errors.WithMessagef(err, "mapping buffer #%d", ii))
			continue
		}
		if opts.Size > 0 && view.At(0) != byte(ii) {
			firstErr = cmpErr(firstErr, errors.Errorf("buffer #%d has the contents of another buffer", ii))
		}
		firstErr = cmpErr(firstErr, view.WriteBack(ctx))
		r.Bytes += opts.Size
	}
	if firstErr != nil {
		return firstErr
	}
	r.Notes = fmt.Sprintf("%d buffers", opts.Parallel)
	return release(bufs...)
}

func cmpErr(first, err error) error {
	if first != nil {
		return first
	}
	return err
}

// constants materializes float16 weights with a ConstBufferManager, saves them with constcache and
// reloads them into a second manager.
func constants(ctx context.Context, alloc buffers.Allocator, opts options, r *result) error {
	numWeights := max(int(opts.Size/2), 1)
	weights := make([]float32, numWeights)
	for ii := range weights {
		weights[ii] = float32(ii%64) / 8
	}
	staging, err := alloc.Allocate(uint64(2 * numWeights))
	if err != nil {
		return err
	}
	view, err := staging.MapDiscard(ctx)
	if err != nil {
		return err
	}
	buffers.PutFloat16(view, weights)
	encoded := bytes.Clone(view.Data())
	if err := view.WriteBack(ctx); err != nil {
		return err
	}
	if err := release(staging); err != nil {
		return err
	}

	saved := buffers.NewConstBufferManager(alloc)
	if _, _, err := saved.Materialize(ctx, "weights", encoded); err != nil {
		return err
	}
	if _, _, err := saved.Materialize(ctx, "bias", make([]byte, 64)); err != nil {
		return err
	}

	loaded := buffers.NewConstBufferManager(alloc)
	var stats constcache.Stats
	if opts.CachePath != "" {
		if _, err := constcache.SaveFile(ctx, opts.CachePath, saved); err != nil {
			return err
		}
		if stats, err = constcache.LoadFile(ctx, opts.CachePath, loaded); err != nil {
			return err
		}
	} else {
		var stream bytes.Buffer
		if _, err := constcache.Save(ctx, &stream, saved); err != nil {
			return err
		}
		if stats, err = constcache.Load(ctx, &stream, loaded); err != nil {
			return err
		}
	}

	reloaded, found := loaded.Lookup("weights")
	if !found {
		return errors.New("weights missing after reloading")
	}
	view, err = buffers.MapCurrentSync(ctx, reloaded)
	if err != nil {
		return err
	}
	got := buffers.Float16Values(view)
	if err := view.WriteBack(ctx); err != nil {
		return err
	}
	for ii, w := range weights {
		if got[ii] != w {
			return errors.Errorf("weight #%d reloaded as %g, saved %g", ii, got[ii], w)
		}
	}
	r.Bytes = saved.TotalBytes()
	r.Notes = fmt.Sprintf("%d constants, compression %.1fx", stats.Constants, stats.Ratio())
	for _, m := range []*buffers.ConstBufferManager{saved, loaded} {
		for _, name := range m.Names() {
			if err := release(m.Buffers[name]); err != nil {
				return err
			}
		}
	}
	return nil
}
