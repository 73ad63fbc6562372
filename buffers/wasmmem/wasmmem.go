// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package wasmmem implements a staged buffers backend: buffers live in the linear memory of a
// WebAssembly instance (run by wazero), which host code can only reach through copies.
//
// Views are host staging copies: MapCurrent copies the buffer contents out of the linear memory
// asynchronously, in a pool of workers, and View.WriteBack copies the staging data back in.
// MapDiscard skips the copy-out.
//
// It registers the "wasm" allocator, with the following configuration options
// (comma-separated, e.g. "wasm:pages=16,max_pages=1024,workers=4"):
//
//   - pages=<n>: initial number of 64KiB pages of linear memory.
//   - max_pages=<n>: the memory grows on demand up to this number of pages.
//   - workers=<n>: maximum number of transfers running in parallel, -1 for unlimited.
package wasmmem

import (
	"context"
	"math"
	"strconv"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/vmbbc/plaidml/buffers"
	"github.com/vmbbc/plaidml/internal/workerspool"
	"github.com/vmbbc/plaidml/pkg/support/xsync"
	"k8s.io/klog/v2"
)

// BackendName to be used in buffers.NewAllocatorWithConfig.
const BackendName = "wasm"

// PageSize is the size of a WebAssembly memory page.
const PageSize = 65536

// MaxPages is the largest memory supported: offsets must fit 32 bits.
const MaxPages = math.MaxUint32 / PageSize

func init() {
	buffers.Register(BackendName, NewAllocatorWithConfig)
}

// Config of a Device.
type Config struct {
	// Pages of linear memory allocated at start. Defaults to 16 (1MiB).
	Pages uint32

	// MaxPages the memory can grow to. If smaller than Pages, the memory doesn't grow.
	MaxPages uint32

	// Workers is the maximum number of transfers running in parallel.
	// 0 uses the number of CPUs, -1 means unlimited.
	Workers int
}

// NewAllocatorWithConfig parses the configuration options and returns a new Device.
func NewAllocatorWithConfig(config string) (buffers.Allocator, error) {
	var cfg Config
	for key, value := range buffers.ParseOptions(config) {
		var err error
		switch key {
		case "pages":
			cfg.Pages, err = parsePages(value)
		case "max_pages":
			cfg.MaxPages, err = parsePages(value)
		case "workers":
			cfg.Workers, err = strconv.Atoi(value)
		default:
			return nil, errors.Errorf("unknown %q allocator option %q in config %q", BackendName, key, config)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %q allocator option %s=%q", BackendName, key, value)
		}
	}
	return New(context.Background(), cfg)
}

func parsePages(value string) (uint32, error) {
	pages, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, err
	}
	if pages > MaxPages {
		return 0, errors.Errorf("%d pages is more than the maximum of %d", pages, MaxPages)
	}
	return uint32(pages), nil
}

// Device owns a WebAssembly runtime whose linear memory backs the buffers it allocates.
//
// It implements buffers.Allocator.
type Device struct {
	runtime wazero.Runtime
	module  api.Module
	memory  api.Memory

	// muMemory protects the memory from being grown while it is being read or written.
	muMemory sync.RWMutex
	maxPages uint32

	arena    *Arena
	pool     *workerspool.Pool
	inFlight *xsync.DynamicWaitGroup
	closed   *xsync.Latch

	// read and store are memory.Read and memory.Write, replaceable in tests to simulate device faults.
	read  func(offset, byteCount uint32) ([]byte, bool)
	store func(offset uint32, data []byte) bool
}

var _ buffers.Allocator = (*Device)(nil)

// New creates a WebAssembly runtime with a memory-only module and returns the Device managing it.
// Close should be called when the Device is no longer needed.
func New(ctx context.Context, cfg Config) (*Device, error) {
	if cfg.Pages == 0 {
		cfg.Pages = 16
	}
	if cfg.Pages > MaxPages {
		return nil, errors.Errorf("wasmmem.New: %d pages is more than the maximum of %d", cfg.Pages, MaxPages)
	}
	cfg.MaxPages = min(max(cfg.MaxPages, cfg.Pages), MaxPages)

	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithMemoryLimitPages(cfg.MaxPages))
	module, err := runtime.Instantiate(ctx, memoryModule(cfg.Pages))
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, errors.Wrapf(buffers.ErrAllocationFailed, "wasmmem.New: instantiating memory of %d pages: %v", cfg.Pages, err)
	}
	d := &Device{
		runtime:  runtime,
		module:   module,
		memory:   module.Memory(),
		maxPages: cfg.MaxPages,
		pool:     workerspool.New(cfg.Workers),
		inFlight: xsync.NewDynamicWaitGroup(),
		closed:   xsync.NewLatch(),
	}
	d.read = d.memory.Read
	d.store = d.memory.Write
	d.arena = NewArena(uint64(d.memory.Size()))
	klog.V(1).Infof("wasmmem: device with %s of linear memory (up to %s)",
		humanize.IBytes(uint64(d.memory.Size())), humanize.IBytes(uint64(cfg.MaxPages)*PageSize))
	return d, nil
}

// memoryModule returns the binary of a WebAssembly module that only defines (and exports) a memory
// of the given number of pages.
func memoryModule(pages uint32) []byte {
	memorySection := []byte{0x01, 0x00} // 1 memory, limits with minimum only.
	memorySection = appendULEB128(memorySection, pages)
	exportSection := []byte{0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00} // Export memory 0 as "memory".

	module := []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}
	module = append(module, 0x05)
	module = appendULEB128(module, uint32(len(memorySection)))
	module = append(module, memorySection...)
	module = append(module, 0x07)
	module = appendULEB128(module, uint32(len(exportSection)))
	module = append(module, exportSection...)
	return module
}

func appendULEB128(b []byte, v uint32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b = append(b, c)
		if v == 0 {
			return b
		}
	}
}

// Allocate implements buffers.Allocator, reserving a region of the linear memory.
// If there is no free region large enough, the memory is grown up to the configured MaxPages.
func (d *Device) Allocate(size uint64) (buffers.Buffer, error) {
	if d.closed.Test() {
		return nil, errors.Wrapf(buffers.ErrDeviceFailure, "wasmmem: allocating on a closed device")
	}
	if size > math.MaxUint32 {
		return nil, errors.Wrapf(buffers.ErrAllocationFailed, "wasmmem: %s buffer doesn't fit 32 bits addresses",
			humanize.IBytes(size))
	}
	offset, err := d.arena.Alloc(size)
	if err != nil {
		if !d.grow(size) {
			return nil, err
		}
		offset, err = d.arena.Alloc(size)
		if err != nil {
			return nil, err
		}
	}
	klog.V(2).Infof("wasmmem: allocated %s at offset %d", humanize.IBytes(size), offset)
	return &Buffer{device: d, offset: uint32(offset), size: uint32(size)}, nil
}

// grow the linear memory enough to fit an allocation of size bytes. It returns false if the
// memory can't grow further.
func (d *Device) grow(size uint64) bool {
	d.muMemory.Lock()
	defer d.muMemory.Unlock()
	// The free region at the end of the memory is extended by the new pages.
	currentPages := uint64(d.memory.Size()) / PageSize
	needed := alignUp(size) - min(d.arena.TailFree(), alignUp(size))
	deltaPages := max((needed+PageSize-1)/PageSize, 1)
	if currentPages+deltaPages > uint64(d.maxPages) {
		return false
	}
	if _, ok := d.memory.Grow(uint32(deltaPages)); !ok {
		return false
	}
	d.arena.Extend(uint64(d.memory.Size()))
	klog.V(1).Infof("wasmmem: memory grown to %s", humanize.IBytes(uint64(d.memory.Size())))
	return true
}

// Stats reports the usage of a Device.
type Stats struct {
	// MemoryBytes is the current size of the linear memory.
	MemoryBytes uint64

	// UsedBytes allocated to buffers, including alignment padding.
	UsedBytes uint64

	// InFlight is the number of transfers in progress: MapCurrent copies not yet delivered and
	// copies in or out of the linear memory (WriteBack, Clone).
	InFlight int
}

// Stats returns the current usage.
func (d *Device) Stats() Stats {
	return Stats{
		MemoryBytes: d.arena.Size(),
		UsedBytes:   d.arena.Used(),
		InFlight:    d.inFlight.Count(),
	}
}

// Close waits for the transfers in flight (including WriteBack commits) and closes the runtime, releasing
// the linear memory.
// Buffers of a closed device fail with errors matching buffers.ErrDeviceFailure.
func (d *Device) Close(ctx context.Context) error {
	if !d.closed.Trigger() {
		return nil
	}
	d.inFlight.Wait()
	if err := d.runtime.Close(ctx); err != nil {
		return errors.Wrap(err, "wasmmem: closing runtime")
	}
	return nil
}

// readStaged copies [offset, offset+size) of the linear memory into a new staging slice.
func (d *Device) readStaged(offset, size uint32) ([]byte, error) {
	d.inFlight.Add(1)
	defer d.inFlight.Done()
	if d.closed.Test() {
		return nil, errors.Wrapf(buffers.ErrDeviceFailure, "wasmmem: reading from a closed device")
	}
	d.muMemory.RLock()
	defer d.muMemory.RUnlock()
	data, ok := d.read(offset, size)
	if !ok {
		return nil, errors.Wrapf(buffers.ErrDeviceFailure, "wasmmem: reading %d bytes at offset %d", size, offset)
	}
	staging := make([]byte, size)
	copy(staging, data)
	return staging, nil
}

// write data into the linear memory at offset.
//
// Close waits for it: the transfer is counted before checking whether the device is closed.
func (d *Device) write(offset uint32, data []byte) error {
	d.inFlight.Add(1)
	defer d.inFlight.Done()
	if d.closed.Test() {
		return errors.Wrapf(buffers.ErrDeviceFailure, "wasmmem: writing to a closed device")
	}
	d.muMemory.RLock()
	defer d.muMemory.RUnlock()
	if !d.store(offset, data) {
		return errors.Wrapf(buffers.ErrDeviceFailure, "wasmmem: writing %d bytes at offset %d", len(data), offset)
	}
	return nil
}
