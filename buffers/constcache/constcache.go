// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package constcache persists the constants of a buffers.ConstBufferManager, so a later compilation can
// materialize them without recomputing them.
//
// The format is a stream of msgpack values: a header followed by one record per constant, sorted by name.
// Each record holds the constant's lz4 block-compressed contents (or the raw contents, if they don't compress)
// and a CRC-32 (IEEE) of the uncompressed contents.
package constcache

import (
	"context"
	"hash/crc32"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/vmbbc/plaidml/buffers"
	"github.com/vmbbc/plaidml/pkg/support/fsutil"
	"github.com/vmihailenco/msgpack/v5"
	"k8s.io/klog/v2"
)

// Magic identifies a constants cache stream.
const Magic = "TILECONST"

// Version of the format written by Save.
const Version = 1

// maxCompressionRatio bounds the uncompressed size a record can claim, so corrupted sizes don't trigger
// huge allocations. LZ4 can't compress better than ~255:1.
const maxCompressionRatio = 256

// ErrCorrupted is returned (wrapped) by Load when the input is not a valid constants cache.
var ErrCorrupted = errors.New("corrupted constants cache")

type header struct {
	Magic   string `msgpack:"m"`
	Version int    `msgpack:"v"`
	Count   int    `msgpack:"n"`
}

type record struct {
	Name       string `msgpack:"n"`
	Size       uint64 `msgpack:"s"`
	Compressed bool   `msgpack:"z"`
	Payload    []byte `msgpack:"p"`
	Checksum   uint32 `msgpack:"c"`
}

// Stats of a Save or Load.
type Stats struct {
	Constants int

	// RawBytes is the total size of the constants.
	RawBytes uint64

	// StoredBytes is the total size of the payloads in the stream.
	StoredBytes uint64
}

// Ratio of RawBytes to StoredBytes, or 0 if nothing was stored.
func (s Stats) Ratio() float64 {
	if s.StoredBytes == 0 {
		return 0
	}
	return float64(s.RawBytes) / float64(s.StoredBytes)
}

// Save writes all the constants registered in m to w.
func Save(ctx context.Context, w io.Writer, m *buffers.ConstBufferManager) (Stats, error) {
	var stats Stats
	names := m.Names()
	enc := msgpack.NewEncoder(w)
	if err := enc.Encode(&header{Magic: Magic, Version: Version, Count: len(names)}); err != nil {
		return stats, errors.Wrap(err, "constcache: writing header")
	}
	for _, name := range names {
		if ctx.Err() != nil {
			return stats, buffers.Canceled(ctx)
		}
		data, err := buffers.ReadAll(ctx, m.Buffers[name])
		if err != nil {
			return stats, errors.WithMessagef(err, "constcache: reading constant %q", name)
		}
		rec := encodeRecord(name, data)
		if err := enc.Encode(&rec); err != nil {
			return stats, errors.Wrapf(err, "constcache: writing constant %q", name)
		}
		stats.Constants++
		stats.RawBytes += rec.Size
		stats.StoredBytes += uint64(len(rec.Payload))
	}
	klog.V(1).Infof("constcache: saved %d constants, %s compressed to %s", stats.Constants,
		humanize.IBytes(stats.RawBytes), humanize.IBytes(stats.StoredBytes))
	return stats, nil
}

func encodeRecord(name string, data []byte) record {
	rec := record{
		Name:     name,
		Size:     uint64(len(data)),
		Payload:  data,
		Checksum: crc32.ChecksumIEEE(data),
	}
	if len(data) == 0 {
		return rec
	}
	compressed := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, compressed, nil)
	if err != nil || n == 0 || n >= len(data) {
		// Incompressible: store raw.
		return rec
	}
	rec.Compressed = true
	rec.Payload = compressed[:n]
	return rec
}

// Load reads the constants in r and materializes them with m (see buffers.ConstBufferManager.Materialize):
// constants already registered in m with the same size are reused.
//
// Invalid input returns an error matching ErrCorrupted. Constants materialized before an error remain
// registered in m.
func Load(ctx context.Context, r io.Reader, m *buffers.ConstBufferManager) (Stats, error) {
	var stats Stats
	dec := msgpack.NewDecoder(r)
	var h header
	if err := dec.Decode(&h); err != nil {
		return stats, errors.Wrapf(ErrCorrupted, "reading header: %v", err)
	}
	if h.Magic != Magic {
		return stats, errors.Wrapf(ErrCorrupted, "invalid magic %q", h.Magic)
	}
	if h.Version != Version {
		return stats, errors.Wrapf(ErrCorrupted, "unsupported version %d", h.Version)
	}
	if h.Count < 0 {
		return stats, errors.Wrapf(ErrCorrupted, "invalid number of constants %d", h.Count)
	}
	for ii := range h.Count {
		if ctx.Err() != nil {
			return stats, buffers.Canceled(ctx)
		}
		var rec record
		if err := dec.Decode(&rec); err != nil {
			return stats, errors.Wrapf(ErrCorrupted, "reading constant #%d of %d: %v", ii, h.Count, err)
		}
		data, err := decodeRecord(&rec)
		if err != nil {
			return stats, err
		}
		if _, _, err := m.Materialize(ctx, rec.Name, data); err != nil {
			return stats, errors.WithMessagef(err, "constcache: loading constant %q", rec.Name)
		}
		stats.Constants++
		stats.RawBytes += rec.Size
		stats.StoredBytes += uint64(len(rec.Payload))
	}
	klog.V(1).Infof("constcache: loaded %d constants (%s)", stats.Constants, humanize.IBytes(stats.RawBytes))
	return stats, nil
}

func decodeRecord(rec *record) ([]byte, error) {
	var data []byte
	if rec.Compressed {
		if rec.Size > uint64(len(rec.Payload))*maxCompressionRatio {
			return nil, errors.Wrapf(ErrCorrupted, "constant %q claims %d bytes from a %d bytes payload",
				rec.Name, rec.Size, len(rec.Payload))
		}
		data = make([]byte, rec.Size)
		n, err := lz4.UncompressBlock(rec.Payload, data)
		if err != nil {
			return nil, errors.Wrapf(ErrCorrupted, "decompressing constant %q: %v", rec.Name, err)
		}
		if uint64(n) != rec.Size {
			return nil, errors.Wrapf(ErrCorrupted, "constant %q decompressed to %d bytes, expected %d", rec.Name, n, rec.Size)
		}
	} else {
		if uint64(len(rec.Payload)) != rec.Size {
			return nil, errors.Wrapf(ErrCorrupted, "constant %q has %d bytes, expected %d", rec.Name, len(rec.Payload), rec.Size)
		}
		data = rec.Payload
	}
	if crc32.ChecksumIEEE(data) != rec.Checksum {
		return nil, errors.Wrapf(ErrCorrupted, "checksum mismatch for constant %q", rec.Name)
	}
	return data, nil
}

// SaveFile is like Save, but writes to the file at path, replacing it atomically if it exists.
// A leading "~" in path is replaced by the home directory.
func SaveFile(ctx context.Context, path string, m *buffers.ConstBufferManager) (stats Stats, err error) {
	path, err = fsutil.ReplaceTildeInPath(path)
	if err != nil {
		return stats, errors.WithMessage(err, "constcache")
	}
	err = fsutil.WriteFileAtomically(path, func(w io.Writer) error {
		stats, err = Save(ctx, w, m)
		return err
	})
	return stats, err
}

// LoadFile is like Load, but reads from the file at path. A leading "~" in path is replaced by the home directory.
func LoadFile(ctx context.Context, path string, m *buffers.ConstBufferManager) (Stats, error) {
	path, err := fsutil.ReplaceTildeInPath(path)
	if err != nil {
		return Stats{}, errors.WithMessage(err, "constcache")
	}
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, errors.Wrapf(err, "constcache: opening %q", path)
	}
	defer func() { _ = f.Close() }()
	return Load(ctx, f, m)
}
