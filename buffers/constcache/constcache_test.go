package constcache_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"hash/crc32"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmbbc/plaidml/buffers"
	"github.com/vmbbc/plaidml/buffers/constcache"
	"github.com/vmbbc/plaidml/buffers/simple"
	"github.com/vmihailenco/msgpack/v5"
)

func newManager(t *testing.T, constants map[string][]byte) *buffers.ConstBufferManager {
	m := buffers.NewConstBufferManager(simple.Allocator{})
	for name, data := range constants {
		_, _, err := m.Materialize(context.Background(), name, data)
		require.NoError(t, err)
	}
	return m
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	random := make([]byte, 1000)
	must.M1(rand.Read(random))
	constants := map[string][]byte{
		"zeros":  make([]byte, 4096),
		"random": random,
		"empty":  {},
		"hello":  []byte("HELLO, WORLD!!!!"),
	}
	saved := newManager(t, constants)

	var stream bytes.Buffer
	stats, err := constcache.Save(ctx, &stream, saved)
	require.NoError(t, err)
	require.Equal(t, 4, stats.Constants)
	require.Equal(t, uint64(4096+1000+16), stats.RawBytes)
	assert.Less(t, stats.StoredBytes, stats.RawBytes)
	assert.Greater(t, stats.Ratio(), 1.0)

	loaded := buffers.NewConstBufferManager(simple.Allocator{})
	stats, err = constcache.Load(ctx, &stream, loaded)
	require.NoError(t, err)
	require.Equal(t, 4, stats.Constants)
	require.Equal(t, saved.Names(), loaded.Names())
	for name, data := range constants {
		buf, found := loaded.Lookup(name)
		require.True(t, found, name)
		got := must.M1(buffers.ReadAll(ctx, buf))
		if len(data) == 0 {
			require.Empty(t, got)
			continue
		}
		require.Equal(t, data, got, name)
	}
}

func TestLoad_ReusesRegistered(t *testing.T) {
	ctx := context.Background()
	var stream bytes.Buffer
	_ = must.M1(constcache.Save(ctx, &stream, newManager(t, map[string][]byte{"a": []byte("aaaa")})))

	m := newManager(t, map[string][]byte{"a": []byte("xxxx")})
	existing, _ := m.Lookup("a")
	_ = must.M1(constcache.Load(ctx, bytes.NewReader(stream.Bytes()), m))
	reloaded, _ := m.Lookup("a")
	require.Same(t, existing, reloaded)

	m = newManager(t, map[string][]byte{"a": []byte("xx")})
	_, err := constcache.Load(ctx, bytes.NewReader(stream.Bytes()), m)
	require.ErrorIs(t, err, buffers.ErrDuplicateName)
}

func TestLoad_Corrupted(t *testing.T) {
	ctx := context.Background()
	var stream bytes.Buffer
	_ = must.M1(constcache.Save(ctx, &stream, newManager(t, map[string][]byte{"zeros": make([]byte, 512)})))
	valid := stream.Bytes()

	load := func(data []byte) error {
		_, err := constcache.Load(ctx, bytes.NewReader(data), buffers.NewConstBufferManager(simple.Allocator{}))
		return err
	}
	require.NoError(t, load(valid))
	require.ErrorIs(t, load(nil), constcache.ErrCorrupted)
	require.ErrorIs(t, load(valid[:len(valid)-3]), constcache.ErrCorrupted)
	require.ErrorIs(t, load([]byte("not a cache")), constcache.ErrCorrupted)

	wrongMagic := must.M1(msgpack.Marshal(map[string]any{"m": "OTHER", "v": constcache.Version, "n": 0}))
	require.ErrorIs(t, load(wrongMagic), constcache.ErrCorrupted)

	stream = bytes.Buffer{}
	enc := msgpack.NewEncoder(&stream)
	withRecord := func(rec map[string]any) []byte {
		stream.Reset()
		must.M(enc.Encode(map[string]any{"m": constcache.Magic, "v": constcache.Version, "n": 1}))
		must.M(enc.Encode(rec))
		return bytes.Clone(stream.Bytes())
	}
	goodChecksum := crc32.ChecksumIEEE([]byte{1, 2, 3})
	require.NoError(t, load(withRecord(map[string]any{"n": "a", "s": 3, "p": []byte{1, 2, 3}, "c": goodChecksum})))
	require.ErrorIs(t, load(withRecord(map[string]any{"n": "a", "s": 3, "p": []byte{1, 2, 3}, "c": goodChecksum + 1})),
		constcache.ErrCorrupted)
	require.ErrorIs(t, load(withRecord(map[string]any{"n": "a", "s": 4, "p": []byte{1, 2, 3}, "c": goodChecksum})),
		constcache.ErrCorrupted)
	require.ErrorIs(t, load(withRecord(map[string]any{"n": "a", "s": 1 << 40, "z": true, "p": []byte{1, 2, 3}})),
		constcache.ErrCorrupted)
	require.ErrorIs(t, load(withRecord(map[string]any{"n": "a", "s": 3, "z": true, "p": []byte{0xff, 0xff}})),
		constcache.ErrCorrupted)
}

func TestSave_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var stream bytes.Buffer
	_, err := constcache.Save(ctx, &stream, newManager(t, map[string][]byte{"a": {1}}))
	require.ErrorIs(t, err, buffers.ErrCanceled)
	require.Equal(t, buffers.KindCanceled, buffers.KindOf(err))
}

func TestSaveLoadFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "constants.bin")
	_ = must.M1(constcache.SaveFile(ctx, path, newManager(t, map[string][]byte{"bias": {1, 2, 3}})))
	m := buffers.NewConstBufferManager(simple.Allocator{})
	stats := must.M1(constcache.LoadFile(ctx, path, m))
	require.Equal(t, 1, stats.Constants)
	buf, found := m.Lookup("bias")
	require.True(t, found)
	require.Equal(t, []byte{1, 2, 3}, must.M1(buffers.ReadAll(ctx, buf)))

	_, err := constcache.LoadFile(ctx, filepath.Join(t.TempDir(), "missing.bin"), m)
	require.Error(t, err)
}
