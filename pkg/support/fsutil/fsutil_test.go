package fsutil

import (
	"io"
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestReplaceTildeInPath(t *testing.T) {
	usr, err := user.Current()
	require.NoError(t, err)
	for path, want := range map[string]string{
		"":                 "",
		"/tmp/cache.bin":   "/tmp/cache.bin",
		"~":                usr.HomeDir,
		"~/cache.bin":      filepath.Join(usr.HomeDir, "cache.bin"),
		"relative/~/a.bin": "relative/~/a.bin",
	} {
		got, err := ReplaceTildeInPath(path)
		require.NoError(t, err)
		require.Equal(t, want, got, path)
	}
	_, err = ReplaceTildeInPath("~no_such_user_for_tests/cache.bin")
	require.Error(t, err)
}

func TestWriteFileAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.bin")
	require.NoError(t, WriteFileAtomically(path, func(w io.Writer) error {
		_, err := w.Write([]byte("first"))
		return err
	}))
	require.Equal(t, []byte("first"), must.M1(os.ReadFile(path)))

	// A failed write keeps the previous contents and leaves no temporary files.
	failure := errors.New("failed")
	err := WriteFileAtomically(path, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return failure
	})
	require.ErrorIs(t, err, failure)
	require.Equal(t, []byte("first"), must.M1(os.ReadFile(path)))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
